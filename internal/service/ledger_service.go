package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/ledger"
	"github.com/mmynk/duoledger/internal/middleware"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/pkg/api"
	"github.com/mmynk/duoledger/pkg/api/apiconnect"
)

var (
	errMissingResponse = errors.New("response is required and must be a boolean")
	errMissingAccept   = errors.New("accept is required and must be a boolean")
)

// AccountEraser removes an account and everything that references it.
type AccountEraser interface {
	EraseAccount(ctx context.Context, uid string) error
}

// LedgerService implements the Connect LedgerService.
// The caller is always the user ID the auth interceptor put in the context.
type LedgerService struct {
	ledger *ledger.Ledger
	eraser AccountEraser
}

var _ apiconnect.LedgerServiceHandler = (*LedgerService)(nil)

// NewLedgerService creates a LedgerService.
func NewLedgerService(l *ledger.Ledger, eraser AccountEraser) *LedgerService {
	return &LedgerService{ledger: l, eraser: eraser}
}

// ConfirmSettlement handles the receiver's answer to a settlement request.
func (s *LedgerService) ConfirmSettlement(ctx context.Context, req *connect.Request[api.ConfirmSettlementRequest]) (*connect.Response[api.ConfirmSettlementResponse], error) {
	caller := middleware.GetUserID(ctx)
	if req.Msg.Response == nil {
		return nil, invalidArgument(errMissingResponse)
	}
	slog.Debug("ConfirmSettlement", "user_id", caller, "request_id", req.Msg.RequestID, "accept", *req.Msg.Response)

	status, err := s.ledger.Confirm(ctx, caller, req.Msg.RequestID, *req.Msg.Response)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.ConfirmSettlementResponse{
		Success: true,
		Status:  status.String(),
	}), nil
}

// DeleteAccount erases the caller's account.
func (s *LedgerService) DeleteAccount(ctx context.Context, req *connect.Request[api.DeleteAccountRequest]) (*connect.Response[api.DeleteAccountResponse], error) {
	caller := middleware.GetUserID(ctx)
	slog.Info("DeleteAccount", "user_id", caller)

	if err := s.eraser.EraseAccount(ctx, caller); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.DeleteAccountResponse{Success: true}), nil
}

// CreateTransaction records an expense paid by the caller.
func (s *LedgerService) CreateTransaction(ctx context.Context, req *connect.Request[api.CreateTransactionRequest]) (*connect.Response[api.CreateTransactionResponse], error) {
	amount, err := models.ParseAmount(req.Msg.Amount)
	if err != nil {
		return nil, invalidArgument(err)
	}

	t, err := s.ledger.CreateTransaction(ctx, middleware.GetUserID(ctx), ledger.NewTransaction{
		ReceiverUID: req.Msg.ReceiverUID,
		Amount:      amount,
		Currency:    req.Msg.Currency,
		Note:        req.Msg.Note,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.CreateTransactionResponse{Transaction: toAPITransaction(t)}), nil
}

// DeleteTransaction soft-deletes an unsettled expense.
func (s *LedgerService) DeleteTransaction(ctx context.Context, req *connect.Request[api.DeleteTransactionRequest]) (*connect.Response[api.DeleteTransactionResponse], error) {
	t, err := s.ledger.DeleteTransaction(ctx, middleware.GetUserID(ctx), req.Msg.TransactionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.DeleteTransactionResponse{Transaction: toAPITransaction(t)}), nil
}

// CreateSettlementRequest asks a partner to confirm a payment.
func (s *LedgerService) CreateSettlementRequest(ctx context.Context, req *connect.Request[api.CreateSettlementRequestRequest]) (*connect.Response[api.CreateSettlementRequestResponse], error) {
	amount, err := models.ParseAmount(req.Msg.Amount)
	if err != nil {
		return nil, invalidArgument(err)
	}

	r, err := s.ledger.CreateSettlementRequest(ctx, middleware.GetUserID(ctx), ledger.NewSettlementRequest{
		ReceiverUID:   req.Msg.ReceiverUID,
		Amount:        amount,
		Currency:      req.Msg.Currency,
		TransactionID: req.Msg.TransactionID,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.CreateSettlementRequestResponse{Request: toAPISettlementRequest(r)}), nil
}

// ListSettlements returns the caller's settlements, newest first.
func (s *LedgerService) ListSettlements(ctx context.Context, req *connect.Request[api.ListSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	settlements, err := s.ledger.ListSettlements(ctx, middleware.GetUserID(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}

	out := make([]*api.Settlement, 0, len(settlements))
	for _, st := range settlements {
		out = append(out, toAPISettlement(st))
	}
	return connect.NewResponse(&api.ListSettlementsResponse{Settlements: out}), nil
}

// GetBalance returns what the caller and a partner owe each other.
func (s *LedgerService) GetBalance(ctx context.Context, req *connect.Request[api.GetBalanceRequest]) (*connect.Response[api.GetBalanceResponse], error) {
	b, err := s.ledger.Balance(ctx, middleware.GetUserID(ctx), req.Msg.PartnerUID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toAPIBalance(b)), nil
}

// SendPartnerRequest invites another user to link accounts.
func (s *LedgerService) SendPartnerRequest(ctx context.Context, req *connect.Request[api.SendPartnerRequestRequest]) (*connect.Response[api.SendPartnerRequestResponse], error) {
	p, err := s.ledger.SendPartnerRequest(ctx, middleware.GetUserID(ctx), req.Msg.ToUID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.SendPartnerRequestResponse{Request: toAPIPartnerRequest(p)}), nil
}

// RespondPartnerRequest answers a partner invitation addressed to the caller.
func (s *LedgerService) RespondPartnerRequest(ctx context.Context, req *connect.Request[api.RespondPartnerRequestRequest]) (*connect.Response[api.RespondPartnerRequestResponse], error) {
	if req.Msg.Accept == nil {
		return nil, invalidArgument(errMissingAccept)
	}
	p, err := s.ledger.RespondPartnerRequest(ctx, middleware.GetUserID(ctx), req.Msg.RequestID, *req.Msg.Accept)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.RespondPartnerRequestResponse{Request: toAPIPartnerRequest(p)}), nil
}
