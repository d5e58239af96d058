package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/pkg/api"
)

// LedgerServiceName is the fully-qualified name of the LedgerService service.
const LedgerServiceName = "duoledger.v1.LedgerService"

// Procedure paths of the LedgerService RPCs.
const (
	LedgerServiceConfirmSettlementProcedure       = "/duoledger.v1.LedgerService/ConfirmSettlement"
	LedgerServiceDeleteAccountProcedure           = "/duoledger.v1.LedgerService/DeleteAccount"
	LedgerServiceCreateTransactionProcedure       = "/duoledger.v1.LedgerService/CreateTransaction"
	LedgerServiceDeleteTransactionProcedure       = "/duoledger.v1.LedgerService/DeleteTransaction"
	LedgerServiceCreateSettlementRequestProcedure = "/duoledger.v1.LedgerService/CreateSettlementRequest"
	LedgerServiceListSettlementsProcedure         = "/duoledger.v1.LedgerService/ListSettlements"
	LedgerServiceGetBalanceProcedure              = "/duoledger.v1.LedgerService/GetBalance"
	LedgerServiceSendPartnerRequestProcedure      = "/duoledger.v1.LedgerService/SendPartnerRequest"
	LedgerServiceRespondPartnerRequestProcedure   = "/duoledger.v1.LedgerService/RespondPartnerRequest"
)

// LedgerServiceClient is a client for the duoledger.v1.LedgerService service.
type LedgerServiceClient interface {
	// ConfirmSettlement confirms or rejects a pending settlement request.
	ConfirmSettlement(context.Context, *connect.Request[api.ConfirmSettlementRequest]) (*connect.Response[api.ConfirmSettlementResponse], error)
	// DeleteAccount erases the caller's account and all data referencing it.
	DeleteAccount(context.Context, *connect.Request[api.DeleteAccountRequest]) (*connect.Response[api.DeleteAccountResponse], error)
	// CreateTransaction records an expense paid by the caller.
	CreateTransaction(context.Context, *connect.Request[api.CreateTransactionRequest]) (*connect.Response[api.CreateTransactionResponse], error)
	// DeleteTransaction soft-deletes an unsettled expense.
	DeleteTransaction(context.Context, *connect.Request[api.DeleteTransactionRequest]) (*connect.Response[api.DeleteTransactionResponse], error)
	// CreateSettlementRequest asks a partner to confirm a payment.
	CreateSettlementRequest(context.Context, *connect.Request[api.CreateSettlementRequestRequest]) (*connect.Response[api.CreateSettlementRequestResponse], error)
	// ListSettlements lists the caller's settlements, newest first.
	ListSettlements(context.Context, *connect.Request[api.ListSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error)
	// GetBalance sums the unsettled expenses between the caller and a partner.
	GetBalance(context.Context, *connect.Request[api.GetBalanceRequest]) (*connect.Response[api.GetBalanceResponse], error)
	// SendPartnerRequest invites a user to link accounts.
	SendPartnerRequest(context.Context, *connect.Request[api.SendPartnerRequestRequest]) (*connect.Response[api.SendPartnerRequestResponse], error)
	// RespondPartnerRequest accepts or rejects a partner invitation.
	RespondPartnerRequest(context.Context, *connect.Request[api.RespondPartnerRequestRequest]) (*connect.Response[api.RespondPartnerRequestResponse], error)
}

// NewLedgerServiceClient constructs a client for the duoledger.v1.LedgerService service.
// baseURL is the server root, e.g. http://localhost:8080.
func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) LedgerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{withCodec()}, opts...)
	return &ledgerServiceClient{
		confirmSettlement: connect.NewClient[api.ConfirmSettlementRequest, api.ConfirmSettlementResponse](
			httpClient,
			baseURL+LedgerServiceConfirmSettlementProcedure,
			opts...,
		),
		deleteAccount: connect.NewClient[api.DeleteAccountRequest, api.DeleteAccountResponse](
			httpClient,
			baseURL+LedgerServiceDeleteAccountProcedure,
			opts...,
		),
		createTransaction: connect.NewClient[api.CreateTransactionRequest, api.CreateTransactionResponse](
			httpClient,
			baseURL+LedgerServiceCreateTransactionProcedure,
			opts...,
		),
		deleteTransaction: connect.NewClient[api.DeleteTransactionRequest, api.DeleteTransactionResponse](
			httpClient,
			baseURL+LedgerServiceDeleteTransactionProcedure,
			opts...,
		),
		createSettlementRequest: connect.NewClient[api.CreateSettlementRequestRequest, api.CreateSettlementRequestResponse](
			httpClient,
			baseURL+LedgerServiceCreateSettlementRequestProcedure,
			opts...,
		),
		listSettlements: connect.NewClient[api.ListSettlementsRequest, api.ListSettlementsResponse](
			httpClient,
			baseURL+LedgerServiceListSettlementsProcedure,
			opts...,
		),
		getBalance: connect.NewClient[api.GetBalanceRequest, api.GetBalanceResponse](
			httpClient,
			baseURL+LedgerServiceGetBalanceProcedure,
			opts...,
		),
		sendPartnerRequest: connect.NewClient[api.SendPartnerRequestRequest, api.SendPartnerRequestResponse](
			httpClient,
			baseURL+LedgerServiceSendPartnerRequestProcedure,
			opts...,
		),
		respondPartnerRequest: connect.NewClient[api.RespondPartnerRequestRequest, api.RespondPartnerRequestResponse](
			httpClient,
			baseURL+LedgerServiceRespondPartnerRequestProcedure,
			opts...,
		),
	}
}

type ledgerServiceClient struct {
	confirmSettlement       *connect.Client[api.ConfirmSettlementRequest, api.ConfirmSettlementResponse]
	deleteAccount           *connect.Client[api.DeleteAccountRequest, api.DeleteAccountResponse]
	createTransaction       *connect.Client[api.CreateTransactionRequest, api.CreateTransactionResponse]
	deleteTransaction       *connect.Client[api.DeleteTransactionRequest, api.DeleteTransactionResponse]
	createSettlementRequest *connect.Client[api.CreateSettlementRequestRequest, api.CreateSettlementRequestResponse]
	listSettlements         *connect.Client[api.ListSettlementsRequest, api.ListSettlementsResponse]
	getBalance              *connect.Client[api.GetBalanceRequest, api.GetBalanceResponse]
	sendPartnerRequest      *connect.Client[api.SendPartnerRequestRequest, api.SendPartnerRequestResponse]
	respondPartnerRequest   *connect.Client[api.RespondPartnerRequestRequest, api.RespondPartnerRequestResponse]
}

func (c *ledgerServiceClient) ConfirmSettlement(ctx context.Context, req *connect.Request[api.ConfirmSettlementRequest]) (*connect.Response[api.ConfirmSettlementResponse], error) {
	return c.confirmSettlement.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) DeleteAccount(ctx context.Context, req *connect.Request[api.DeleteAccountRequest]) (*connect.Response[api.DeleteAccountResponse], error) {
	return c.deleteAccount.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) CreateTransaction(ctx context.Context, req *connect.Request[api.CreateTransactionRequest]) (*connect.Response[api.CreateTransactionResponse], error) {
	return c.createTransaction.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) DeleteTransaction(ctx context.Context, req *connect.Request[api.DeleteTransactionRequest]) (*connect.Response[api.DeleteTransactionResponse], error) {
	return c.deleteTransaction.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) CreateSettlementRequest(ctx context.Context, req *connect.Request[api.CreateSettlementRequestRequest]) (*connect.Response[api.CreateSettlementRequestResponse], error) {
	return c.createSettlementRequest.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) ListSettlements(ctx context.Context, req *connect.Request[api.ListSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error) {
	return c.listSettlements.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) GetBalance(ctx context.Context, req *connect.Request[api.GetBalanceRequest]) (*connect.Response[api.GetBalanceResponse], error) {
	return c.getBalance.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) SendPartnerRequest(ctx context.Context, req *connect.Request[api.SendPartnerRequestRequest]) (*connect.Response[api.SendPartnerRequestResponse], error) {
	return c.sendPartnerRequest.CallUnary(ctx, req)
}

func (c *ledgerServiceClient) RespondPartnerRequest(ctx context.Context, req *connect.Request[api.RespondPartnerRequestRequest]) (*connect.Response[api.RespondPartnerRequestResponse], error) {
	return c.respondPartnerRequest.CallUnary(ctx, req)
}

// LedgerServiceHandler is implemented by servers of the duoledger.v1.LedgerService service.
type LedgerServiceHandler interface {
	ConfirmSettlement(context.Context, *connect.Request[api.ConfirmSettlementRequest]) (*connect.Response[api.ConfirmSettlementResponse], error)
	DeleteAccount(context.Context, *connect.Request[api.DeleteAccountRequest]) (*connect.Response[api.DeleteAccountResponse], error)
	CreateTransaction(context.Context, *connect.Request[api.CreateTransactionRequest]) (*connect.Response[api.CreateTransactionResponse], error)
	DeleteTransaction(context.Context, *connect.Request[api.DeleteTransactionRequest]) (*connect.Response[api.DeleteTransactionResponse], error)
	CreateSettlementRequest(context.Context, *connect.Request[api.CreateSettlementRequestRequest]) (*connect.Response[api.CreateSettlementRequestResponse], error)
	ListSettlements(context.Context, *connect.Request[api.ListSettlementsRequest]) (*connect.Response[api.ListSettlementsResponse], error)
	GetBalance(context.Context, *connect.Request[api.GetBalanceRequest]) (*connect.Response[api.GetBalanceResponse], error)
	SendPartnerRequest(context.Context, *connect.Request[api.SendPartnerRequestRequest]) (*connect.Response[api.SendPartnerRequestResponse], error)
	RespondPartnerRequest(context.Context, *connect.Request[api.RespondPartnerRequestRequest]) (*connect.Response[api.RespondPartnerRequestResponse], error)
}

// NewLedgerServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewLedgerServiceHandler(svc LedgerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{withCodec()}, opts...)
	confirmSettlementHandler := connect.NewUnaryHandler(
		LedgerServiceConfirmSettlementProcedure,
		svc.ConfirmSettlement,
		opts...,
	)
	deleteAccountHandler := connect.NewUnaryHandler(
		LedgerServiceDeleteAccountProcedure,
		svc.DeleteAccount,
		opts...,
	)
	createTransactionHandler := connect.NewUnaryHandler(
		LedgerServiceCreateTransactionProcedure,
		svc.CreateTransaction,
		opts...,
	)
	deleteTransactionHandler := connect.NewUnaryHandler(
		LedgerServiceDeleteTransactionProcedure,
		svc.DeleteTransaction,
		opts...,
	)
	createSettlementRequestHandler := connect.NewUnaryHandler(
		LedgerServiceCreateSettlementRequestProcedure,
		svc.CreateSettlementRequest,
		opts...,
	)
	listSettlementsHandler := connect.NewUnaryHandler(
		LedgerServiceListSettlementsProcedure,
		svc.ListSettlements,
		opts...,
	)
	getBalanceHandler := connect.NewUnaryHandler(
		LedgerServiceGetBalanceProcedure,
		svc.GetBalance,
		opts...,
	)
	sendPartnerRequestHandler := connect.NewUnaryHandler(
		LedgerServiceSendPartnerRequestProcedure,
		svc.SendPartnerRequest,
		opts...,
	)
	respondPartnerRequestHandler := connect.NewUnaryHandler(
		LedgerServiceRespondPartnerRequestProcedure,
		svc.RespondPartnerRequest,
		opts...,
	)
	return "/duoledger.v1.LedgerService/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case LedgerServiceConfirmSettlementProcedure:
			confirmSettlementHandler.ServeHTTP(w, r)
		case LedgerServiceDeleteAccountProcedure:
			deleteAccountHandler.ServeHTTP(w, r)
		case LedgerServiceCreateTransactionProcedure:
			createTransactionHandler.ServeHTTP(w, r)
		case LedgerServiceDeleteTransactionProcedure:
			deleteTransactionHandler.ServeHTTP(w, r)
		case LedgerServiceCreateSettlementRequestProcedure:
			createSettlementRequestHandler.ServeHTTP(w, r)
		case LedgerServiceListSettlementsProcedure:
			listSettlementsHandler.ServeHTTP(w, r)
		case LedgerServiceGetBalanceProcedure:
			getBalanceHandler.ServeHTTP(w, r)
		case LedgerServiceSendPartnerRequestProcedure:
			sendPartnerRequestHandler.ServeHTTP(w, r)
		case LedgerServiceRespondPartnerRequestProcedure:
			respondPartnerRequestHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
