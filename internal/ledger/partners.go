package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/duoledger/internal/apperr"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// SendPartnerRequest invites another user to link accounts with the caller.
// At most one pending request may exist between two users, in either direction.
func (l *Ledger) SendPartnerRequest(ctx context.Context, callerUID, toUID string) (*models.PartnerRequest, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}
	if toUID == "" || toUID == callerUID {
		return nil, apperr.New(apperr.InvalidArgument, "a different user is required")
	}

	p := &models.PartnerRequest{
		ID:        l.newID(),
		FromUID:   callerUID,
		ToUID:     toUID,
		Status:    models.StatusPending,
		CreatedAt: l.now(),
	}
	err := l.runTx(ctx, "send_partner_request", func(ctx context.Context, tx storage.Tx) error {
		caller, err := loadUser(ctx, tx, callerUID)
		if err != nil {
			return err
		}
		if _, err := loadUser(ctx, tx, toUID); err != nil {
			return err
		}
		if caller.HasPartner(toUID) {
			return apperr.New(apperr.FailedPrecondition, "already linked with %s", toUID)
		}
		for _, pair := range [][2]string{{callerUID, toUID}, {toUID, callerUID}} {
			pending, err := tx.Query(ctx, storage.Where(storage.CollectionPartnerRequests, models.FieldFromUID, pair[0]).
				And(models.FieldToUID, pair[1]).
				And(models.FieldStatus, string(models.StatusPending)).
				WithLimit(1))
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return apperr.New(apperr.FailedPrecondition, "a partner request from %s to %s is already pending", pair[0], pair[1])
			}
		}
		tx.Create(p.Ref(), p.Fields())
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Partner request sent", "request_id", p.ID, "from", p.FromUID, "to", p.ToUID)
	l.events.PartnerRequested(ctx, p)
	return p, nil
}

// RespondPartnerRequest accepts or rejects a pending partner request
// addressed to the caller. Accepting links both users symmetrically.
func (l *Ledger) RespondPartnerRequest(ctx context.Context, callerUID, requestID string, accept bool) (*models.PartnerRequest, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}
	if requestID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "requestId is required")
	}

	var answered *models.PartnerRequest
	err := l.runTx(ctx, "respond_partner_request", func(ctx context.Context, tx storage.Tx) error {
		doc, err := tx.Get(ctx, models.PartnerRequestRef(requestID))
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.NotFound, "partner request %s not found", requestID)
		}
		if err != nil {
			return err
		}
		p, err := models.PartnerRequestFromDoc(doc)
		if err != nil {
			return err
		}
		if p.ToUID != callerUID {
			return apperr.New(apperr.PermissionDenied, "partner request %s is not addressed to you", requestID)
		}
		if p.Status != models.StatusPending {
			return apperr.New(apperr.FailedPrecondition, "partner request %s is already %s", requestID, p.Status)
		}

		if !accept {
			tx.Update(p.Ref(), models.StatusUpdate(models.StatusRejected))
			p.Status = models.StatusRejected
			answered = p
			return nil
		}

		// Both profiles must still exist before linking them.
		for _, uid := range []string{p.FromUID, p.ToUID} {
			if _, err := loadUser(ctx, tx, uid); err != nil {
				if apperr.Is(err, apperr.NotFound) {
					return apperr.New(apperr.FailedPrecondition, "user %s no longer exists", uid)
				}
				return err
			}
		}
		tx.Update(models.UserRef(p.FromUID), storage.AddToArray(models.FieldPartnerUIDs, p.ToUID))
		tx.Update(models.UserRef(p.ToUID), storage.AddToArray(models.FieldPartnerUIDs, p.FromUID))
		tx.Update(p.Ref(), models.StatusUpdate(models.StatusAccepted))
		p.Status = models.StatusAccepted
		answered = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Partner request answered", "request_id", requestID, "status", answered.Status)
	return answered, nil
}
