package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// Notification types understood by the mobile client.
const (
	TypeNewExpense          = "new_expense"
	TypeDeleteExpense       = "delete_expense"
	TypeSettlementRequest   = "settlement_request"
	TypeSettlementRejected  = "settlement_rejected"
	TypeSettlementCompleted = "settlement_completed"
	TypePartnerRequest      = "partner_request"
)

const (
	fallbackName     = "Partner"
	fallbackCurrency = models.DefaultCurrency
	defaultTimeout   = 5 * time.Second
	clickAction      = "FLUTTER_NOTIFICATION_CLICK"
)

// Notifier implements ledger.Events.
type Notifier struct {
	users      storage.Reader
	dispatcher Dispatcher
	timeout    time.Duration
}

// NewNotifier creates a Notifier that reads profiles from users.
func NewNotifier(users storage.Reader, dispatcher Dispatcher) *Notifier {
	return &Notifier{users: users, dispatcher: dispatcher, timeout: defaultTimeout}
}

// WithTimeout bounds each dispatch. Non-positive values keep the default.
func (n *Notifier) WithTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.timeout = d
	}
	return n
}

func (n *Notifier) TransactionCreated(ctx context.Context, t *models.Transaction) {
	n.send(ctx, t.SenderUID, t.ReceiverUID, func(sender string) Message {
		return Message{
			Title: "New Expense Added",
			Body:  fmt.Sprintf("%s added %s%s for you. Note: %s", sender, t.Amount.String(), currency(t.Currency), t.Note),
			Type:  TypeNewExpense,
			Data:  map[string]string{"transactionId": t.ID},
		}
	})
}

// TransactionDeleted notifies the party that did not delete the transaction.
func (n *Notifier) TransactionDeleted(ctx context.Context, t *models.Transaction) {
	actor, target := t.SenderUID, t.ReceiverUID
	if t.DeletedBy == t.ReceiverUID {
		actor, target = t.ReceiverUID, t.SenderUID
	}
	n.send(ctx, actor, target, func(sender string) Message {
		return Message{
			Title: "Transaction Deleted",
			Body:  fmt.Sprintf("Transaction deleted by %s. Your balance has been updated.", sender),
			Type:  TypeDeleteExpense,
			Data:  map[string]string{"transactionId": t.ID},
		}
	})
}

func (n *Notifier) SettlementRequested(ctx context.Context, r *models.SettlementRequest) {
	n.send(ctx, r.SenderUID, r.ReceiverUID, func(sender string) Message {
		return Message{
			Title: "Settlement Request",
			Body:  fmt.Sprintf("%s says they paid you %s%s. Please confirm.", sender, r.Amount.String(), currency(r.Currency)),
			Type:  TypeSettlementRequest,
			Data:  map[string]string{"requestId": r.ID},
		}
	})
}

func (n *Notifier) SettlementRejected(ctx context.Context, r *models.SettlementRequest) {
	n.send(ctx, r.ReceiverUID, r.SenderUID, func(sender string) Message {
		return Message{
			Title: "Settlement Rejected",
			Body:  fmt.Sprintf("%s did not confirm your payment of %s%s.", sender, r.Amount.String(), currency(r.Currency)),
			Type:  TypeSettlementRejected,
			Data:  map[string]string{"requestId": r.ID},
		}
	})
}

func (n *Notifier) SettlementCompleted(ctx context.Context, s *models.Settlement) {
	n.send(ctx, s.ReceiverUID, s.PayerUID, func(sender string) Message {
		return Message{
			Title: "Settlement Confirmed",
			Body:  fmt.Sprintf("%s confirmed your payment of %s. You are all square.", sender, s.TotalAmount.String()),
			Type:  TypeSettlementCompleted,
			Data:  map[string]string{"settlementId": s.ID},
		}
	})
}

func (n *Notifier) PartnerRequested(ctx context.Context, p *models.PartnerRequest) {
	n.send(ctx, p.FromUID, p.ToUID, func(sender string) Message {
		return Message{
			Title: "New Partner Request",
			Body:  fmt.Sprintf("%s wants to share expenses with you.", sender),
			Type:  TypePartnerRequest,
			Data:  map[string]string{"requestId": p.ID},
		}
	})
}

// send resolves the sender's name and the target's device token, then
// dispatches. Nothing is sent when the target is gone or has no token.
func (n *Notifier) send(ctx context.Context, fromUID, targetUID string, build func(senderName string) Message) {
	// The triggering request may finish before delivery does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	target, err := n.user(ctx, targetUID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("Failed to load notification target", "uid", targetUID, "error", err)
		} else {
			slog.Debug("Notification target not found", "uid", targetUID)
		}
		return
	}
	if target.FCMToken == "" {
		slog.Debug("No FCM token for notification target", "uid", targetUID)
		return
	}

	senderName := fallbackName
	if sender, err := n.user(ctx, fromUID); err == nil && sender.DisplayName != "" {
		senderName = sender.DisplayName
	}

	msg := build(senderName)
	msg.TargetUID = targetUID
	msg.Token = target.FCMToken
	if msg.Data == nil {
		msg.Data = make(map[string]string)
	}
	msg.Data["click_action"] = clickAction
	msg.Data["type"] = msg.Type

	if err := n.dispatcher.Dispatch(ctx, msg); err != nil {
		slog.Error("Failed to send notification", "type", msg.Type, "target", targetUID, "error", err)
		return
	}
	slog.Debug("Notification sent", "type", msg.Type, "target", targetUID)
}

func (n *Notifier) user(ctx context.Context, uid string) (*models.User, error) {
	if uid == "" {
		return nil, storage.ErrNotFound
	}
	doc, err := n.users.Get(ctx, models.UserRef(uid))
	if err != nil {
		return nil, err
	}
	return models.UserFromDoc(doc)
}

func currency(c string) string {
	if c == "" {
		return fallbackCurrency
	}
	return c
}
