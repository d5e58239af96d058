// Package api holds the wire messages of the duoledger.v1 services.
//
// Messages travel as JSON over Connect (see package apiconnect). Amounts are
// decimal strings and timestamps are Unix milliseconds.
package api

// User is the public part of a user profile.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	PartnerUIDs []string `json:"partnerUids,omitempty"`
}

// Transaction is one expense between two partners.
type Transaction struct {
	ID           string `json:"id"`
	SenderUID    string `json:"senderUid"`
	ReceiverUID  string `json:"receiverUid"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Note         string `json:"note,omitempty"`
	AddedByUID   string `json:"addedByUid"`
	Timestamp    int64  `json:"timestamp"`
	IsDeleted    bool   `json:"isDeleted"`
	DeletedBy    string `json:"deletedBy,omitempty"`
	IsSettled    bool   `json:"isSettled"`
	SettlementID string `json:"settlementId,omitempty"`
}

// Settlement records a confirmed payment.
type Settlement struct {
	ID             string   `json:"id"`
	StartDate      int64    `json:"startDate"`
	EndDate        int64    `json:"endDate"`
	TotalAmount    string   `json:"totalAmount"`
	PayerUID       string   `json:"payerUid"`
	ReceiverUID    string   `json:"receiverUid"`
	TransactionIDs []string `json:"transactionIds"`
	Timestamp      int64    `json:"timestamp"`
	SettledByUID   string   `json:"settledByUid"`
}

// SettlementRequest asks a partner to confirm a payment.
type SettlementRequest struct {
	ID            string `json:"id"`
	SenderUID     string `json:"senderUid"`
	ReceiverUID   string `json:"receiverUid"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
}

// PartnerRequest invites a user to link accounts.
type PartnerRequest struct {
	ID        string `json:"id"`
	FromUID   string `json:"fromUid"`
	ToUID     string `json:"toUid"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

type ConfirmSettlementRequest struct {
	RequestID string `json:"requestId"`
	// Response is true to confirm and false to reject. It must be present.
	Response *bool `json:"response"`
}

type ConfirmSettlementResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

type DeleteAccountRequest struct{}

type DeleteAccountResponse struct {
	Success bool `json:"success"`
}

type CreateTransactionRequest struct {
	ReceiverUID string `json:"receiverUid"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Note        string `json:"note,omitempty"`
}

type CreateTransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type DeleteTransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

type DeleteTransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type CreateSettlementRequestRequest struct {
	ReceiverUID   string `json:"receiverUid"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type CreateSettlementRequestResponse struct {
	Request *SettlementRequest `json:"request"`
}

type ListSettlementsRequest struct{}

type ListSettlementsResponse struct {
	Settlements []*Settlement `json:"settlements"`
}

// Balance is the caller's standing in one currency. A positive Net means the
// partner owes the caller.
type Balance struct {
	Currency  string `json:"currency"`
	TotalPaid string `json:"totalPaid"`
	TotalOwed string `json:"totalOwed"`
	Net       string `json:"net"`
	Pending   string `json:"pending"`
}

// Debt is a payment that would clear one currency's balance.
type Debt struct {
	FromUID  string `json:"fromUid"`
	ToUID    string `json:"toUid"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type GetBalanceRequest struct {
	PartnerUID string `json:"partnerUid"`
}

type GetBalanceResponse struct {
	PartnerUID     string     `json:"partnerUid"`
	Balances       []*Balance `json:"balances"`
	Debts          []*Debt    `json:"debts"`
	UnsettledCount int        `json:"unsettledCount"`
}

type SendPartnerRequestRequest struct {
	ToUID string `json:"toUid"`
}

type SendPartnerRequestResponse struct {
	Request *PartnerRequest `json:"request"`
}

type RespondPartnerRequestRequest struct {
	RequestID string `json:"requestId"`
	Accept    *bool  `json:"accept"`
}

type RespondPartnerRequestResponse struct {
	Request *PartnerRequest `json:"request"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type RegisterResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
