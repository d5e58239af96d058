// Package models defines the core domain models for the ledger.
//
// # Entities
//
//   - User: a registered account and its partner links
//   - Transaction: an expense one partner records against the other
//   - SettlementRequest: a proposal that the counterparty confirms or rejects
//   - Settlement: the immutable record produced by a confirmed request
//   - PartnerRequest: an invitation to link two accounts
//   - Identity: login credentials held by the identity provider
//
// # Documents
//
// Every entity is persisted as a storage document. Each model has a Fields
// method for encoding and a FromDoc constructor for decoding. Decoding is
// strict: a document missing a required field is rejected with
// ErrInvalidDocument instead of being filled with defaults. The only
// defaulted fields are the isDeleted and isSettled flags, which read as false
// when absent.
//
// Amounts are decimal values stored as strings; timestamps are Unix
// milliseconds.
package models

import "github.com/google/uuid"

// NewID returns a fresh document ID (UUID format).
func NewID() string {
	return uuid.New().String()
}
