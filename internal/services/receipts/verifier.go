package receipts

import (
	"context"
	"errors"

	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
)

var (
	// ErrInvalidProof means the proof is malformed or the platform rejected
	// it; the client should re-purchase or re-fetch the receipt, not retry.
	ErrInvalidProof = errors.New("invalid purchase proof")
	// ErrVerificationUnavailable means the platform verification endpoint
	// could not be reached; safe to retry with backoff.
	ErrVerificationUnavailable = errors.New("verification service unavailable")
)

// Proof is the untrusted client payload. Apple clients send the signed
// transaction JWS (plus the renewal JWS for subscriptions); Google clients
// send the purchase token and order id.
type Proof struct {
	Platform          enums.Platform
	ProductID         string
	SignedTransaction string
	SignedRenewalInfo string
	PurchaseToken     string
	OrderID           string
}

// Purchase is the normalized, trusted result of verification. Its fields —
// not the client's — feed catalog resolution and entitlement issuance.
type Purchase struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID *string
}

type Verifier interface {
	Verify(ctx context.Context, proof Proof) (Purchase, error)
}
