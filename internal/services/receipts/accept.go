package receipts

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
)

// AcceptAllVerifier trusts client payloads without any remote validation.
// Development fallback only: it exists so the purchase flow can be exercised
// against sandbox clients without store credentials, and must never be wired
// in a production build.
type AcceptAllVerifier struct {
	logger *zap.Logger
}

func NewAcceptAllVerifier(logger *zap.Logger) *AcceptAllVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("accept-all receipt verifier enabled; purchases are NOT validated against the store")

	return &AcceptAllVerifier{logger: logger}
}

func (v *AcceptAllVerifier) Verify(_ context.Context, proof Proof) (Purchase, error) {
	if proof.Platform == enums.PlatformAndroid {
		orderID := strings.TrimSpace(proof.OrderID)
		if orderID == "" {
			orderID = strings.TrimSpace(proof.PurchaseToken)
		}
		if orderID == "" || strings.TrimSpace(proof.ProductID) == "" {
			return Purchase{}, ErrInvalidProof
		}
		return Purchase{
			ProductID:     strings.TrimSpace(proof.ProductID),
			TransactionID: orderID,
		}, nil
	}

	payload, ok := decodeJWSPayload(proof.SignedTransaction)
	if !ok {
		return Purchase{}, ErrInvalidProof
	}

	purchase := Purchase{
		ProductID:     payload.ProductID,
		TransactionID: payload.TransactionID,
	}
	if payload.OriginalTransactionID != "" && payload.OriginalTransactionID != payload.TransactionID {
		original := payload.OriginalTransactionID
		purchase.OriginalTransactionID = &original
	}

	return purchase, nil
}
