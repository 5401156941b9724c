package receipts

import (
	"context"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// AppleVerifier validates StoreKit signed transactions against the remote
// verification endpoint before trusting any field of the client payload.
type AppleVerifier struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[verifyResponse]
	logger   *zap.Logger
}

type appleVerifyRequest struct {
	SignedTransaction string `json:"signed_transaction"`
	SignedRenewalInfo string `json:"signed_renewal_info,omitempty"`
}

func NewAppleVerifier(endpoint string, client *http.Client, logger *zap.Logger) *AppleVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AppleVerifier{
		endpoint: endpoint,
		client:   client,
		breaker:  newVerifyBreaker("apple-verify"),
		logger:   logger,
	}
}

func (v *AppleVerifier) Verify(ctx context.Context, proof Proof) (Purchase, error) {
	signed := strings.TrimSpace(proof.SignedTransaction)
	if signed == "" {
		return Purchase{}, ErrInvalidProof
	}
	// Reject garbage before spending a remote round trip on it.
	if _, ok := decodeJWSPayload(signed); !ok {
		return Purchase{}, ErrInvalidProof
	}

	result, err := postVerify(ctx, v.client, v.breaker, v.endpoint, appleVerifyRequest{
		SignedTransaction: signed,
		SignedRenewalInfo: strings.TrimSpace(proof.SignedRenewalInfo),
	})
	if err != nil {
		v.logger.Warn("apple receipt verification unavailable", zap.Error(err))
		return Purchase{}, err
	}
	if !result.Valid || result.TransactionID == "" || result.ProductID == "" {
		v.logger.Info("apple receipt rejected", zap.String("reason", result.Reason))
		return Purchase{}, ErrInvalidProof
	}

	return Purchase{
		ProductID:             result.ProductID,
		TransactionID:         result.TransactionID,
		OriginalTransactionID: result.OriginalTransactionID,
	}, nil
}
