package receipts

import (
	"context"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// GoogleVerifier checks a Play Billing purchase token against the remote
// purchase-status endpoint.
type GoogleVerifier struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[verifyResponse]
	logger   *zap.Logger
}

type googleVerifyRequest struct {
	PurchaseToken string `json:"purchase_token"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
}

func NewGoogleVerifier(endpoint string, client *http.Client, logger *zap.Logger) *GoogleVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GoogleVerifier{
		endpoint: endpoint,
		client:   client,
		breaker:  newVerifyBreaker("google-verify"),
		logger:   logger,
	}
}

func (v *GoogleVerifier) Verify(ctx context.Context, proof Proof) (Purchase, error) {
	token := strings.TrimSpace(proof.PurchaseToken)
	orderID := strings.TrimSpace(proof.OrderID)
	if token == "" || orderID == "" {
		return Purchase{}, ErrInvalidProof
	}

	result, err := postVerify(ctx, v.client, v.breaker, v.endpoint, googleVerifyRequest{
		PurchaseToken: token,
		OrderID:       orderID,
		ProductID:     strings.TrimSpace(proof.ProductID),
	})
	if err != nil {
		v.logger.Warn("google purchase verification unavailable", zap.Error(err))
		return Purchase{}, err
	}
	if !result.Valid || result.TransactionID == "" || result.ProductID == "" {
		v.logger.Info("google purchase rejected", zap.String("reason", result.Reason))
		return Purchase{}, ErrInvalidProof
	}

	return Purchase{
		ProductID:             result.ProductID,
		TransactionID:         result.TransactionID,
		OriginalTransactionID: result.OriginalTransactionID,
	}, nil
}
