package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker/v2"
)

// verifyResponse is the contract of the internal verification proxy that
// fronts the real App Store / Play Store APIs.
type verifyResponse struct {
	Valid                 bool    `json:"valid"`
	ProductID             string  `json:"product_id"`
	TransactionID         string  `json:"transaction_id"`
	OriginalTransactionID *string `json:"original_transaction_id,omitempty"`
	Reason                string  `json:"reason,omitempty"`
}

func newVerifyBreaker(name string) *gobreaker.CircuitBreaker[verifyResponse] {
	return gobreaker.NewCircuitBreaker[verifyResponse](gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// postVerify performs the remote validation call. Network failures, 5xx
// responses and an open breaker all surface as ErrVerificationUnavailable;
// only a definitive platform answer may produce ErrInvalidProof.
func postVerify(
	ctx context.Context,
	client *http.Client,
	breaker *gobreaker.CircuitBreaker[verifyResponse],
	endpoint string,
	payload any,
) (verifyResponse, error) {
	if client == nil {
		return verifyResponse{}, fmt.Errorf("http client is nil")
	}
	if endpoint == "" {
		return verifyResponse{}, fmt.Errorf("verification endpoint is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("marshal verification request: %w", err)
	}

	result, err := breaker.Execute(func() (verifyResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return verifyResponse{}, fmt.Errorf("build verification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return verifyResponse{}, fmt.Errorf("call verification endpoint: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			return verifyResponse{}, fmt.Errorf("verification endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			// A definitive 4xx from the platform is a rejection, not an
			// outage: it must not trip the breaker.
			return verifyResponse{Valid: false, Reason: fmt.Sprintf("status %d", resp.StatusCode)}, nil
		}

		var decoded verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return verifyResponse{}, fmt.Errorf("decode verification response: %w", err)
		}
		return decoded, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return verifyResponse{}, ErrVerificationUnavailable
		}
		return verifyResponse{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	return result, nil
}
