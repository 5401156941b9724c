package receipts

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// jwsTransactionPayload mirrors the fields of a StoreKit signed transaction
// this service cares about.
type jwsTransactionPayload struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId"`
}

// decodeJWSPayload extracts the claims segment of a JWS compact blob without
// verifying the signature. Signature and status checks belong to the remote
// verification call; this decode only yields the identifiers to verify.
func decodeJWSPayload(signed string) (jwsTransactionPayload, bool) {
	parts := strings.Split(strings.TrimSpace(signed), ".")
	if len(parts) != 3 {
		return jwsTransactionPayload{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return jwsTransactionPayload{}, false
	}

	var payload jwsTransactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return jwsTransactionPayload{}, false
	}
	if payload.TransactionID == "" || payload.ProductID == "" {
		return jwsTransactionPayload{}, false
	}

	return payload, true
}
