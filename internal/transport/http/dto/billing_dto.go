package dto

type VerifyPurchaseRequest struct {
	Platform          string `json:"platform"`
	ProductID         string `json:"product_id"`
	SignedTransaction string `json:"signed_transaction,omitempty"`
	SignedRenewalInfo string `json:"signed_renewal_info,omitempty"`
	PurchaseToken     string `json:"purchase_token,omitempty"`
	OrderID           string `json:"order_id,omitempty"`
	JobPostID         *int64 `json:"job_post_id,omitempty"`
}

type VerifyPurchaseResponse struct {
	OK               bool                `json:"ok"`
	AlreadyProcessed bool                `json:"already_processed"`
	Entitlement      EntitlementResponse `json:"entitlement"`
}

type RestorePurchasesRequest struct {
	Platform string `json:"platform"`
}

type RestorePurchasesResponse struct {
	RestoredCount int                   `json:"restored_count"`
	Entitlements  []RestoredEntitlement `json:"entitlements"`
}

type RestoredEntitlement struct {
	Entitlement EntitlementResponse `json:"entitlement"`
	JobPost     *JobPostSummary     `json:"job_post,omitempty"`
}

type JobPostSummary struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type ProductResponse struct {
	ProductID string `json:"product_id"`
	Platform  string `json:"platform"`
	PlanKey   string `json:"plan_key"`
}

type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
}
