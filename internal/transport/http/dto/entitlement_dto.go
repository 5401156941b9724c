package dto

import "time"

type EntitlementResponse struct {
	ID                  int64     `json:"id"`
	JobPostID           *int64    `json:"job_post_id,omitempty"`
	PlanKey             string    `json:"plan_key"`
	Source              string    `json:"source"`
	MaxEdits            int       `json:"max_edits"`
	EditsUsed           int       `json:"edits_used"`
	EditsRemaining      int       `json:"edits_remaining"`
	AllowCategoryChange bool      `json:"allow_category_change"`
	MaxCategoryChanges  int       `json:"max_category_changes"`
	CategoryChangesUsed int       `json:"category_changes_used"`
	ExpiresAt           time.Time `json:"expires_at"`
	Status              string    `json:"status"`
}

type EntitlementListResponse struct {
	Entitlements []EntitlementResponse `json:"entitlements"`
}

type AttachJobPostRequest struct {
	JobPostID int64 `json:"job_post_id"`
}
