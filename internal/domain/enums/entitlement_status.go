package enums

type EntitlementStatus string

const (
	EntitlementStatusActive  EntitlementStatus = "active"
	EntitlementStatusExpired EntitlementStatus = "expired"
	EntitlementStatusRevoked EntitlementStatus = "revoked"
)
