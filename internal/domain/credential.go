package domain

import "time"

// Credential is the per-tenant secret used against the external tracker API.
// During a rotation grace window the previous secret still authenticates
// inbound callers; outbound calls always use the current secret.
type Credential struct {
	TenantID       string
	CurrentSecret  string
	PreviousSecret string
	RotatedAt      time.Time
	APIBase        string
}

// PreviousValidAt reports whether the previous secret is still inside the
// grace window at the given instant.
func (c Credential) PreviousValidAt(now time.Time, grace time.Duration) bool {
	if c.PreviousSecret == "" || c.RotatedAt.IsZero() {
		return false
	}
	return now.Sub(c.RotatedAt) <= grace
}
