package models

// CollectRequest is the payload for POST /api/v1/collect.
type CollectRequest struct {
	// Sources are the search terms to collect. Required, at least one.
	Sources []string `json:"sources" binding:"required,min=1,dive,required"`

	// LimitPerSource caps the records kept per term.
	// Default: 100. Range: 1-500.
	LimitPerSource int `json:"limit_per_source,omitempty" binding:"omitempty,min=1,max=500"`

	// MaxPagesPerSource caps the search pages fetched per term.
	// Default: 3. Range: 1-10.
	MaxPagesPerSource int `json:"max_pages_per_source,omitempty" binding:"omitempty,min=1,max=10"`

	// DelayBetweenRequests is the pause in seconds between pages and between terms.
	// Default: 1.5. Range: 0.5-5.0.
	DelayBetweenRequests float64 `json:"delay_between_requests,omitempty" binding:"omitempty,min=0.5,max=5"`

	// Persist loads collected records into the store.
	// Default: true.
	Persist *bool `json:"persist,omitempty"`

	// WebhookURL receives a signed event when the run finishes.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs webhook payloads (HMAC-SHA256).
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *CollectRequest) Defaults() {
	if r.LimitPerSource == 0 {
		r.LimitPerSource = 100
	}
	if r.MaxPagesPerSource == 0 {
		r.MaxPagesPerSource = 3
	}
	if r.DelayBetweenRequests == 0 {
		r.DelayBetweenRequests = 1.5
	}
	if r.Persist == nil {
		t := true
		r.Persist = &t
	}
}

// ShouldPersist reports whether records should be loaded into the store.
func (r *CollectRequest) ShouldPersist() bool {
	return r.Persist == nil || *r.Persist
}
