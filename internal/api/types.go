package api

// CollectionResponse is one collection entry in GET /api/v1/collections.
type CollectionResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	ItemCount  int    `json:"item_count"`
	UpdatedAt  string `json:"updated_at"` // RFC3339
}

// CollectionsResponse is the payload for GET /api/v1/collections: the
// snapshot-or-error pair the engine guarantees to consumers.
type CollectionsResponse struct {
	Collections []CollectionResponse `json:"collections"`
	FetchedAt   string               `json:"fetched_at,omitempty"` // RFC3339
	Stale       bool                 `json:"stale"`
	Error       string               `json:"error,omitempty"`
}

// RefreshResponse is the payload for POST /api/v1/refresh.
type RefreshResponse struct {
	Outcome     string `json:"outcome"` // "refreshed" | "failed"
	Collections int    `json:"collections"`
	Error       string `json:"error,omitempty"`
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	State            string  `json:"state"`
	AgeSeconds       float64 `json:"age_seconds"`
	Collections      int     `json:"collections"`
	LastError        string  `json:"last_error,omitempty"`
	Fingerprint      string  `json:"fingerprint"`
	Subscribers      int     `json:"subscribers"`
	FetchesStarted   uint64  `json:"fetches_started"`
	FetchesJoined    uint64  `json:"fetches_joined"`
	FetchesDiscarded uint64  `json:"fetches_discarded"`
	FetchesFailed    uint64  `json:"fetches_failed"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
