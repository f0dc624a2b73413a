package models

import "time"

// Listing is one extracted marketplace ad as seen on a search-result page.
// Fields other than Title and URL are best-effort: an empty string or nil
// price means the card did not expose that field.
type Listing struct {
	ExternalID string `json:"external_id,omitempty"` // Marketplace-assigned ad ID (empty if the URL did not match the ID pattern)
	Title      string `json:"title"`
	URL        string `json:"url"`
	Price      *int64 `json:"price,omitempty"` // nil when no plausible price was parsed
	Currency   string `json:"currency,omitempty"`
	SellerID   string `json:"seller_id,omitempty"`
	SellerName string `json:"seller_name,omitempty"`
	Location   string `json:"location,omitempty"`
	Position   int    `json:"position"` // 1-based rank across the whole run, continuous across pages
	Page       int    `json:"page"`     // 1-based page index the listing was found on
}

// PriceStats summarizes a collection of parsed prices.
// A zero-value PriceStats (Count == 0, all prices 0) is the valid result for
// an empty input, never an error.
type PriceStats struct {
	Count  int   `json:"count"`
	Min    int64 `json:"min"`
	Max    int64 `json:"max"`
	Mean   int64 `json:"mean"`
	Median int64 `json:"median"`
	P25    int64 `json:"p25"`
	P75    int64 `json:"p75"`
}

// Project is a saved search refreshed repeatedly over time.
type Project struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	SearchURL string    `json:"search_url"`
	Notes     string    `json:"notes,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is one point-in-time aggregate result of refreshing a Project.
// Immutable once created.
type Snapshot struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	TakenAt     time.Time `json:"taken_at"`
	ItemsCount  int       `json:"items_count"`
	MinPrice    int64     `json:"min_price"`
	AvgPrice    int64     `json:"avg_price"`
	MaxPrice    int64     `json:"max_price"`
	MedianPrice int64     `json:"median_price"`
	P25Price    int64     `json:"p25_price"`
	P75Price    int64     `json:"p75_price"`
	PayloadKey  string    `json:"payload_key,omitempty"` // Key of the raw page bodies in the payload store
}

// Ad is a deduplicated marketplace listing identity, tracked across crawls.
// ExternalID is unique across the whole system, not per project.
type Ad struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	SellerID    string    `json:"seller_id,omitempty"`
	SellerName  string    `json:"seller_name,omitempty"`
	Location    string    `json:"location,omitempty"`
	Category    string    `json:"category,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// AdSnapshot is one observation of an Ad within one Project's crawl.
// Rows are append-only; a disappeared ad gets a new row with StatusGone
// rather than an update to its history.
type AdSnapshot struct {
	ID          int64            `json:"id"`
	AdID        int64            `json:"ad_id"`
	ProjectID   int64            `json:"project_id"`
	SnapshotID  int64            `json:"snapshot_id"`
	Price       *int64           `json:"price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Position    int              `json:"position"`
	Status      AdSnapshotStatus `json:"status"`
	CollectedAt time.Time        `json:"collected_at"`
}

// ProjectStats holds aggregate metrics for one crawl of a Project,
// including the new/gone counts produced by ad diffing.
type ProjectStats struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"project_id"`
	SnapshotID int64     `json:"snapshot_id"`
	ItemsCount int       `json:"items_count"`
	NewCount   int       `json:"new_count"`
	GoneCount  int       `json:"gone_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Report is an ad-hoc, project-independent crawl invocation with an explicit
// lifecycle: created running, finalized exactly once to done or error.
type Report struct {
	ID         int64        `json:"id"`
	Source     string       `json:"source"`
	QueryURL   string       `json:"query_url"`
	Status     ReportStatus `json:"status"`
	Error      string       `json:"error,omitempty"` // Non-empty iff Status == ReportStatusError
	ItemsCount int          `json:"items_count"`
	MinPrice   int64        `json:"min_price"`
	AvgPrice   int64        `json:"avg_price"`
	MaxPrice   int64        `json:"max_price"`
	Note       string       `json:"note,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ReportItem is one listing captured within a Report. Immutable, written in
// bulk with the owning Report's transition to done.
type ReportItem struct {
	ID         int64  `json:"id"`
	ReportID   int64  `json:"report_id"`
	ExternalID string `json:"external_id,omitempty"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Price      *int64 `json:"price,omitempty"`
	Currency   string `json:"currency,omitempty"`
	SellerID   string `json:"seller_id,omitempty"`
	SellerName string `json:"seller_name,omitempty"`
	Location   string `json:"location,omitempty"`
	Position   int    `json:"position"`
	Page       int    `json:"page"`
}
