package storage

import (
	"context"

	"adwatch/pkg/models"
)

// ProjectStore handles saved-search projects.
type ProjectStore interface {
	// CreateProject inserts a project and fills its ID and CreatedAt
	CreateProject(ctx context.Context, p *models.Project) error

	// GetProject retrieves a project by ID. Returns utils.ErrNotFound when absent
	GetProject(ctx context.Context, id int64) (*models.Project, error)

	// UpdateProject persists name, search URL, notes and active flag
	UpdateProject(ctx context.Context, p *models.Project) error

	// ListProjects returns a user's projects, newest first
	ListProjects(ctx context.Context, userID int64) ([]models.Project, error)

	// ListActiveProjects returns a user's active projects, newest first
	ListActiveProjects(ctx context.Context, userID int64) ([]models.Project, error)
}

// SnapshotStore handles per-project aggregate snapshots.
type SnapshotStore interface {
	// CreateSnapshot inserts an immutable snapshot and fills its ID and TakenAt
	CreateSnapshot(ctx context.Context, s *models.Snapshot) error

	// ListSnapshots returns a project's snapshots, newest first
	ListSnapshots(ctx context.Context, projectID int64, limit, offset int) ([]models.Snapshot, error)
}

// AdStore handles deduplicated ad identities and their observation history.
type AdStore interface {
	// UpsertAd inserts the ad or, when its external ID is already known,
	// bumps last_seen_at and refreshes the mutable fields. Fills ad.ID and
	// reports whether the identity was newly created
	UpsertAd(ctx context.Context, ad *models.Ad) (created bool, err error)

	// CreateAdSnapshots bulk-inserts observation rows for one crawl
	CreateAdSnapshots(ctx context.Context, snaps []models.AdSnapshot) error

	// LastSeenAds returns external ID -> ad ID for every ad observed active
	// in the project's most recent snapshot
	LastSeenAds(ctx context.Context, projectID int64) (map[string]int64, error)

	// CreateProjectStats inserts the per-crawl aggregate metrics row
	CreateProjectStats(ctx context.Context, st *models.ProjectStats) error
}

// ReportFilter narrows report listings.
type ReportFilter struct {
	Status    models.ReportStatus // Zero value = any status
	QueryLike string              // Substring match on the query URL
	Limit     int
	Offset    int
}

// ReportStore handles ad-hoc reports and their items.
type ReportStore interface {
	// CreateReport inserts a report in running state and fills ID and CreatedAt
	CreateReport(ctx context.Context, r *models.Report) error

	// FinalizeReportDone transitions a running report to done, storing its
	// aggregates and bulk-inserting its items in one transaction. Fails with
	// utils.ErrDatabase if the report is not in running state: a finalized
	// report never changes again
	FinalizeReportDone(ctx context.Context, reportID int64, st models.PriceStats, items []models.ReportItem) error

	// FinalizeReportError transitions a running report to error with a
	// human-readable message. No items are kept for a failed report
	FinalizeReportError(ctx context.Context, reportID int64, msg string) error

	// GetReport retrieves a report by ID. Returns utils.ErrNotFound when absent
	GetReport(ctx context.Context, id int64) (*models.Report, error)

	// GetReportItems returns a report's items ordered by position
	GetReportItems(ctx context.Context, reportID int64) ([]models.ReportItem, error)

	// ListReports returns the total match count and one page of reports,
	// newest first
	ListReports(ctx context.Context, f ReportFilter) (total int, reports []models.Report, err error)
}

// Store combines all relational store interfaces for components that need
// full access.
type Store interface {
	ProjectStore
	SnapshotStore
	AdStore
	ReportStore

	// Close cleanly closes the database connection
	Close() error
}
