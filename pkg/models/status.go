package models

// ReportStatus represents the lifecycle state of a Report.
// A report is created running and transitions exactly once to done or error.
type ReportStatus string

const (
	ReportStatusUnset   ReportStatus = ""        // Zero value = unset/unknown
	ReportStatusRunning ReportStatus = "running" // Crawl in progress
	ReportStatusDone    ReportStatus = "done"    // Finalized with aggregates populated
	ReportStatusError   ReportStatus = "error"   // Finalized with a human-readable message
)

// String implements fmt.Stringer for logging
func (s ReportStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusRunning, ReportStatusDone, ReportStatusError:
		return true
	}
	return false
}

// IsTerminal returns true once the report can never change again
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusDone || s == ReportStatusError
}

// AdSnapshotStatus represents the observation status of an ad within a crawl.
type AdSnapshotStatus string

const (
	AdSnapshotStatusActive AdSnapshotStatus = "active" // Observed in the current crawl
	AdSnapshotStatusGone   AdSnapshotStatus = "gone"   // Present in the previous crawl, absent now
	AdSnapshotStatusHidden AdSnapshotStatus = "hidden" // Delisted/hidden by the marketplace
)

// String implements fmt.Stringer for logging
func (s AdSnapshotStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s AdSnapshotStatus) IsValid() bool {
	switch s {
	case AdSnapshotStatusActive, AdSnapshotStatusGone, AdSnapshotStatusHidden:
		return true
	}
	return false
}
