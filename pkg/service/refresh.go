package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"adwatch/pkg/models"
	"adwatch/pkg/stats"
	"adwatch/pkg/utils"
)

// RefreshOutcome summarizes one project refresh.
type RefreshOutcome struct {
	ProjectID  int64
	SnapshotID int64
	ItemsCount int
	NewCount   int
	GoneCount  int
}

// RefreshProject crawls a project's search URL and records the run: a price
// snapshot, one observation row per listing, appended gone rows for ads that
// dropped out since the previous crawl, and the new/gone counts.
func (s *Service) RefreshProject(ctx context.Context, projectID int64) (*RefreshOutcome, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}

	runKey := uuid.NewString()
	refreshLog := s.log.WithFields(logrus.Fields{
		"project_id": project.ID,
		"run_key":    runKey,
	})
	refreshLog.Info("Project refresh started")

	searchURL := s.normalizer.Normalize(project.SearchURL)
	maxPages := s.cfg.ClampMaxPages(0)

	// The diff baseline must be read before this run writes anything
	lastSeen, err := s.store.LastSeenAds(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load previous observations: %w", err)
	}

	res := s.crawler.Crawl(ctx, searchURL, maxPages)
	s.savePayloads(runKey, res.Pages, refreshLog)

	st := stats.Compute(collectPrices(res.Listings))
	snapshot := &models.Snapshot{
		ProjectID:   project.ID,
		ItemsCount:  len(res.Listings),
		MinPrice:    st.Min,
		AvgPrice:    st.Mean,
		MaxPrice:    st.Max,
		MedianPrice: st.Median,
		P25Price:    st.P25,
		P75Price:    st.P75,
		PayloadKey:  runKey,
	}
	if !s.cfg.Storage.KeepPayloads {
		snapshot.PayloadKey = ""
	}
	if err := s.store.CreateSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	adSnaps, newCount, err := s.observeListings(ctx, project.ID, snapshot.ID, res.Listings, lastSeen)
	if err != nil {
		return nil, err
	}
	goneSnaps := goneObservations(project.ID, snapshot.ID, res.Listings, lastSeen)
	adSnaps = append(adSnaps, goneSnaps...)

	if err := s.store.CreateAdSnapshots(ctx, adSnaps); err != nil {
		return nil, fmt.Errorf("record observations: %w", err)
	}

	pstats := &models.ProjectStats{
		ProjectID:  project.ID,
		SnapshotID: snapshot.ID,
		ItemsCount: len(res.Listings),
		NewCount:   newCount,
		GoneCount:  len(goneSnaps),
	}
	if err := s.store.CreateProjectStats(ctx, pstats); err != nil {
		return nil, fmt.Errorf("record project stats: %w", err)
	}

	refreshLog.WithFields(logrus.Fields{
		"items": len(res.Listings),
		"new":   newCount,
		"gone":  len(goneSnaps),
	}).Info("Project refresh done")

	return &RefreshOutcome{
		ProjectID:  project.ID,
		SnapshotID: snapshot.ID,
		ItemsCount: len(res.Listings),
		NewCount:   newCount,
		GoneCount:  len(goneSnaps),
	}, nil
}

// observeListings upserts each listing's ad identity and builds its active
// observation row. Listings whose URL did not yield an external ID are
// counted in the snapshot aggregates but have no identity to track, so they
// are skipped here.
func (s *Service) observeListings(
	ctx context.Context,
	projectID, snapshotID int64,
	listings []models.Listing,
	lastSeen map[string]int64,
) ([]models.AdSnapshot, int, error) {
	now := time.Now().UTC()
	snaps := make([]models.AdSnapshot, 0, len(listings))
	newCount := 0

	for _, l := range listings {
		if l.ExternalID == "" {
			continue
		}
		ad := &models.Ad{
			ExternalID: l.ExternalID,
			Title:      l.Title,
			URL:        l.URL,
			SellerID:   l.SellerID,
			SellerName: l.SellerName,
			Location:   l.Location,
		}
		if _, err := s.store.UpsertAd(ctx, ad); err != nil {
			return nil, 0, fmt.Errorf("upsert ad %s: %w", l.ExternalID, err)
		}
		// New means new to this project's previous crawl, not new to the
		// whole system: an ad first seen in another project still counts
		if _, seen := lastSeen[l.ExternalID]; !seen {
			newCount++
		}
		snaps = append(snaps, models.AdSnapshot{
			AdID:        ad.ID,
			ProjectID:   projectID,
			SnapshotID:  snapshotID,
			Price:       l.Price,
			Currency:    l.Currency,
			Position:    l.Position,
			Status:      models.AdSnapshotStatusActive,
			CollectedAt: now,
		})
	}
	return snaps, newCount, nil
}

// goneObservations builds appended gone rows for ads that were active in the
// previous crawl but absent from this one. History stays append-only: the old
// active rows are untouched.
func goneObservations(projectID, snapshotID int64, listings []models.Listing, lastSeen map[string]int64) []models.AdSnapshot {
	current := make(map[string]struct{}, len(listings))
	for _, l := range listings {
		if l.ExternalID != "" {
			current[l.ExternalID] = struct{}{}
		}
	}

	now := time.Now().UTC()
	var gone []models.AdSnapshot
	for externalID, adID := range lastSeen {
		if _, ok := current[externalID]; ok {
			continue
		}
		gone = append(gone, models.AdSnapshot{
			AdID:        adID,
			ProjectID:   projectID,
			SnapshotID:  snapshotID,
			Status:      models.AdSnapshotStatusGone,
			CollectedAt: now,
		})
	}
	return gone
}

// RefreshSummary aggregates a refresh-all batch.
type RefreshSummary struct {
	Refreshed int
	Failed    int
}

// RefreshAllActiveProjects refreshes every active project of a user with
// bounded parallelism. One project's failure is logged and counted but does
// not stop the others.
func (s *Service) RefreshAllActiveProjects(ctx context.Context, userID int64) (*RefreshSummary, error) {
	projects, err := s.store.ListActiveProjects(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}

	summary := &RefreshSummary{}
	outcomes := make([]bool, len(projects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Crawl.RefreshWorkers)
	for i, p := range projects {
		g.Go(func() error {
			if _, err := s.RefreshProject(gctx, p.ID); err != nil {
				s.log.WithFields(logrus.Fields{
					"project_id": p.ID,
					"category":   utils.CategorizeError(err),
				}).Errorf("Project refresh failed: %v", err)
				return nil
			}
			outcomes[i] = true
			return nil
		})
	}
	// Workers never return errors, so Wait only propagates ctx cancellation
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, ok := range outcomes {
		if ok {
			summary.Refreshed++
		} else {
			summary.Failed++
		}
	}
	s.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"refreshed": summary.Refreshed,
		"failed":    summary.Failed,
	}).Info("Refresh-all finished")
	return summary, nil
}
