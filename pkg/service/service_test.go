package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
	"adwatch/pkg/crawl"
	"adwatch/pkg/models"
	"adwatch/pkg/parse"
	"adwatch/pkg/storage"
	"adwatch/pkg/utils"
)

// memStore is an in-memory storage.Store for service tests. Method-level
// failure injection mimics database trouble at specific lifecycle points.
type memStore struct {
	mu sync.Mutex

	projects     map[int64]*models.Project
	snapshots    []models.Snapshot
	ads          map[string]*models.Ad // external ID -> ad
	adSnapshots  []models.AdSnapshot
	projectStats []models.ProjectStats
	reports      map[int64]*models.Report
	reportItems  map[int64][]models.ReportItem
	nextID       int64

	failFinalizeDone  bool
	failFinalizeError bool
	failCreateReport  bool
	failAdSnapshots   bool
}

func newMemStore() *memStore {
	return &memStore{
		projects:    make(map[int64]*models.Project),
		ads:         make(map[string]*models.Ad),
		reports:     make(map[int64]*models.Report),
		reportItems: make(map[int64][]models.ReportItem),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	p.CreatedAt = time.Now()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memStore) GetProject(_ context.Context, id int64) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %d", utils.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return fmt.Errorf("%w: project %d", utils.ErrNotFound, p.ID)
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memStore) ListProjects(_ context.Context, userID int64) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveProjects(_ context.Context, userID int64) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Project
	for _, p := range m.projects {
		if p.UserID == userID && p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) CreateSnapshot(_ context.Context, s *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	s.TakenAt = time.Now()
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *memStore) ListSnapshots(_ context.Context, projectID int64, limit, offset int) ([]models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Snapshot
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].ProjectID == projectID {
			out = append(out, m.snapshots[i])
		}
	}
	return out, nil
}

func (m *memStore) UpsertAd(_ context.Context, ad *models.Ad) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.ads[ad.ExternalID]; ok {
		existing.Title = ad.Title
		existing.URL = ad.URL
		existing.LastSeenAt = time.Now()
		ad.ID = existing.ID
		return false, nil
	}
	ad.ID = m.id()
	ad.FirstSeenAt = time.Now()
	ad.LastSeenAt = ad.FirstSeenAt
	cp := *ad
	m.ads[ad.ExternalID] = &cp
	return true, nil
}

func (m *memStore) CreateAdSnapshots(_ context.Context, snaps []models.AdSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdSnapshots {
		return fmt.Errorf("%w: injected failure", utils.ErrDatabase)
	}
	m.adSnapshots = append(m.adSnapshots, snaps...)
	return nil
}

func (m *memStore) LastSeenAds(_ context.Context, projectID int64) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Latest snapshot for the project
	var latest int64
	for _, s := range m.snapshots {
		if s.ProjectID == projectID && s.ID > latest {
			latest = s.ID
		}
	}
	out := make(map[string]int64)
	if latest == 0 {
		return out, nil
	}
	for _, as := range m.adSnapshots {
		if as.SnapshotID != latest || as.Status != models.AdSnapshotStatusActive {
			continue
		}
		for extID, ad := range m.ads {
			if ad.ID == as.AdID {
				out[extID] = ad.ID
			}
		}
	}
	return out, nil
}

func (m *memStore) CreateProjectStats(_ context.Context, st *models.ProjectStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.ID = m.id()
	st.CreatedAt = time.Now()
	m.projectStats = append(m.projectStats, *st)
	return nil
}

func (m *memStore) CreateReport(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateReport {
		return fmt.Errorf("%w: injected failure", utils.ErrDatabase)
	}
	r.ID = m.id()
	r.CreatedAt = time.Now()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memStore) FinalizeReportDone(_ context.Context, reportID int64, st models.PriceStats, items []models.ReportItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinalizeDone {
		return fmt.Errorf("%w: injected failure", utils.ErrDatabase)
	}
	r, ok := m.reports[reportID]
	if !ok {
		return fmt.Errorf("%w: report %d", utils.ErrNotFound, reportID)
	}
	if r.Status != models.ReportStatusRunning {
		return fmt.Errorf("%w: report %d is %s, not running", utils.ErrDatabase, reportID, r.Status)
	}
	r.Status = models.ReportStatusDone
	r.ItemsCount = len(items)
	r.MinPrice = st.Min
	r.AvgPrice = st.Mean
	r.MaxPrice = st.Max
	m.reportItems[reportID] = append([]models.ReportItem(nil), items...)
	return nil
}

func (m *memStore) FinalizeReportError(_ context.Context, reportID int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinalizeError {
		return fmt.Errorf("%w: injected failure", utils.ErrDatabase)
	}
	r, ok := m.reports[reportID]
	if !ok {
		return fmt.Errorf("%w: report %d", utils.ErrNotFound, reportID)
	}
	if r.Status != models.ReportStatusRunning {
		return fmt.Errorf("%w: report %d is %s, not running", utils.ErrDatabase, reportID, r.Status)
	}
	r.Status = models.ReportStatusError
	r.Error = msg
	return nil
}

func (m *memStore) GetReport(_ context.Context, id int64) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: report %d", utils.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetReportItems(_ context.Context, reportID int64) ([]models.ReportItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ReportItem(nil), m.reportItems[reportID]...), nil
}

func (m *memStore) ListReports(_ context.Context, f storage.ReportFilter) (int, []models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Report
	for _, r := range m.reports {
		if f.Status != models.ReportStatusUnset && r.Status != f.Status {
			continue
		}
		out = append(out, *r)
	}
	return len(out), out, nil
}

func (m *memStore) Close() error { return nil }

// fakeCrawler returns queued results, one per Crawl call; the last result
// repeats when the queue runs dry.
type fakeCrawler struct {
	mu      sync.Mutex
	queue   []crawl.Result
	crawled []string
}

func (c *fakeCrawler) Crawl(_ context.Context, searchURL string, _ int) crawl.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crawled = append(c.crawled, searchURL)
	if len(c.queue) == 0 {
		return crawl.Result{}
	}
	res := c.queue[0]
	if len(c.queue) > 1 {
		c.queue = c.queue[1:]
	}
	return res
}

func listing(extID string, pos int, price int64) models.Listing {
	return models.Listing{
		ExternalID: extID,
		Title:      "item " + extID,
		URL:        "https://www.olx.ua/obyavlenie/item-ID" + extID + ".html",
		Price:      &price,
		Currency:   "UAH",
		Position:   pos,
		Page:       1,
	}
}

func newTestService(t *testing.T, store storage.Store, crawler Crawler) *Service {
	t.Helper()
	cfg := config.Default()
	log := logrus.New()
	log.SetOutput(io.Discard)
	normalizer := parse.NewNormalizer(cfg.Marketplace, cfg.Crawl.PageParam)
	return New(store, nil, crawler, normalizer, cfg, log)
}
