package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

const pingRetries = 10

// PostgresStore implements Store on PostgreSQL via database/sql + lib/pq.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewPostgresStore opens a connection, waits for the database to come up,
// runs the self-migration, and returns a ready-to-use store.
func NewPostgresStore(dsn string, logger *logrus.Entry) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", utils.ErrDatabase, err)
	}

	for i := 0; i < pingRetries; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ping failed after retries: %v", utils.ErrDatabase, err)
	}

	s := &PostgresStore{db: db, log: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", utils.ErrDatabase, err)
	}
	logger.Info("Postgres store ready")
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id          BIGSERIAL PRIMARY KEY,
			user_id     BIGINT      NOT NULL,
			name        TEXT        NOT NULL,
			search_url  TEXT        NOT NULL,
			notes       TEXT        NOT NULL DEFAULT '',
			is_active   BOOLEAN     NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);

		CREATE TABLE IF NOT EXISTS snapshots (
			id           BIGSERIAL PRIMARY KEY,
			project_id   BIGINT      NOT NULL REFERENCES projects(id),
			taken_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			items_count  INTEGER     NOT NULL DEFAULT 0,
			min_price    BIGINT      NOT NULL DEFAULT 0,
			avg_price    BIGINT      NOT NULL DEFAULT 0,
			max_price    BIGINT      NOT NULL DEFAULT 0,
			median_price BIGINT      NOT NULL DEFAULT 0,
			p25_price    BIGINT      NOT NULL DEFAULT 0,
			p75_price    BIGINT      NOT NULL DEFAULT 0,
			payload_key  TEXT        NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_project ON snapshots(project_id, taken_at DESC);

		CREATE TABLE IF NOT EXISTS ads (
			id            BIGSERIAL PRIMARY KEY,
			external_id   TEXT        UNIQUE NOT NULL,
			title         TEXT        NOT NULL DEFAULT '',
			url           TEXT        NOT NULL DEFAULT '',
			seller_id     TEXT        NOT NULL DEFAULT '',
			seller_name   TEXT        NOT NULL DEFAULT '',
			location      TEXT        NOT NULL DEFAULT '',
			category      TEXT        NOT NULL DEFAULT '',
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ad_snapshots (
			id           BIGSERIAL PRIMARY KEY,
			ad_id        BIGINT      NOT NULL REFERENCES ads(id),
			project_id   BIGINT      NOT NULL REFERENCES projects(id),
			snapshot_id  BIGINT      NOT NULL REFERENCES snapshots(id),
			price        BIGINT,
			currency     TEXT        NOT NULL DEFAULT '',
			position     INTEGER     NOT NULL DEFAULT 0,
			status       TEXT        NOT NULL DEFAULT 'active',
			collected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ad_snapshots_project ON ad_snapshots(project_id, snapshot_id);

		CREATE TABLE IF NOT EXISTS project_stats (
			id          BIGSERIAL PRIMARY KEY,
			project_id  BIGINT      NOT NULL REFERENCES projects(id),
			snapshot_id BIGINT      NOT NULL REFERENCES snapshots(id),
			items_count INTEGER     NOT NULL DEFAULT 0,
			new_count   INTEGER     NOT NULL DEFAULT 0,
			gone_count  INTEGER     NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS reports (
			id          BIGSERIAL PRIMARY KEY,
			source      TEXT        NOT NULL DEFAULT 'olx',
			query_url   TEXT        NOT NULL,
			status      TEXT        NOT NULL DEFAULT 'running',
			error       TEXT        NOT NULL DEFAULT '',
			items_count INTEGER     NOT NULL DEFAULT 0,
			min_price   BIGINT      NOT NULL DEFAULT 0,
			avg_price   BIGINT      NOT NULL DEFAULT 0,
			max_price   BIGINT      NOT NULL DEFAULT 0,
			note        TEXT        NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);

		CREATE TABLE IF NOT EXISTS report_items (
			id          BIGSERIAL PRIMARY KEY,
			report_id   BIGINT  NOT NULL REFERENCES reports(id),
			external_id TEXT    NOT NULL DEFAULT '',
			title       TEXT    NOT NULL DEFAULT '',
			url         TEXT    NOT NULL DEFAULT '',
			price       BIGINT,
			currency    TEXT    NOT NULL DEFAULT '',
			seller_id   TEXT    NOT NULL DEFAULT '',
			seller_name TEXT    NOT NULL DEFAULT '',
			location    TEXT    NOT NULL DEFAULT '',
			position    INTEGER NOT NULL DEFAULT 0,
			page        INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_report_items_report ON report_items(report_id, position);
	`)
	return err
}

// Close cleanly closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- ProjectStore ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (user_id, name, search_url, notes, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, p.UserID, p.Name, p.SearchURL, p.Notes, p.IsActive).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create project: %v", utils.ErrDatabase, err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, search_url, notes, is_active, created_at
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.Name, &p.SearchURL, &p.Notes, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %d", utils.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get project: %v", utils.ErrDatabase, err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = $2, search_url = $3, notes = $4, is_active = $5
		WHERE id = $1
	`, p.ID, p.Name, p.SearchURL, p.Notes, p.IsActive)
	if err != nil {
		return fmt.Errorf("%w: update project: %v", utils.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: project %d", utils.ErrNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	return s.listProjects(ctx, `
		SELECT id, user_id, name, search_url, notes, is_active, created_at
		FROM projects WHERE user_id = $1 ORDER BY id DESC
	`, userID)
}

func (s *PostgresStore) ListActiveProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	return s.listProjects(ctx, `
		SELECT id, user_id, name, search_url, notes, is_active, created_at
		FROM projects WHERE user_id = $1 AND is_active ORDER BY id DESC
	`, userID)
}

func (s *PostgresStore) listProjects(ctx context.Context, query string, userID int64) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list projects: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.SearchURL, &p.Notes, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan project: %v", utils.ErrDatabase, err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- SnapshotStore ---

func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO snapshots (project_id, items_count, min_price, avg_price, max_price,
		                       median_price, p25_price, p75_price, payload_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, taken_at
	`, snap.ProjectID, snap.ItemsCount, snap.MinPrice, snap.AvgPrice, snap.MaxPrice,
		snap.MedianPrice, snap.P25Price, snap.P75Price, snap.PayloadKey).Scan(&snap.ID, &snap.TakenAt)
	if err != nil {
		return fmt.Errorf("%w: create snapshot: %v", utils.ErrDatabase, err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, projectID int64, limit, offset int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, taken_at, items_count, min_price, avg_price, max_price,
		       median_price, p25_price, p75_price, payload_key
		FROM snapshots WHERE project_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var sn models.Snapshot
		if err := rows.Scan(&sn.ID, &sn.ProjectID, &sn.TakenAt, &sn.ItemsCount, &sn.MinPrice,
			&sn.AvgPrice, &sn.MaxPrice, &sn.MedianPrice, &sn.P25Price, &sn.P75Price, &sn.PayloadKey); err != nil {
			return nil, fmt.Errorf("%w: scan snapshot: %v", utils.ErrDatabase, err)
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// --- AdStore ---

func (s *PostgresStore) UpsertAd(ctx context.Context, ad *models.Ad) (bool, error) {
	// xmax = 0 distinguishes a fresh insert from a conflict-update
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ads (external_id, title, url, seller_id, seller_name, location, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			seller_id = EXCLUDED.seller_id,
			seller_name = EXCLUDED.seller_name,
			location = EXCLUDED.location,
			last_seen_at = NOW()
		RETURNING id, first_seen_at, last_seen_at, (xmax = 0)
	`, ad.ExternalID, ad.Title, ad.URL, ad.SellerID, ad.SellerName, ad.Location, ad.Category).
		Scan(&ad.ID, &ad.FirstSeenAt, &ad.LastSeenAt, &created)
	if err != nil {
		return false, fmt.Errorf("%w: upsert ad: %v", utils.ErrDatabase, err)
	}
	return created, nil
}

func (s *PostgresStore) CreateAdSnapshots(ctx context.Context, snaps []models.AdSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const cols = 8
	valueStrings := make([]string, 0, len(snaps))
	valueArgs := make([]interface{}, 0, len(snaps)*cols)
	for i, sn := range snaps {
		base := i * cols
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		valueArgs = append(valueArgs,
			sn.AdID, sn.ProjectID, sn.SnapshotID, nullInt64(sn.Price), sn.Currency,
			sn.Position, string(sn.Status), sn.CollectedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO ad_snapshots (ad_id, project_id, snapshot_id, price, currency, position, status, collected_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := s.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("%w: create ad snapshots: %v", utils.ErrDatabase, err)
	}
	return nil
}

func (s *PostgresStore) LastSeenAds(ctx context.Context, projectID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.external_id, a.id
		FROM ad_snapshots asn
		JOIN ads a ON a.id = asn.ad_id
		WHERE asn.project_id = $1
		  AND asn.status = 'active'
		  AND asn.snapshot_id = (
			SELECT id FROM snapshots WHERE project_id = $1
			ORDER BY taken_at DESC, id DESC LIMIT 1
		  )
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: last seen ads: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	seen := make(map[string]int64)
	for rows.Next() {
		var externalID string
		var adID int64
		if err := rows.Scan(&externalID, &adID); err != nil {
			return nil, fmt.Errorf("%w: scan last seen ad: %v", utils.ErrDatabase, err)
		}
		seen[externalID] = adID
	}
	return seen, rows.Err()
}

func (s *PostgresStore) CreateProjectStats(ctx context.Context, st *models.ProjectStats) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO project_stats (project_id, snapshot_id, items_count, new_count, gone_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, st.ProjectID, st.SnapshotID, st.ItemsCount, st.NewCount, st.GoneCount).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create project stats: %v", utils.ErrDatabase, err)
	}
	return nil
}

// --- ReportStore ---

func (s *PostgresStore) CreateReport(ctx context.Context, r *models.Report) error {
	if r.Status == models.ReportStatusUnset {
		r.Status = models.ReportStatusRunning
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (source, query_url, status, note)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, r.Source, r.QueryURL, string(r.Status), r.Note).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create report: %v", utils.ErrDatabase, err)
	}
	return nil
}

// FinalizeReportDone writes items and aggregates and flips the status to done
// in a single transaction, guarded on the report still being in running state.
// No observer can see a done report without its aggregates, and a finalized
// report never transitions again.
func (s *PostgresStore) FinalizeReportDone(ctx context.Context, reportID int64, st models.PriceStats, items []models.ReportItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE reports
		SET status = 'done', items_count = $2, min_price = $3, avg_price = $4, max_price = $5
		WHERE id = $1 AND status = 'running'
	`, reportID, len(items), st.Min, st.Mean, st.Max)
	if err != nil {
		return fmt.Errorf("%w: finalize report: %v", utils.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: report %d is not running, refusing to finalize", utils.ErrDatabase, reportID)
	}

	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO report_items (report_id, external_id, title, url, price, currency,
			                          seller_id, seller_name, location, position, page)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, reportID, it.ExternalID, it.Title, it.URL, nullInt64(it.Price), it.Currency,
			it.SellerID, it.SellerName, it.Location, it.Position, it.Page); err != nil {
			return fmt.Errorf("%w: insert report item: %v", utils.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", utils.ErrDatabase, err)
	}
	return nil
}

func (s *PostgresStore) FinalizeReportError(ctx context.Context, reportID int64, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET status = 'error', error = $2
		WHERE id = $1 AND status = 'running'
	`, reportID, msg)
	if err != nil {
		return fmt.Errorf("%w: finalize report error: %v", utils.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: report %d is not running, refusing to finalize", utils.ErrDatabase, reportID)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	r := &models.Report{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, query_url, status, error, items_count, min_price, avg_price, max_price, note, created_at
		FROM reports WHERE id = $1
	`, id).Scan(&r.ID, &r.Source, &r.QueryURL, &status, &r.Error, &r.ItemsCount,
		&r.MinPrice, &r.AvgPrice, &r.MaxPrice, &r.Note, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %d", utils.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get report: %v", utils.ErrDatabase, err)
	}
	r.Status = models.ReportStatus(status)
	return r, nil
}

func (s *PostgresStore) GetReportItems(ctx context.Context, reportID int64) ([]models.ReportItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, external_id, title, url, price, currency,
		       seller_id, seller_name, location, position, page
		FROM report_items WHERE report_id = $1 ORDER BY position
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("%w: get report items: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var items []models.ReportItem
	for rows.Next() {
		var it models.ReportItem
		var price sql.NullInt64
		if err := rows.Scan(&it.ID, &it.ReportID, &it.ExternalID, &it.Title, &it.URL, &price,
			&it.Currency, &it.SellerID, &it.SellerName, &it.Location, &it.Position, &it.Page); err != nil {
			return nil, fmt.Errorf("%w: scan report item: %v", utils.ErrDatabase, err)
		}
		if price.Valid {
			it.Price = &price.Int64
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListReports(ctx context.Context, f ReportFilter) (int, []models.Report, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	where := "TRUE"
	args := []interface{}{}
	if f.Status != models.ReportStatusUnset {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.QueryLike != "" {
		args = append(args, "%"+f.QueryLike+"%")
		where += fmt.Sprintf(" AND query_url ILIKE $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE "+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("%w: count reports: %v", utils.ErrDatabase, err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source, query_url, status, error, items_count, min_price, avg_price, max_price, note, created_at
		FROM reports WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: list reports: %v", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		var status string
		if err := rows.Scan(&r.ID, &r.Source, &r.QueryURL, &status, &r.Error, &r.ItemsCount,
			&r.MinPrice, &r.AvgPrice, &r.MaxPrice, &r.Note, &r.CreatedAt); err != nil {
			return 0, nil, fmt.Errorf("%w: scan report: %v", utils.ErrDatabase, err)
		}
		r.Status = models.ReportStatus(status)
		reports = append(reports, r)
	}
	return total, reports, rows.Err()
}

// nullInt64 adapts an optional price for a nullable column.
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
