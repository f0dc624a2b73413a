package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
	"adwatch/pkg/crawl"
	"adwatch/pkg/fetch"
	"adwatch/pkg/models"
	"adwatch/pkg/parse"
	"adwatch/pkg/service"
	"adwatch/pkg/storage"
)

// app bundles the wired components a command needs. Close releases the
// stores; it is safe to call when the stores were never opened.
type app struct {
	cfg      *config.AppConfig
	svc      *service.Service
	store    storage.Store
	payloads *storage.PayloadStore
	log      *logrus.Logger
	gcStop   chan struct{}
}

func (a *app) Close() {
	if a.gcStop != nil {
		close(a.gcStop)
	}
	if a.payloads != nil {
		if err := a.payloads.Close(); err != nil {
			a.log.Errorf("Error closing payload store: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Errorf("Error closing store: %v", err)
		}
	}
}

// buildApp wires the full pipeline. withStores controls whether Postgres and
// the payload store are opened; commands like list-ads stay store-free.
func buildApp(cfg *config.AppConfig, withStores bool, log *logrus.Logger) (*app, error) {
	httpClient := fetch.NewClient(cfg.HTTPClientSettings, cfg.Fetch.Timeout, log)
	fetcher := fetch.NewFetcher(httpClient, cfg, log)
	normalizer := parse.NewNormalizer(cfg.Marketplace, cfg.Crawl.PageParam)
	priceParser := parse.NewPriceParser(cfg.Marketplace.CurrencyMarkers, cfg.Price)
	extractor := parse.NewExtractor(cfg.Marketplace, priceParser, log)

	var robots crawl.RobotsChecker
	if cfg.Fetch.RespectRobots {
		robots = fetch.NewRobotsGate(httpClient, cfg, log)
	}

	driver := crawl.NewDriver(fetcher, extractor, robots, normalizer, cfg, log)

	a := &app{cfg: cfg, log: log}
	if withStores {
		store, err := storage.NewPostgresStore(cfg.Storage.DSN, log.WithField("component", "postgres"))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = store

		if cfg.Storage.KeepPayloads {
			payloads, err := storage.NewPayloadStore(cfg.Storage.PayloadDir, log.WithField("component", "payloads"))
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("open payload store: %w", err)
			}
			a.payloads = payloads
			a.gcStop = make(chan struct{})
			go payloads.RunGC(a.gcStop, 10*time.Minute)
		}
	}

	a.svc = service.New(a.store, a.payloads, driver, normalizer, cfg, log)
	return a, nil
}

// commonFlags registers the flags shared by every command.
func commonFlags(fs *flag.FlagSet) (configPath, logLevel *string) {
	configPath = fs.String("config", "", "Path to YAML config file (empty = built-in defaults)")
	logLevel = fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	return configPath, logLevel
}

func runReport(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	rawURL := fs.String("url", "", "Search URL to crawl (required)")
	pages := fs.Int("pages", 0, "Max pages to crawl (0 = configured default)")
	note := fs.String("note", "", "Free-form note stored with the report")
	fs.Parse(args)

	if *rawURL == "" {
		return fmt.Errorf("-url is required")
	}
	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.CreateReport(ctx, *rawURL, *pages, *note)
	if err != nil {
		return err
	}
	printReport(report)
	if report.Status == models.ReportStatusError {
		return fmt.Errorf("report %d finished in error state: %s", report.ID, report.Error)
	}
	return nil
}

func runShowReport(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("show-report", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	id := fs.Int64("id", 0, "Report ID (required)")
	fs.Parse(args)

	if *id == 0 {
		return fmt.Errorf("-id is required")
	}
	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, items, err := a.svc.GetReport(ctx, *id)
	if err != nil {
		return err
	}
	printReport(report)
	printListingsTable(itemsAsRows(items))
	return nil
}

func runListReports(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("reports", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	status := fs.String("status", "", "Filter by status (running, done, error)")
	query := fs.String("query", "", "Filter by substring of the query URL")
	limit := fs.Int("limit", 20, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	f := storage.ReportFilter{QueryLike: *query, Limit: *limit, Offset: *offset}
	if *status != "" {
		st := models.ReportStatus(*status)
		if !st.IsValid() {
			return fmt.Errorf("invalid status %q", *status)
		}
		f.Status = st
	}
	total, reports, err := a.svc.ListReports(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("%d report(s) total\n", total)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tITEMS\tMIN\tAVG\tMAX\tCREATED\tQUERY")
	for _, r := range reports {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.ItemsCount, r.MinPrice, r.AvgPrice, r.MaxPrice,
			r.CreatedAt.Format("2006-01-02 15:04"), r.QueryURL)
	}
	return w.Flush()
}

func runExport(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	id := fs.Int64("id", 0, "Report ID (required)")
	out := fs.String("out", "", "Output file path (empty = stdout)")
	fs.Parse(args)

	if *id == 0 {
		return fmt.Errorf("-id is required")
	}
	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := a.svc.ExportReportCSV(ctx, *id, w); err != nil {
		return err
	}
	if *out != "" {
		log.Infof("Exported report %d to %s", *id, *out)
	}
	return nil
}

func runListAds(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("list-ads", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	rawURL := fs.String("url", "", "Search URL to crawl (required)")
	pages := fs.Int("pages", 0, "Max pages to crawl (0 = configured default)")
	fs.Parse(args)

	if *rawURL == "" {
		return fmt.Errorf("-url is required")
	}
	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, false, log)
	if err != nil {
		return err
	}
	defer a.Close()

	listings := a.svc.ListProjectAds(ctx, *rawURL, *pages)
	fmt.Printf("%d listing(s)\n", len(listings))
	printListingsTable(listings)
	return nil
}

func runCreateProject(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("project", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	userID := fs.Int64("user", 1, "Owning user ID")
	name := fs.String("name", "", "Project name (required)")
	rawURL := fs.String("url", "", "Search URL (required)")
	notes := fs.String("notes", "", "Free-form notes")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	project, err := a.svc.CreateProject(ctx, *userID, *name, *rawURL, *notes)
	if err != nil {
		return err
	}
	fmt.Printf("Created project %d: %s\n  %s\n", project.ID, project.Name, project.SearchURL)
	return nil
}

func runListProjects(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	userID := fs.Int64("user", 1, "Owning user ID")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.svc.ListProjects(ctx, *userID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTIVE\tNAME\tURL")
	for _, p := range projects {
		fmt.Fprintf(w, "%d\t%t\t%s\t%s\n", p.ID, p.IsActive, p.Name, p.SearchURL)
	}
	return w.Flush()
}

func runRefresh(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	projectID := fs.Int64("project", 0, "Project ID (required)")
	fs.Parse(args)

	if *projectID == 0 {
		return fmt.Errorf("-project is required")
	}
	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.svc.RefreshProject(ctx, *projectID)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot %d: %d item(s), %d new, %d gone\n",
		outcome.SnapshotID, outcome.ItemsCount, outcome.NewCount, outcome.GoneCount)
	return nil
}

func runRefreshAll(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("refresh-all", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	userID := fs.Int64("user", 1, "Owning user ID")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.svc.RefreshAllActiveProjects(ctx, *userID)
	if err != nil {
		return err
	}
	fmt.Printf("Refreshed %d project(s), %d failed\n", summary.Refreshed, summary.Failed)
	if summary.Failed > 0 {
		return fmt.Errorf("%d project refresh(es) failed", summary.Failed)
	}
	return nil
}

func runSnapshots(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	projectID := fs.Int64("project", 0, "Project ID (required)")
	limit := fs.Int("limit", 20, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	fs.Parse(args)

	if *projectID == 0 {
		return fmt.Errorf("-project is required")
	}
	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	snapshots, err := a.svc.ListSnapshots(ctx, *projectID, *limit, *offset)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAKEN\tITEMS\tMIN\tP25\tMEDIAN\tAVG\tP75\tMAX")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.ID, s.TakenAt.Format("2006-01-02 15:04"), s.ItemsCount,
			s.MinPrice, s.P25Price, s.MedianPrice, s.AvgPrice, s.P75Price, s.MaxPrice)
	}
	return w.Flush()
}

func runValidate(args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath, logLevel := commonFlags(fs)
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		return err
	}
	log.Infof("Configuration OK: marketplace %s, %d card selector(s), price window %d..%d",
		cfg.Marketplace.CanonicalHost, len(cfg.Marketplace.CardSelectors),
		cfg.Price.MinPlausible, cfg.Price.MaxPlausible)
	return nil
}

func printReport(r *models.Report) {
	fmt.Printf("Report %d [%s] %s\n", r.ID, r.Status, r.QueryURL)
	if r.Status == models.ReportStatusError {
		fmt.Printf("  error: %s\n", r.Error)
		return
	}
	fmt.Printf("  items: %d  min: %d  avg: %d  max: %d\n", r.ItemsCount, r.MinPrice, r.AvgPrice, r.MaxPrice)
}

func itemsAsRows(items []models.ReportItem) []models.Listing {
	rows := make([]models.Listing, 0, len(items))
	for _, it := range items {
		rows = append(rows, models.Listing{
			ExternalID: it.ExternalID,
			Title:      it.Title,
			URL:        it.URL,
			Price:      it.Price,
			Currency:   it.Currency,
			Location:   it.Location,
			Position:   it.Position,
			Page:       it.Page,
		})
	}
	return rows
}

func printListingsTable(listings []models.Listing) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tPAGE\tPRICE\tCUR\tTITLE\tURL")
	for _, l := range listings {
		price := "-"
		if l.Price != nil {
			price = fmt.Sprintf("%d", *l.Price)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", l.Position, l.Page, price, l.Currency, l.Title, l.URL)
	}
	w.Flush()
}
