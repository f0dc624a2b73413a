package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"adwatch/pkg/models"
	"adwatch/pkg/stats"
	"adwatch/pkg/storage"
	"adwatch/pkg/utils"
)

// CreateReport runs one ad-hoc crawl and records it as a Report. The report
// is inserted in running state before the crawl starts, so a crash mid-crawl
// leaves a visible running row rather than nothing.
//
// A crawl that yields zero listings is still a done report with zero
// aggregates. Only a persistence failure after the crawl flips the report to
// error state; in that case the error-status report is returned with a nil
// error, because the lifecycle outcome is the answer the caller asked for.
func (s *Service) CreateReport(ctx context.Context, rawURL string, maxPages int, note string) (*models.Report, error) {
	searchURL := s.normalizer.Normalize(rawURL)
	maxPages = s.cfg.ClampMaxPages(maxPages)

	report := &models.Report{
		Source:   s.cfg.Marketplace.CanonicalHost,
		QueryURL: searchURL,
		Status:   models.ReportStatusRunning,
		Note:     note,
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	runKey := uuid.NewString()
	reportLog := s.log.WithFields(logrus.Fields{
		"report_id": report.ID,
		"run_key":   runKey,
		"query_url": searchURL,
	})
	reportLog.Info("Report crawl started")

	res := s.crawler.Crawl(ctx, searchURL, maxPages)
	s.savePayloads(runKey, res.Pages, reportLog)

	st := stats.Compute(collectPrices(res.Listings))
	items := make([]models.ReportItem, 0, len(res.Listings))
	for _, l := range res.Listings {
		items = append(items, models.ReportItem{
			ReportID:   report.ID,
			ExternalID: l.ExternalID,
			Title:      l.Title,
			URL:        l.URL,
			Price:      l.Price,
			Currency:   l.Currency,
			SellerID:   l.SellerID,
			SellerName: l.SellerName,
			Location:   l.Location,
			Position:   l.Position,
			Page:       l.Page,
		})
	}

	if err := s.store.FinalizeReportDone(ctx, report.ID, st, items); err != nil {
		reportLog.WithField("category", utils.CategorizeError(err)).
			Errorf("Could not finalize report: %v", err)
		return s.failReport(ctx, report, fmt.Sprintf("finalize failed: %v", err), reportLog)
	}

	report.Status = models.ReportStatusDone
	report.ItemsCount = len(items)
	report.MinPrice = st.Min
	report.AvgPrice = st.Mean
	report.MaxPrice = st.Max
	reportLog.WithFields(logrus.Fields{
		"items":  len(items),
		"priced": st.Count,
		"pages":  res.PagesFetched,
	}).Info("Report done")
	return report, nil
}

// failReport moves a running report to error state. If even that write
// fails, the report stays running in the database and the write error is
// returned, because a silently lost failure is worse than a stuck row.
func (s *Service) failReport(ctx context.Context, report *models.Report, msg string, log *logrus.Entry) (*models.Report, error) {
	if err := s.store.FinalizeReportError(ctx, report.ID, msg); err != nil {
		log.Errorf("Could not record report failure: %v", err)
		return nil, fmt.Errorf("record report failure: %w", err)
	}
	report.Status = models.ReportStatusError
	report.Error = msg
	return report, nil
}

// GetReport retrieves a report with its items.
func (s *Service) GetReport(ctx context.Context, id int64) (*models.Report, []models.ReportItem, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.GetReportItems(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return report, items, nil
}

// ListReports returns the total match count and one page of reports.
func (s *Service) ListReports(ctx context.Context, f storage.ReportFilter) (int, []models.Report, error) {
	return s.store.ListReports(ctx, f)
}
