package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

// utf8BOM makes spreadsheet software detect UTF-8 in exported files; Cyrillic
// titles come out mangled without it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{
	"external_id", "title", "url", "price", "currency",
	"seller_id", "seller_name", "location", "position", "page",
}

// ExportReportCSV writes a done report's items to w as UTF-8 CSV with a BOM.
// Running and failed reports have no exportable item set.
func (s *Service) ExportReportCSV(ctx context.Context, reportID int64, w io.Writer) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.Status != models.ReportStatusDone {
		return fmt.Errorf("%w: report %d is %s, only done reports export", utils.ErrNotFound, reportID, report.Status)
	}

	items, err := s.store.GetReportItems(ctx, reportID)
	if err != nil {
		return err
	}

	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	for _, it := range items {
		price := ""
		if it.Price != nil {
			price = strconv.FormatInt(*it.Price, 10)
		}
		record := []string{
			it.ExternalID,
			it.Title,
			it.URL,
			price,
			it.Currency,
			it.SellerID,
			it.SellerName,
			it.Location,
			strconv.Itoa(it.Position),
			strconv.Itoa(it.Page),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
