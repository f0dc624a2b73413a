package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adwatch/pkg/crawl"
	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

func TestService_CreateReport_Done(t *testing.T) {
	store := newMemStore()
	crawler := &fakeCrawler{queue: []crawl.Result{{
		Listings: []models.Listing{
			listing("a1", 1, 100),
			listing("a2", 2, 300),
			listing("a3", 3, 200),
		},
		PagesFetched: 1,
	}}}
	svc := newTestService(t, store, crawler)

	report, err := svc.CreateReport(context.Background(), "http://olx.ua/list/q-iphone/?utm_source=tg", 0, "test note")
	require.NoError(t, err)

	assert.Equal(t, models.ReportStatusDone, report.Status)
	assert.Equal(t, 3, report.ItemsCount)
	assert.Equal(t, int64(100), report.MinPrice)
	assert.Equal(t, int64(200), report.AvgPrice)
	assert.Equal(t, int64(300), report.MaxPrice)
	assert.Equal(t, "test note", report.Note)

	// The crawl must run against the normalized URL
	require.Len(t, crawler.crawled, 1)
	assert.Equal(t, "https://www.olx.ua/list/q-iphone/", crawler.crawled[0])

	items, err := store.GetReportItems(context.Background(), report.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, report.ID, items[0].ReportID)
	assert.Equal(t, "a1", items[0].ExternalID)
	assert.Equal(t, 1, items[0].Position)
}

func TestService_CreateReport_EmptyCrawlIsDone(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeCrawler{})

	report, err := svc.CreateReport(context.Background(), "https://www.olx.ua/list/q-rare/", 0, "")
	require.NoError(t, err)

	assert.Equal(t, models.ReportStatusDone, report.Status, "a cold search is a valid done report")
	assert.Zero(t, report.ItemsCount)
	assert.Zero(t, report.MinPrice)
}

func TestService_CreateReport_FinalizeFailureFlipsToError(t *testing.T) {
	store := newMemStore()
	store.failFinalizeDone = true
	crawler := &fakeCrawler{queue: []crawl.Result{{
		Listings: []models.Listing{listing("a1", 1, 100)},
	}}}
	svc := newTestService(t, store, crawler)

	report, err := svc.CreateReport(context.Background(), "https://www.olx.ua/list/", 0, "")
	require.NoError(t, err, "a failed run surfaces as an error-status report, not a returned error")

	assert.Equal(t, models.ReportStatusError, report.Status)
	assert.NotEmpty(t, report.Error)

	stored, getErr := store.GetReport(context.Background(), report.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ReportStatusError, stored.Status)
}

func TestService_CreateReport_InsertFailure(t *testing.T) {
	store := newMemStore()
	store.failCreateReport = true
	svc := newTestService(t, store, &fakeCrawler{})

	_, err := svc.CreateReport(context.Background(), "https://www.olx.ua/list/", 0, "")
	require.Error(t, err, "no report row means nothing to fall back to")
}

func TestService_CreateReport_DoubleFinalizeRejected(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeCrawler{})

	report, err := svc.CreateReport(context.Background(), "https://www.olx.ua/list/", 0, "")
	require.NoError(t, err)
	require.Equal(t, models.ReportStatusDone, report.Status)

	err = store.FinalizeReportDone(context.Background(), report.ID, models.PriceStats{}, nil)
	assert.Error(t, err, "a finalized report never changes again")
	err = store.FinalizeReportError(context.Background(), report.ID, "late failure")
	assert.Error(t, err)
}

func TestService_ExportReportCSV(t *testing.T) {
	store := newMemStore()
	price := int64(12500)
	crawler := &fakeCrawler{queue: []crawl.Result{{
		Listings: []models.Listing{{
			ExternalID: "a1",
			Title:      "iPhone, з комою",
			URL:        "https://www.olx.ua/obyavlenie/item-IDa1.html",
			Price:      &price,
			Currency:   "UAH",
			Location:   "Київ",
			Position:   1,
			Page:       1,
		}},
	}}}
	svc := newTestService(t, store, crawler)

	report, err := svc.CreateReport(context.Background(), "https://www.olx.ua/list/", 0, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportReportCSV(context.Background(), report.ID, &buf))

	out := buf.Bytes()
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, out[:3], "export must start with a UTF-8 BOM")

	body := string(out[3:])
	assert.Contains(t, body, "external_id,title,url,price,currency,seller_id,seller_name,location,position,page")
	assert.Contains(t, body, `"iPhone, з комою"`, "commas in fields must be quoted")
	assert.Contains(t, body, "12500")
}

func TestService_ExportReportCSV_NotDone(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeCrawler{})

	running := &models.Report{QueryURL: "https://www.olx.ua/list/", Status: models.ReportStatusRunning}
	require.NoError(t, store.CreateReport(context.Background(), running))

	var buf bytes.Buffer
	err := svc.ExportReportCSV(context.Background(), running.ID, &buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Zero(t, buf.Len(), "nothing may be written for a non-exportable report")
}
