// Package crawl drives the page-by-page acquisition of one search URL.
package crawl

import (
	"context"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

// PageFetcher retrieves one page body. Implemented by fetch.Fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (string, error)
}

// ListingExtractor parses one page body into listings. Implemented by
// parse.Extractor.
type ListingExtractor interface {
	Extract(body string, page, startPos int) ([]models.Listing, error)
}

// RobotsChecker gates a crawl on robots.txt rules. Implemented by
// fetch.RobotsGate.
type RobotsChecker interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Pager constructs the page-N form of a search URL. Implemented by
// parse.Normalizer.
type Pager interface {
	WithPage(searchURL string, page int) string
}

// PageBody is the raw body of one fetched page, kept for payload retention.
type PageBody struct {
	Page int
	Body string
}

// Result is the outcome of one crawl invocation. A crawl never fails as a
// whole: a blocked or cold search yields zero listings, and an error partway
// through keeps everything collected so far.
type Result struct {
	Listings     []models.Listing
	Pages        []PageBody
	PagesFetched int
}

// Driver runs the pagination state machine for one normalized search URL:
// fetch page N, extract, and advance to N+1 until max_pages, an empty page,
// or a fetch failure. Pages are strictly sequential because the stop rule for
// page N+1 depends on what page N yielded.
type Driver struct {
	fetcher   PageFetcher
	extractor ListingExtractor
	robots    RobotsChecker
	pager     Pager
	cfg       *config.AppConfig
	log       *logrus.Logger
}

// NewDriver creates a Driver. robots may be nil when the gate is disabled.
func NewDriver(
	fetcher PageFetcher,
	extractor ListingExtractor,
	robots RobotsChecker,
	pager Pager,
	cfg *config.AppConfig,
	log *logrus.Logger,
) *Driver {
	return &Driver{
		fetcher:   fetcher,
		extractor: extractor,
		robots:    robots,
		pager:     pager,
		cfg:       cfg,
		log:       log,
	}
}

// Crawl fetches up to maxPages pages of searchURL and returns all extracted
// listings with positions continuous across pages. Fetch or parse trouble on
// page 1 produces an empty result; on a later page it ends the crawl with the
// listings collected so far. Neither case is an error to the caller.
func (d *Driver) Crawl(ctx context.Context, searchURL string, maxPages int) Result {
	crawlLog := d.log.WithFields(logrus.Fields{"search_url": searchURL, "max_pages": maxPages})

	var res Result

	if d.robots != nil {
		if target, err := url.Parse(searchURL); err == nil && !d.robots.Allowed(ctx, target) {
			crawlLog.Warn("Crawl disallowed by robots.txt")
			return res
		}
	}

	for page := 1; page <= maxPages; page++ {
		if page > 1 && d.cfg.Crawl.PageDelay > 0 {
			select {
			case <-time.After(d.cfg.Crawl.PageDelay):
			case <-ctx.Done():
				crawlLog.WithField("page", page).Warnf("Crawl cancelled: %v", ctx.Err())
				return res
			}
		}

		pageURL := d.pager.WithPage(searchURL, page)
		pageLog := crawlLog.WithFields(logrus.Fields{"page": page, "page_url": pageURL})

		body, err := d.fetcher.FetchPage(ctx, pageURL)
		if err != nil {
			// Page 1 failure means an empty, still-reportable run; a later
			// failure preserves the partial result
			pageLog.WithField("category", utils.CategorizeError(err)).
				Warnf("Stopping crawl after fetch failure: %v", err)
			return res
		}
		res.PagesFetched++
		res.Pages = append(res.Pages, PageBody{Page: page, Body: body})

		listings, err := d.extractor.Extract(body, page, len(res.Listings)+1)
		if err != nil {
			pageLog.Warnf("Stopping crawl after parse failure: %v", err)
			return res
		}
		if len(listings) == 0 {
			pageLog.Debug("Empty page, crawl done")
			return res
		}
		res.Listings = append(res.Listings, listings...)
	}

	crawlLog.WithField("listings", len(res.Listings)).Debug("Reached max pages")
	return res
}
