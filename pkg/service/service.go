// Package service implements the application use cases on top of the crawl
// pipeline and the stores: ad-hoc reports, project refreshes with ad diffing,
// and exports.
package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
	"adwatch/pkg/crawl"
	"adwatch/pkg/models"
	"adwatch/pkg/parse"
	"adwatch/pkg/storage"
)

// Crawler runs one bounded crawl of a search URL. Implemented by crawl.Driver.
type Crawler interface {
	Crawl(ctx context.Context, searchURL string, maxPages int) crawl.Result
}

// Service ties the pipeline together. payloads may be nil when raw page
// retention is disabled.
type Service struct {
	store      storage.Store
	payloads   *storage.PayloadStore
	crawler    Crawler
	normalizer *parse.Normalizer
	cfg        *config.AppConfig
	log        *logrus.Logger
}

// New creates a Service.
func New(
	store storage.Store,
	payloads *storage.PayloadStore,
	crawler Crawler,
	normalizer *parse.Normalizer,
	cfg *config.AppConfig,
	log *logrus.Logger,
) *Service {
	return &Service{
		store:      store,
		payloads:   payloads,
		crawler:    crawler,
		normalizer: normalizer,
		cfg:        cfg,
		log:        log,
	}
}

// ListProjectAds runs an ad-hoc crawl of a search URL and returns the
// listings without touching any store. Used for previews and the list-ads
// command.
func (s *Service) ListProjectAds(ctx context.Context, rawURL string, maxPages int) []models.Listing {
	searchURL := s.normalizer.Normalize(rawURL)
	maxPages = s.cfg.ClampMaxPages(maxPages)
	res := s.crawler.Crawl(ctx, searchURL, maxPages)
	return res.Listings
}

// collectPrices gathers the plausible prices of a listing set for statistics.
func collectPrices(listings []models.Listing) []int64 {
	prices := make([]int64, 0, len(listings))
	for _, l := range listings {
		if l.Price != nil {
			prices = append(prices, *l.Price)
		}
	}
	return prices
}

// savePayloads persists the raw page bodies of a crawl when retention is
// enabled. Retention trouble is logged and swallowed: the parsed results are
// already in hand and losing a debug artifact should not fail the run.
func (s *Service) savePayloads(payloadKey string, pages []crawl.PageBody, log *logrus.Entry) {
	if s.payloads == nil || !s.cfg.Storage.KeepPayloads {
		return
	}
	for _, p := range pages {
		if err := s.payloads.SavePage(payloadKey, p.Page, p.Body); err != nil {
			log.WithField("page", p.Page).Warnf("Could not retain page body: %v", err)
		}
	}
}
