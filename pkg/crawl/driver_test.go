package crawl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adwatch/pkg/config"
	"adwatch/pkg/models"
	"adwatch/pkg/utils"
)

// fakeFetcher serves canned bodies keyed by URL and records every request.
type fakeFetcher struct {
	bodies   map[string]string
	errs     map[string]error
	requests []string
}

func (f *fakeFetcher) FetchPage(_ context.Context, pageURL string) (string, error) {
	f.requests = append(f.requests, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return "", err
	}
	return f.bodies[pageURL], nil
}

// fakeExtractor turns bodies of the form "N listings" into N listings with
// continuous positions, mirroring the real extractor's position contract.
type fakeExtractor struct {
	parseErr map[string]error
}

func (e *fakeExtractor) Extract(body string, page, startPos int) ([]models.Listing, error) {
	if err, ok := e.parseErr[body]; ok {
		return nil, err
	}
	count, _ := strconv.Atoi(strings.TrimSuffix(body, " listings"))
	listings := make([]models.Listing, 0, count)
	for i := 0; i < count; i++ {
		listings = append(listings, models.Listing{
			Title:    fmt.Sprintf("item p%d #%d", page, i+1),
			URL:      fmt.Sprintf("https://www.olx.ua/obyavlenie/p%d-%d-IDx.html", page, i),
			Page:     page,
			Position: startPos + i,
		})
	}
	return listings, nil
}

// fakePager appends ?page=N for pages past the first.
type fakePager struct{}

func (fakePager) WithPage(searchURL string, page int) string {
	if page <= 1 {
		return searchURL
	}
	return searchURL + "?page=" + strconv.Itoa(page)
}

type fakeRobots struct{ allowed bool }

func (r fakeRobots) Allowed(context.Context, *url.URL) bool { return r.allowed }

func testDriver(fetcher *fakeFetcher, extractor *fakeExtractor, robots RobotsChecker) *Driver {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewDriver(fetcher, extractor, robots, fakePager{}, config.Default(), log)
}

const searchURL = "https://www.olx.ua/list/q-iphone/"

func TestDriver_Crawl_MultiPage(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		searchURL:           "3 listings",
		searchURL + "?page=2": "2 listings",
		searchURL + "?page=3": "0 listings",
	}}
	d := testDriver(fetcher, &fakeExtractor{}, nil)

	res := d.Crawl(context.Background(), searchURL, 10)

	require.Len(t, res.Listings, 5)
	assert.Equal(t, 3, res.PagesFetched, "empty page 3 still counts as fetched")
	assert.Equal(t, []string{searchURL, searchURL + "?page=2", searchURL + "?page=3"}, fetcher.requests)

	// Positions continuous across the page boundary
	for i, l := range res.Listings {
		assert.Equal(t, i+1, l.Position)
	}
	assert.Equal(t, 1, res.Listings[2].Page)
	assert.Equal(t, 2, res.Listings[3].Page)
}

func TestDriver_Crawl_StopsAtMaxPages(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		searchURL:           "2 listings",
		searchURL + "?page=2": "2 listings",
		searchURL + "?page=3": "2 listings",
	}}
	d := testDriver(fetcher, &fakeExtractor{}, nil)

	res := d.Crawl(context.Background(), searchURL, 2)

	assert.Len(t, res.Listings, 4)
	assert.Len(t, fetcher.requests, 2, "page 3 must never be requested")
}

func TestDriver_Crawl_FirstPageFetchFails(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		searchURL: fmt.Errorf("%w: status 403", utils.ErrClientHTTPError),
	}}
	d := testDriver(fetcher, &fakeExtractor{}, nil)

	res := d.Crawl(context.Background(), searchURL, 5)

	assert.Empty(t, res.Listings, "page 1 failure yields an empty, non-error result")
	assert.Zero(t, res.PagesFetched)
	assert.Len(t, fetcher.requests, 1)
}

func TestDriver_Crawl_LaterPageFailureKeepsPartial(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies: map[string]string{
			searchURL:           "3 listings",
			searchURL + "?page=2": "3 listings",
		},
		errs: map[string]error{
			searchURL + "?page=3": fmt.Errorf("%w: status 500", utils.ErrServerHTTPError),
		},
	}
	d := testDriver(fetcher, &fakeExtractor{}, nil)

	res := d.Crawl(context.Background(), searchURL, 10)

	assert.Len(t, res.Listings, 6, "pages before the failure must be kept")
	assert.Equal(t, 2, res.PagesFetched)
}

func TestDriver_Crawl_ParseFailureKeepsPartial(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		searchURL:           "2 listings",
		searchURL + "?page=2": "garbage",
	}}
	extractor := &fakeExtractor{parseErr: map[string]error{
		"garbage": fmt.Errorf("%w: not HTML", utils.ErrParsing),
	}}
	d := testDriver(fetcher, extractor, nil)

	res := d.Crawl(context.Background(), searchURL, 10)

	assert.Len(t, res.Listings, 2)
}

func TestDriver_Crawl_RobotsDisallowed(t *testing.T) {
	fetcher := &fakeFetcher{}
	d := testDriver(fetcher, &fakeExtractor{}, fakeRobots{allowed: false})

	res := d.Crawl(context.Background(), searchURL, 5)

	assert.Empty(t, res.Listings)
	assert.Empty(t, fetcher.requests, "a disallowed crawl must not fetch anything")
}

func TestDriver_Crawl_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{bodies: map[string]string{searchURL: "2 listings"}}
	d := testDriver(fetcher, &fakeExtractor{}, nil)
	d.cfg.Crawl.PageDelay = time.Minute // Force the delay branch to observe cancellation

	res := d.Crawl(ctx, searchURL, 5)

	// Page 1 has no delay gate; cancellation is observed before page 2
	assert.Len(t, res.Listings, 2)
	assert.Len(t, fetcher.requests, 1)
}

func TestDriver_Crawl_RetainsPageBodies(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		searchURL:           "1 listings",
		searchURL + "?page=2": "0 listings",
	}}
	d := testDriver(fetcher, &fakeExtractor{}, nil)

	res := d.Crawl(context.Background(), searchURL, 5)

	require.Len(t, res.Pages, 2)
	assert.Equal(t, 1, res.Pages[0].Page)
	assert.Equal(t, "1 listings", res.Pages[0].Body)
}
