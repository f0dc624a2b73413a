package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"adwatch/pkg/config"
	"adwatch/pkg/utils"
)

// Fetcher performs single page retrievals with browser-like headers, using an
// underlying http.Client. It never retries on its own: the pagination driver
// owns the decision of whether a failed page ends the crawl, and the worst a
// failed fetch can cause is a shorter result.
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig
	log    *logrus.Logger
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// FetchPage retrieves one listing page and returns its body text.
// The outcome is classified through sentinel errors rather than raised
// conditions: 3xx wraps utils.ErrRedirect, 4xx utils.ErrClientHTTPError,
// 5xx utils.ErrServerHTTPError, any other non-2xx utils.ErrOtherHTTPError.
// Transport failures (timeouts included) come back as the underlying error.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	reqLog := f.log.WithField("url", pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	f.setHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		reqLog.WithField("category", utils.CategorizeError(err)).Warnf("Fetch failed: %v", err)
		return "", err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	statusCode := resp.StatusCode
	resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "status": resp.Status})

	switch {
	case statusCode >= 200 && statusCode < 300:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.cfg.Fetch.MaxBodyBytes))
		if readErr != nil {
			resLog.Warnf("Body read failed: %v", readErr)
			return "", fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, readErr)
		}
		resLog.WithField("bytes", len(body)).Debug("Successfully fetched")
		return string(body), nil

	case statusCode >= 300 && statusCode < 400:
		// The client does not follow redirects; a redirected search URL is a
		// stop condition for the driver (blocked or relocated search)
		location := resp.Header.Get("Location")
		resLog.WithField("location", location).Warn("Search URL redirected")
		return "", fmt.Errorf("%w: status %d %s -> %s", utils.ErrRedirect, statusCode, resp.Status, location)

	case statusCode >= 400 && statusCode < 500:
		resLog.Warn("Client error (4xx)")
		return "", fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

	case statusCode >= 500:
		resLog.Warn("Server error (5xx)")
		return "", fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)

	default:
		resLog.Warnf("Unexpected status: %d", statusCode)
		return "", fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
	}
}

// setHeaders applies the configured browser-like header set.
func (f *Fetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.cfg.Fetch.UserAgent)
	req.Header.Set("Accept", f.cfg.Fetch.Accept)
	req.Header.Set("Accept-Language", f.cfg.Fetch.AcceptLanguage)
}
