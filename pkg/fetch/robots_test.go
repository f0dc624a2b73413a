package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adwatch/pkg/config"
)

func testGate(t *testing.T, cfg *config.AppConfig) *RobotsGate {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	client := NewClient(cfg.HTTPClientSettings, cfg.Fetch.Timeout, log)
	return NewRobotsGate(client, cfg, log)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRobotsGate_Disabled(t *testing.T) {
	cfg := config.Default() // RespectRobots defaults to false
	g := testGate(t, cfg)

	assert.True(t, g.Allowed(context.Background(), mustParse(t, "https://www.olx.ua/list/")))
}

func TestRobotsGate_NilReceiver(t *testing.T) {
	var g *RobotsGate
	assert.True(t, g.Allowed(context.Background(), mustParse(t, "https://www.olx.ua/list/")))
}

func TestRobotsGate_DisallowedPath(t *testing.T) {
	var robotsHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits++
			io.WriteString(w, "User-agent: *\nDisallow: /list/\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Fetch.RespectRobots = true
	g := testGate(t, cfg)

	assert.False(t, g.Allowed(context.Background(), mustParse(t, srv.URL+"/list/q-iphone/")))
	assert.True(t, g.Allowed(context.Background(), mustParse(t, srv.URL+"/other/")))

	// Second check for the same host must come from the cache
	assert.False(t, g.Allowed(context.Background(), mustParse(t, srv.URL+"/list/again/")))
	assert.Equal(t, 1, robotsHits)
}

func TestRobotsGate_AllowOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Fetch.RespectRobots = true
	g := testGate(t, cfg)

	assert.True(t, g.Allowed(context.Background(), mustParse(t, srv.URL+"/list/")),
		"unavailable robots.txt must never block a crawl")
}

func TestRobotsGate_AllowOnUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	cfg := config.Default()
	cfg.Fetch.RespectRobots = true
	g := testGate(t, cfg)

	assert.True(t, g.Allowed(context.Background(), mustParse(t, addr+"/list/")))
}
