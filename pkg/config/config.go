package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PathRewrite maps a recognized path prefix to its canonical replacement.
// Rewrites are applied in order; the first matching prefix wins.
type PathRewrite struct {
	Prefix      string `yaml:"prefix"`
	Replacement string `yaml:"replacement"`
}

// MarketplaceConfig describes the marketplace surface: which hosts belong to
// it, how its URLs canonicalize, and where listing data lives in the markup.
// Selector chains are ordered; the first strategy that yields matches wins,
// which absorbs markup drift without code changes.
type MarketplaceConfig struct {
	CanonicalHost     string        `yaml:"canonical_host"`
	HostVariants      []string      `yaml:"host_variants,omitempty"`
	PathRewrites      []PathRewrite `yaml:"path_rewrites,omitempty"`
	CardSelectors     []string      `yaml:"card_selectors,omitempty"`
	PriceSelectors    []string      `yaml:"price_selectors,omitempty"`
	TitleSelectors    []string      `yaml:"title_selectors,omitempty"`
	LocationSelectors []string      `yaml:"location_selectors,omitempty"`
	SellerSelectors   []string      `yaml:"seller_selectors,omitempty"`
	// ExternalIDPattern extracts the marketplace-assigned ad ID from a listing
	// URL. It must contain exactly one capture group.
	ExternalIDPattern string `yaml:"external_id_pattern,omitempty"`
	// CurrencyMarkers maps a marker as it appears in price text (symbol or
	// code, lowercase) to the ISO currency code to record.
	CurrencyMarkers map[string]string `yaml:"currency_markers,omitempty"`
}

// FetchConfig holds the browser-like request headers and per-request limits.
type FetchConfig struct {
	UserAgent      string        `yaml:"user_agent,omitempty"`
	Accept         string        `yaml:"accept,omitempty"`
	AcceptLanguage string        `yaml:"accept_language,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes,omitempty"`
	RespectRobots  bool          `yaml:"respect_robots,omitempty"`
}

// CrawlConfig bounds a single crawl invocation.
type CrawlConfig struct {
	DefaultMaxPages int           `yaml:"default_max_pages,omitempty"`
	MaxMaxPages     int           `yaml:"max_max_pages,omitempty"`
	PageParam       string        `yaml:"page_param,omitempty"`
	RefreshWorkers  int           `yaml:"refresh_workers,omitempty"` // Parallelism for refresh-all batches
	PageDelay       time.Duration `yaml:"page_delay,omitempty"`      // Pause between page fetches within one crawl
}

// PriceConfig holds the plausibility window for parsed prices. Values outside
// the window are discarded (the listing is kept, its price is not).
type PriceConfig struct {
	MinPlausible int64 `yaml:"min_plausible,omitempty"`
	MaxPlausible int64 `yaml:"max_plausible,omitempty"`
}

// StorageConfig wires the relational store and the raw payload store.
// DSN is overridden by the DATABASE_URL environment variable when set.
type StorageConfig struct {
	DSN          string `yaml:"dsn,omitempty"`
	PayloadDir   string `yaml:"payload_dir,omitempty"`
	KeepPayloads bool   `yaml:"keep_payloads,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // Explicitly enable/disable HTTP/2 attempt (nil=default)
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Marketplace        MarketplaceConfig `yaml:"marketplace"`
	Fetch              FetchConfig       `yaml:"fetch,omitempty"`
	Crawl              CrawlConfig       `yaml:"crawl,omitempty"`
	Price              PriceConfig       `yaml:"price,omitempty"`
	Storage            StorageConfig     `yaml:"storage,omitempty"`
	HTTPClientSettings HTTPClientConfig  `yaml:"http_client_settings,omitempty"`
}

// Load reads and parses a YAML config file, applies defaults, and validates.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a ready-to-use configuration without a config file.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}
