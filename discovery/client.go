// Package discovery resolves a file extension to the editor's load URL
// by fetching and caching the editor server's discovery document
// (<server>/hosting/discovery).
package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/stephnangue/wopihost/logger"
)

var (
	// ErrNoExtension means the file id carries no extension to match
	// against the discovery document.
	ErrNoExtension = errors.New("discovery: file id has no extension")

	// ErrNoEditor means the discovery document lists no action for the
	// file's extension.
	ErrNoEditor = errors.New("discovery: no editor action for extension")
)

// Config wires a Client.
type Config struct {
	// ServerURL returns the editor server's base URL from the current
	// tenant configuration. Consulted on every fetch, never cached.
	ServerURL func() string

	// CacheTTL bounds how long a resolved urlsrc is reused before the
	// discovery document is fetched again. Defaults to one hour.
	CacheTTL time.Duration

	Logger logger.Logger
}

// Client fetches the discovery document with retries, parses the action
// list and caches the per-extension urlsrc values. Concurrent cache
// misses collapse into a single fetch.
type Client struct {
	http      *retryablehttp.Client
	cache     *ristretto.Cache[string, string]
	group     singleflight.Group
	serverURL func() string
	ttl       time.Duration
	logger    logger.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: initializing cache: %w", err)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Client{
		http:      httpClient,
		cache:     cache,
		serverURL: cfg.ServerURL,
		ttl:       ttl,
		logger:    cfg.Logger,
	}, nil
}

// URLSrc returns the editor load URL for the file's extension.
func (c *Client) URLSrc(ctx context.Context, fileID string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileID), "."))
	if ext == "" {
		return "", ErrNoExtension
	}

	if urlSrc, ok := c.cache.Get(ext); ok {
		return urlSrc, nil
	}

	// All extensions come from the same document, so every concurrent
	// miss shares one fetch.
	v, err, _ := c.group.Do("fetch", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return "", err
	}

	actions := v.(map[string]string)
	urlSrc, ok := actions[ext]
	if !ok {
		c.logger.Debug("no urlsrc in discovery response",
			logger.String("file_id", fileID),
			logger.String("ext", ext),
		)
		return "", fmt.Errorf("%w: %s", ErrNoEditor, ext)
	}
	return urlSrc, nil
}

// Close releases the cache's resources.
func (c *Client) Close() {
	c.cache.Close()
}

func (c *Client) fetch(ctx context.Context) (map[string]string, error) {
	url := strings.TrimSuffix(c.serverURL(), "/") + "/hosting/discovery"
	c.logger.Debug("fetching discovery document", logger.String("url", url))

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("discovery: %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discovery: reading response: %w", err)
	}

	actions, err := parseActions(body)
	if err != nil {
		return nil, err
	}

	for ext, urlSrc := range actions {
		c.cache.SetWithTTL(ext, urlSrc, int64(len(ext)+len(urlSrc)), c.ttl)
	}
	c.cache.Wait()

	c.logger.Debug("discovery document cached",
		logger.Int("actions", len(actions)),
		logger.Duration("ttl", c.ttl),
	)
	return actions, nil
}

type discoveryDoc struct {
	XMLName  xml.Name  `xml:"wopi-discovery"`
	NetZones []netZone `xml:"net-zone"`
}

type netZone struct {
	Apps []discoveredApp `xml:"app"`
}

type discoveredApp struct {
	Name    string   `xml:"name,attr"`
	Actions []action `xml:"action"`
}

type action struct {
	Name   string `xml:"name,attr"`
	Ext    string `xml:"ext,attr"`
	URLSrc string `xml:"urlsrc,attr"`
}

func parseActions(body []byte) (map[string]string, error) {
	var doc discoveryDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("discovery: parsing document: %w", err)
	}

	actions := make(map[string]string)
	for _, zone := range doc.NetZones {
		for _, app := range zone.Apps {
			for _, a := range app.Actions {
				ext := strings.ToLower(a.Ext)
				if ext == "" || a.URLSrc == "" {
					continue
				}
				// The first matching action wins, as in the document order
				// the editor publishes.
				if _, seen := actions[ext]; !seen {
					actions[ext] = a.URLSrc
				}
			}
		}
	}
	return actions, nil
}
