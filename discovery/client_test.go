package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stephnangue/wopihost/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const discoveryXML = `<?xml version="1.0" encoding="UTF-8"?>
<wopi-discovery>
  <net-zone name="external-http">
    <app name="writer">
      <action name="edit" ext="odt" urlsrc="http://collabora:9980/browser/abc/cool.html?"/>
      <action name="edit" ext="docx" urlsrc="http://collabora:9980/browser/abc/cool.html?"/>
    </app>
    <app name="calc">
      <action name="edit" ext="ods" urlsrc="http://collabora:9980/browser/abc/calc.html?"/>
      <action name="view" ext="ods" urlsrc="http://collabora:9980/browser/abc/calc-view.html?"/>
    </app>
  </net-zone>
</wopi-discovery>`

func newTestClient(t *testing.T, serverURL string, ttl time.Duration) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		ServerURL: func() string { return serverURL },
		CacheTTL:  ttl,
		Logger:    logger.NewZerologLogger(logger.DefaultConfig()),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestURLSrc(t *testing.T) {
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hosting/discovery", r.URL.Path)
		fetches.Add(1)
		w.Write([]byte(discoveryXML))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)

	urlSrc, err := c.URLSrc(context.Background(), "report.odt")
	require.NoError(t, err)
	assert.Equal(t, "http://collabora:9980/browser/abc/cool.html?", urlSrc)

	// Second lookup, different extension, same cached document.
	urlSrc, err = c.URLSrc(context.Background(), "budget.ods")
	require.NoError(t, err)
	assert.Equal(t, "http://collabora:9980/browser/abc/calc.html?", urlSrc)

	assert.Equal(t, int64(1), fetches.Load(), "cached extensions must not refetch")
}

func TestURLSrc_FirstActionWins(t *testing.T) {
	actions, err := parseActions([]byte(discoveryXML))
	require.NoError(t, err)
	assert.Equal(t, "http://collabora:9980/browser/abc/calc.html?", actions["ods"])
}

func TestURLSrc_NoExtension(t *testing.T) {
	c := newTestClient(t, "http://unused", time.Hour)

	_, err := c.URLSrc(context.Background(), "README")
	assert.ErrorIs(t, err, ErrNoExtension)
}

func TestURLSrc_UnknownExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(discoveryXML))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour)

	_, err := c.URLSrc(context.Background(), "archive.zip")
	assert.ErrorIs(t, err, ErrNoEditor)
}

func TestURLSrc_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(&Config{
		ServerURL: func() string { return srv.URL },
		Logger:    logger.NewZerologLogger(logger.DefaultConfig()),
	})
	require.NoError(t, err)
	defer c.Close()
	// Keep the test fast despite retries.
	c.http.RetryMax = 0
	c.http.RetryWaitMin = 0
	c.http.RetryWaitMax = 0

	_, err = c.URLSrc(context.Background(), "doc.odt")
	assert.Error(t, err)
}

func TestParseActions_Malformed(t *testing.T) {
	_, err := parseActions([]byte("not xml at all"))
	assert.Error(t, err)
}
