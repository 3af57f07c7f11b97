package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotsChecker_AllowedAndCached(t *testing.T) {
	t.Parallel()
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client(), "LeadgenBot", time.Hour)

	ok, err := rc.Allowed(context.Background(), srv.URL+"/contact")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.Allowed(context.Background(), srv.URL+"/admin/users")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, 2*time.Second, rc.CrawlDelay(srv.Listener.Addr().String()))
}

func TestRobotsChecker_MissingAllowsAll(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rc := NewRobotsChecker(nil, "LeadgenBot", 0)
	ok, err := rc.Allowed(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, rc.CrawlDelay(srv.Listener.Addr().String()))
}

func TestRobotsChecker_InvalidURL(t *testing.T) {
	t.Parallel()
	rc := NewRobotsChecker(nil, "LeadgenBot", 0)
	_, err := rc.Allowed(context.Background(), "/relative/path")
	require.Error(t, err)
}
