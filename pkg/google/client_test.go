package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.websiteUri")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "nextPageToken")

		var body textSearchBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pizza in Brooklyn, NY", body.TextQuery)
		assert.Equal(t, 20, body.PageSize)
		assert.Empty(t, body.PageToken)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{{
				ID:                  "p1",
				DisplayName:         DisplayName{Text: "Joe's Pizza"},
				FormattedAddress:    "123 Main St, Brooklyn, NY 11201",
				NationalPhoneNumber: "(212) 555-1234",
				WebsiteURI:          "https://joespizza.example",
				Rating:              4.5,
			}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "pizza in Brooklyn, NY", PageSize: 20})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "Joe's Pizza", p.DisplayName.Text)
	assert.Equal(t, "https://joespizza.example", p.WebsiteURI)
	assert.Equal(t, "(212) 555-1234", p.NationalPhoneNumber)
	assert.InDelta(t, 4.5, p.Rating, 0.001)
}

func TestTextSearch_FollowsPages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body textSearchBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		n := calls.Add(1)
		resp := TextSearchResponse{Places: []Place{{ID: body.PageToken + "x"}}}
		if n < 5 {
			resp.NextPageToken = "t" + string(rune('0'+n))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "plumbers", MaxPages: 3})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, resp.Places, 3)
	assert.Equal(t, "x", resp.Places[0].ID)
	assert.Equal(t, "t1x", resp.Places[1].ID)
	assert.Equal(t, "t3", resp.NextPageToken)
}

func TestTextSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(TextSearchResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "nothing", MaxPages: 4})

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestTextSearch_EmptyQuery(t *testing.T) {
	client := NewClient("test-key")
	_, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "  "})
	require.Error(t, err)
}

func TestTextSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"API key invalid"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "pizza"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(TextSearchResponse{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(ctx, TextSearchRequest{Query: "pizza"})
	require.Error(t, err)
}
