package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRefresh_ConcurrentCallersShareOneRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var in refreshPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "stale", in.Token)
		_ = json.NewEncoder(w).Encode(refreshPayload{Token: "fresh"})
	}))
	defer srv.Close()

	ts := NewTokenSource("stale", srv.URL, srv.Client(), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := ts.Refresh(context.Background(), "stale")
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, tok := range results {
		assert.Equal(t, "fresh", tok)
	}
	cur, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", cur)
}

func TestRefresh_Errors(t *testing.T) {
	ts := NewTokenSource("stale", "", nil, zap.NewNop())
	_, err := ts.Refresh(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrRefreshUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ts = NewTokenSource("stale", srv.URL, srv.Client(), zap.NewNop())
	_, err = ts.Refresh(context.Background(), "stale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	tok, _ := ts.Token(context.Background())
	assert.Equal(t, "stale", tok, "failed refresh keeps the old token")
}
