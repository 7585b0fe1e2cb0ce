package fitness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourname/sleepstreak/internal"
)

func newFitServer(t *testing.T, handler http.HandlerFunc) *GoogleFitFactory {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoogleFitFactory(srv.URL+"/", 2*time.Second, internal.NopLogger())
}

func TestGoogleFit_QuerySleep(t *testing.T) {
	start := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	f := newFitServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/sessions", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "72", r.URL.Query().Get("activityType"))
		assert.Equal(t, start.Format(time.RFC3339), r.URL.Query().Get("startTime"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session":[
			{"id":"a","startTimeMillis":"1772402400000","endTimeMillis":"1772416800000"},
			{"id":"b","startTimeMillis":"1772418600000","endTimeMillis":"1772427600000"}
		]}`))
	})

	got, err := f.ForToken("tok-1").QuerySleep(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4*time.Hour, got[0].Duration())
	assert.Equal(t, 150*time.Minute, got[1].Duration())
}

func TestGoogleFit_QuerySleepErrors(t *testing.T) {
	f := newFitServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := f.ForToken("tok").QuerySleep(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, internal.ErrProvider)

	f = newFitServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err = f.ForToken("tok").QuerySleep(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, internal.ErrProvider)
}

func TestGoogleFit_Authorize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"ok", http.StatusOK, true, false},
		{"unauthorized", http.StatusUnauthorized, false, false},
		{"forbidden", http.StatusForbidden, false, false},
		{"server error", http.StatusBadGateway, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFitServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/users/me/dataSources", r.URL.Path)
				w.WriteHeader(tc.status)
			})
			ok, err := f.ForToken("tok").Authorize(context.Background())
			assert.Equal(t, tc.want, ok)
			if tc.wantErr {
				assert.ErrorIs(t, err, internal.ErrProvider)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInterval_DurationNeverNegative(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Duration(0), Interval{Start: now, End: now.Add(-time.Minute)}.Duration())
}
