package ims

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginHandler(t *testing.T, logins *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Username != "user" || body.Password != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s" + string(rune('0'+n)), Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"userProfile": map[string]interface{}{
				"userId":   15492,
				"username": "user",
			},
		})
	}
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Authenticate", func(t *testing.T) {
		var logins atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		assert.False(t, c.Authenticated())
		assert.Equal(t, uint64(0), c.SessionEpoch())

		ok, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, c.Authenticated())
		assert.Equal(t, uint64(1), c.SessionEpoch())

		ok, err = c.Login(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(2), c.SessionEpoch())
	})

	t.Run("InvalidCredentials", func(t *testing.T) {
		var logins atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		ok, err := c.Authenticate(ctx, "invalid", "invalid")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, c.Authenticated())
		assert.Equal(t, int32(0), logins.Load())
	})

	t.Run("ServerErrorDuringLogin", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		c := NewClient(ts.URL, time.Second)
		ok, err := c.Authenticate(ctx, "user", "pass")
		require.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("ListPointsOfDelivery", func(t *testing.T) {
		var logins atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		mux.HandleFunc("GET /api/consumption-production/profile-data/get-points-of-delivery", func(w http.ResponseWriter, r *http.Request) {
			_, err := r.Cookie("session")
			require.NoError(t, err, "session cookie should be sent")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Write([]byte(`[{"text": "99XXX1234560000G (Rodinný dom)", "value": "test_pod_id"}]`))
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		_, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)

		pods, err := c.ListPointsOfDelivery(ctx)
		require.NoError(t, err)
		require.Len(t, pods, 1)
		assert.Equal(t, "99XXX1234560000G (Rodinný dom)", pods[0].DisplayLabel)
		assert.Equal(t, "test_pod_id", pods[0].SessionHandle)
	})

	t.Run("GetIntervalReadings", func(t *testing.T) {
		var logins atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		mux.HandleFunc("POST /api/consumption-production/profile-data/chart-data", func(w http.ResponseWriter, r *http.Request) {
			var body chartDataRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "test_pod_id", body.PointOfDeliveryID)
			assert.Equal(t, "2025-01-20T00:00:00+01:00", body.ValidFromDate)
			assert.Equal(t, "2025-01-20T23:00:00Z", body.ValidToDate)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"meteringDatetime": ["2025-01-20T10:15:00.0000000Z", "2025-01-20T10:30:00.0000000Z"],
				"actualConsumption": [0.1320, null],
				"actualSupply": [null, 0.5],
				"idleConsumption": [0.0, 0.0],
				"idleSupply": [0.72, 0.0],
				"sumActualConsumption": 16.7000,
				"sumActualSupply": 18.7760,
				"sumIdleConsumption": 0.0,
				"sumIdleSupply": 42.7910
			}`))
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		_, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)

		loc := time.FixedZone("CET", 3600)
		from := time.Date(2025, 1, 20, 0, 0, 0, 0, loc)
		res, err := c.GetIntervalReadings(ctx, "test_pod_id", from, from.AddDate(0, 0, 1))
		require.NoError(t, err)

		require.Len(t, res.Timestamps, 2)
		assert.Equal(t, time.Date(2025, 1, 20, 10, 15, 0, 0, time.UTC), res.Timestamps[0])
		require.Len(t, res.Consumption, 2)
		require.NotNil(t, res.Consumption[0])
		assert.Equal(t, 0.1320, *res.Consumption[0])
		assert.Nil(t, res.Consumption[1])
		assert.Nil(t, res.Supply[0])
		require.NotNil(t, res.PeriodSumConsumption)
		assert.Equal(t, 16.7, *res.PeriodSumConsumption)
		require.NotNil(t, res.PeriodSumSupply)
		assert.Equal(t, 18.776, *res.PeriodSumSupply)
	})

	t.Run("SessionExpiredReLogin", func(t *testing.T) {
		var logins, calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		mux.HandleFunc("GET /api/consumption-production/profile-data/get-points-of-delivery", func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				// portal serves the login page once the session is gone
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Write([]byte("<html><body>login</body></html>"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"text": "99XXX1234560000G", "value": "new_handle"}]`))
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		_, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		require.Equal(t, uint64(1), c.SessionEpoch())

		pods, err := c.ListPointsOfDelivery(ctx)
		require.NoError(t, err)
		require.Len(t, pods, 1)
		assert.Equal(t, "new_handle", pods[0].SessionHandle)
		assert.Equal(t, int32(2), logins.Load())
		assert.Equal(t, uint64(2), c.SessionEpoch())
	})

	t.Run("SessionExpiredChartDataNotReplayed", func(t *testing.T) {
		var logins, calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		mux.HandleFunc("POST /api/consumption-production/profile-data/chart-data", func(w http.ResponseWriter, r *http.Request) {
			var body chartDataRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "h", body.PointOfDeliveryID)
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		_, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)

		from := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
		_, err = c.GetIntervalReadings(ctx, "h", from, from.AddDate(0, 0, 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStaleHandle)
		assert.NotErrorIs(t, err, types.ErrAuthentication)

		// the session was renewed but the old handle was not sent again
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(2), logins.Load())
		assert.Equal(t, uint64(2), c.SessionEpoch())
		assert.True(t, c.Authenticated())
	})

	t.Run("SessionExpiredChartDataReLoginRejected", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"userProfile": {"userId": 1, "username": "user"}}`))
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		})
		mux.HandleFunc("POST /api/consumption-production/profile-data/chart-data", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		ok, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)
		require.True(t, ok)

		from := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
		_, err = c.GetIntervalReadings(ctx, "h", from, from.AddDate(0, 0, 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrAuthentication)
		assert.NotErrorIs(t, err, types.ErrStaleHandle)
	})

	t.Run("SessionExpiredNoCredentials", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		}))
		defer ts.Close()

		c := NewClient(ts.URL, time.Second)
		_, err := c.ListPointsOfDelivery(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrAuthentication)
	})

	t.Run("SessionStillExpiredAfterReLogin", func(t *testing.T) {
		var logins atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		mux.HandleFunc("GET /api/consumption-production/profile-data/get-points-of-delivery", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		_, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)

		_, err = c.ListPointsOfDelivery(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrAuthentication)
		assert.False(t, c.Authenticated())
		assert.Equal(t, int32(2), logins.Load())
	})

	for _, status := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError} {
		t.Run("Status"+http.StatusText(status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer ts.Close()

			c := NewClient(ts.URL, time.Second)
			_, err := c.ListPointsOfDelivery(ctx)
			require.Error(t, err)
			assert.NotErrorIs(t, err, types.ErrAuthentication)
		})
	}

	t.Run("Logout", func(t *testing.T) {
		var logins atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/account/login", loginHandler(t, &logins))
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := NewClient(ts.URL+"/api", time.Second)
		_, err := c.Authenticate(ctx, "user", "pass")
		require.NoError(t, err)

		c.Logout(ctx)
		assert.False(t, c.Authenticated())

		ok, err := c.Login(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "credentials should be forgotten")
	})
}

func TestIsSessionExpired(t *testing.T) {
	for _, tc := range []struct {
		status      int
		contentType string
		expired     bool
	}{
		{http.StatusOK, "text/html; charset=utf-8", true},
		{http.StatusOK, "application/json; charset=utf-8", false},
		{http.StatusOK, "", false},
		{http.StatusUnauthorized, "application/json", true},
		{http.StatusInternalServerError, "application/json", false},
	} {
		resp := &http.Response{StatusCode: tc.status, Header: http.Header{}}
		resp.Header.Set("Content-Type", tc.contentType)
		assert.Equal(t, tc.expired, isSessionExpired(resp), "%d %q", tc.status, tc.contentType)
	}
}

func TestParseMeteringTime(t *testing.T) {
	ts, err := parseMeteringTime("2025-01-20T10:15:00.0000000Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 20, 10, 15, 0, 0, time.UTC), ts)

	ts, err = parseMeteringTime("2025-01-20T11:15:00+01:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 20, 10, 15, 0, 0, time.UTC), ts)

	ts, err = parseMeteringTime("2025-01-20T10:15:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 20, 10, 15, 0, 0, time.UTC), ts)

	_, err = parseMeteringTime("yesterday")
	assert.Error(t, err)
}
