package smsratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func postCheck(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, checkResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/smsratelimit/check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp checkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestRouter_Check(t *testing.T) {
	f := newFixture(t, WithSenderCapacity(1))
	h := NewRouter(f.ctrl, nil)

	rec, resp := postCheck(t, h, `{"businessPhoneNumber":"+15551230000"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.CanSendSMS)
	assert.Empty(t, resp.Reason)

	rec, resp = postCheck(t, h, `{"businessPhoneNumber":"+15551230000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.CanSendSMS)
	assert.Equal(t, "Phone number rate limit exceeded (1/1 messages per second)", resp.Reason)
	assert.Equal(t, "1", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "1;w=1", rec.Header().Get("RateLimit-Policy"))

	rec, resp = postCheck(t, h, `{"businessPhoneNumber":"+1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.CanSendSMS)
	assert.Contains(t, resp.Reason, "phone number")

	rec, _ = postCheck(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_CheckProcessingFailure(t *testing.T) {
	f := newFixture(t, WithPublisher(&recordingPublisher{panics: true}))
	h := NewRouter(f.ctrl, nil)

	rec, resp := postCheck(t, h, `{"businessPhoneNumber":"+15551230000"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, processingFailureReason, resp.Reason)
}

func TestRouter_CheckMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.ctrl, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/smsratelimit/check", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Statistics(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.ctrl, nil)
	start := f.clock.Now()
	f.ctrl.CheckAdmission(context.Background(), sender)

	url := "/api/monitoring/statistics?businessPhoneNumber=%2B15551230000" +
		"&startTime=" + start.Add(-time.Minute).Format(time.RFC3339) +
		"&endTime=" + start.Add(time.Minute).Format(time.RFC3339)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, sender, stats.Identity)
	assert.Equal(t, 1, stats.HistoricalSummary.TotalRequests)
	require.Len(t, stats.TimeSeries, 1)
	assert.True(t, start.Equal(stats.TimeSeries[0].Timestamp))
}

func TestRouter_StatisticsDefaultsToLastDay(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.ctrl, nil)
	f.ctrl.CheckAdmission(context.Background(), sender)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring/statistics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, f.clock.Now().Equal(stats.Range.End))
	assert.Equal(t, 24*time.Hour, stats.Range.End.Sub(stats.Range.Start))
	assert.Equal(t, 1, stats.HistoricalSummary.TotalRequests)
}

func TestRouter_StatisticsBadRequest(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.ctrl, nil)
	now := f.clock.Now().Format(time.RFC3339)

	for _, url := range []string{
		"/api/monitoring/statistics?startTime=yesterday",
		"/api/monitoring/statistics?endTime=tomorrow",
		"/api/monitoring/statistics?startTime=" + now + "&endTime=" + now,
		"/api/monitoring/statistics?businessPhoneNumber=12345",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestRouter_PhoneNumbersAndStatus(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.ctrl, nil)
	f.ctrl.CheckAdmission(context.Background(), "+15550000002")
	f.ctrl.CheckAdmission(context.Background(), "+15550000001")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring/phone-numbers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, []string{"+15550000001", "+15550000002"}, ids)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []LiveStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 3)
}

func TestRouter_MonitoringThrottle(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.ctrl, rate.NewLimiter(rate.Every(time.Hour), 2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring/status", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// the check endpoint is not throttled
	rec, _ := postCheck(t, h, `{"businessPhoneNumber":"+15551230000"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPMiddleware(t *testing.T) {
	f := newFixture(t, WithSenderCapacity(2))

	r := mux.NewRouter()
	r.Use(HTTPMiddleware(f.ctrl, func(r *http.Request) string {
		return r.Header.Get("X-Sender")
	}))
	r.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sent"))
	})

	send := func(sender string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/send", nil)
		req.Header.Set("X-Sender", sender)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, "sent", send(sender).Body.String())
	assert.Equal(t, http.StatusOK, send(sender).Code)

	rec := send(sender)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))

	assert.Equal(t, http.StatusBadRequest, send("not-a-number").Code)
}
