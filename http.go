package smsratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

const defaultStatisticsRange = 24 * time.Hour

type checkRequest struct {
	BusinessPhoneNumber string `json:"businessPhoneNumber"`
}

type checkResponse struct {
	CanSendSMS bool   `json:"canSendSMS"`
	Reason     string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter returns the HTTP API of c. Monitoring routes share
// monitoringLimiter; a nil limiter leaves them unthrottled.
func NewRouter(c *Controller, monitoringLimiter *rate.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(c.logger))

	r.HandleFunc("/smsratelimit/check", c.handleCheck).Methods(http.MethodPost)

	monitoring := r.PathPrefix("/api/monitoring").Subrouter()
	if monitoringLimiter != nil {
		monitoring.Use(ThrottleMiddleware(monitoringLimiter))
	}
	monitoring.HandleFunc("/statistics", c.handleStatistics).Methods(http.MethodGet)
	monitoring.HandleFunc("/phone-numbers", c.handleKnownIdentities).Methods(http.MethodGet)
	monitoring.HandleFunc("/status", c.handleLiveStatus).Methods(http.MethodGet)

	return r
}

// HTTPMiddleware only lets a request through when the sender returned by
// keyGetter is admitted. Capacity denials answer 429 with RateLimit headers.
// This function is compatible with both standard net/http and mux handlers.
func HTTPMiddleware(c *Controller, keyGetter func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict := c.CheckAdmission(r.Context(), keyGetter(r))
			switch verdict.Outcome {
			case Admitted:
				next.ServeHTTP(w, r)
			case DeniedSender, DeniedGlobal:
				setRateLimitHeaders(w, verdict)
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: verdict.Reason})
			case DeniedValidation:
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: verdict.Reason})
			default:
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: verdict.Reason})
			}
		})
	}
}

// ThrottleMiddleware answers 429 once l has no tokens left.
func ThrottleMiddleware(l *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many monitoring requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and writes it to the response.
func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs every request with its status code and duration.
func LoggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // Default to 200 OK if WriteHeader is not called.
			}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			logger.Info("request served",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func (c *Controller) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, checkResponse{Reason: "invalid request body"})
		return
	}

	verdict := c.CheckAdmission(r.Context(), req.BusinessPhoneNumber)
	switch verdict.Outcome {
	case Admitted:
		writeJSON(w, http.StatusOK, checkResponse{CanSendSMS: true})
	case DeniedSender, DeniedGlobal:
		setRateLimitHeaders(w, verdict)
		writeJSON(w, http.StatusBadRequest, checkResponse{Reason: verdict.Reason})
	case DeniedValidation:
		writeJSON(w, http.StatusBadRequest, checkResponse{Reason: verdict.Reason})
	default:
		writeJSON(w, http.StatusInternalServerError, checkResponse{Reason: verdict.Reason})
	}
}

func (c *Controller) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := c.now()
	if v := q.Get("endTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "endTime must be RFC3339"})
			return
		}
		end = t
	}
	start := end.Add(-defaultStatisticsRange)
	if v := q.Get("startTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "startTime must be RFC3339"})
			return
		}
		start = t
	}

	stats, err := c.GetStatistics(r.Context(), start, end, q.Get("businessPhoneNumber"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stats)
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		c.logger.Error("error getting statistics", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get statistics"})
	}
}

func (c *Controller) handleKnownIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := c.GetKnownIdentities(r.Context())
	if err != nil {
		c.logger.Error("error getting phone numbers", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get phone numbers"})
		return
	}
	writeJSON(w, http.StatusOK, identities)
}

func (c *Controller) handleLiveStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.GetLiveStatus())
}

func setRateLimitHeaders(w http.ResponseWriter, v Verdict) {
	if v.Snapshot == nil {
		return
	}
	w.Header().Add("RateLimit-Limit", fmt.Sprintf("%v", v.Snapshot.Capacity))
	w.Header().Add("RateLimit-Remaining", fmt.Sprintf("%v", max(v.Snapshot.RemainingCapacity, 0)))
	w.Header().Add("RateLimit-Policy", fmt.Sprintf("%v;w=%v", v.Snapshot.Capacity, v.Snapshot.Window.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
