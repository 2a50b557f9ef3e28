package twincore

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// allowMethods is the Access-Control-Allow-Methods answer.
const allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// Controls are the runtime knobs of a server: its journal, its fault
// table and the middleware that applies the Config.
type Controls struct {
	Journal *Journal
	Faults  *FaultTable

	cfg    *Config
	logger *slog.Logger
}

// NewControls returns controls driven by cfg. A nil logger discards.
func NewControls(cfg *Config, logger *slog.Logger) *Controls {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controls{
		Journal: NewJournal(DefaultJournalSize),
		Faults:  NewFaultTable(),
		cfg:     cfg,
		logger:  logger,
	}
}

// CORS answers preflight requests itself and decorates every other
// response. The request's Origin is echoed when present.
func (c *Controls) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		} else {
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Record journals every exchange. Header values are kept only in verbose
// mode, and never the Authorization header.
func (c *Controls) Record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		ex := Exchange{
			At:        start,
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Status:    status,
			Bytes:     ww.BytesWritten(),
			ElapsedMS: float64(elapsed.Microseconds()) / 1000,
			RequestID: chimw.GetReqID(r.Context()),
		}
		verbose := c.cfg.verbose()
		if verbose {
			ex.Headers = make(map[string]string, len(r.Header))
			for name := range r.Header {
				if !strings.EqualFold(name, "Authorization") {
					ex.Headers[name] = r.Header.Get(name)
				}
			}
		}
		seq := c.Journal.Record(ex)

		if verbose {
			c.logger.Debug("request", "seq", seq, "method", r.Method, "path", r.URL.Path,
				"status", status, "elapsed", elapsed)
		}
	})
}

// Delay holds every request for the configured latency, jittered by
// plus or minus 20 percent.
func (c *Controls) Delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := c.cfg.latency(); d > 0 {
			d = time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
			if !sleep(r, d) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Chaos fails requests with a 500 at the configured rate.
func (c *Controls) Chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rate := c.cfg.failRate(); rate > 0 && rand.Float64() < rate {
			Error(w, http.StatusInternalServerError, "simulated random failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InjectFaults applies the fault table. Mount it on the API routes only so
// the admin endpoints stay reachable while faults are active.
func (c *Controls) InjectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := c.Faults.Match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.DelayMS > 0 && !sleep(r, time.Duration(f.DelayMS)*time.Millisecond) {
			return
		}
		if f.Status == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if f.Body == "" {
			Error(w, f.Status, http.StatusText(f.Status)+" (injected)")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.Status)
		_, _ = w.Write([]byte(f.Body))
	})
}

// sleep waits for d and reports false when the client went away first.
func sleep(r *http.Request, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}
