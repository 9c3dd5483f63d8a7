// Package api exposes the rover's HTTP status and diagnostics endpoints
// and its gRPC health service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/actuate"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/depth"
	"github.com/banshee-data/rover/internal/frames"
	"github.com/banshee-data/rover/internal/httputil"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/pipeline"
	"github.com/banshee-data/rover/internal/selftest"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/version"
)

var logf = monitoring.Tagged("api")

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// SelftestRunner runs the transform diagnostics. *selftest.Suite
// implements it.
type SelftestRunner interface {
	Run(ctx context.Context) (*selftest.Report, error)
}

// Deps are the components the server reports on. Any of them may be nil;
// the endpoints that need a missing one answer 503.
type Deps struct {
	Controller *actuate.Controller
	Mailbox    *actuate.Mailbox
	Pipeline   *pipeline.Pipeline
	Frames     *frames.Publisher
	DB         *db.DB
	Selftest   SelftestRunner
	Depth      *depth.Reconstructor
	Clock      timeutil.Clock
}

type Server struct {
	d       Deps
	started time.Time

	// selftestMu admits one diagnostics run at a time.
	selftestMu sync.Mutex
}

func NewServer(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	return &Server{d: d, started: d.Clock.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/predictions", s.listPredictions)
	mux.HandleFunc("/api/actions", s.listActions)
	mux.HandleFunc("/api/selftest", s.handleSelftest)
	mux.HandleFunc("/api/selftest/{id}", s.showSelftest)
	mux.HandleFunc("/api/depth", s.showDepth)
	mux.HandleFunc("/api/charts/features", s.featuresChart)
	return mux
}

// Status is the body of GET /api/status.
type Status struct {
	Version   version.Info          `json:"version"`
	Uptime    time.Duration         `json:"uptime_ns"`
	SessionID string                `json:"session_id,omitempty"`
	Motor     *actuate.Status       `json:"motor,omitempty"`
	Mailbox   *actuate.MailboxStats `json:"mailbox,omitempty"`
	Pipeline  *pipeline.Stats       `json:"pipeline,omitempty"`
	Frames    *frames.Stats         `json:"frames,omitempty"`
	Latest    *pipeline.Result      `json:"latest,omitempty"`
}

func (s *Server) status() Status {
	st := Status{Version: version.Get(), Uptime: s.d.Clock.Now().Sub(s.started)}
	if c := s.d.Controller; c != nil {
		ms := c.Status()
		st.Motor = &ms
	}
	if m := s.d.Mailbox; m != nil {
		mb := m.Stats()
		st.Mailbox = &mb
	}
	if p := s.d.Pipeline; p != nil {
		ps := p.Stats()
		st.Pipeline = &ps
		st.SessionID = p.SessionID()
		if res, ok := p.Latest(); ok {
			st.Latest = &res
		}
	}
	if f := s.d.Frames; f != nil {
		fs := f.Stats()
		st.Frames = &fs
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) listPredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.d.DB == nil {
		httputil.ServiceUnavailable(w, "no database")
		return
	}
	limit, err := httputil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	preds, err := s.d.DB.RecentPredictions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list predictions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, preds)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.d.DB == nil {
		httputil.ServiceUnavailable(w, "no database")
		return
	}
	limit, err := httputil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	actions, err := s.d.DB.RecentMotorActions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list motor actions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, actions)
}

// errSelftestBusy is returned while another diagnostics run is in flight.
var errSelftestBusy = errors.New("a self-test is already running")

// RunSelftest runs the diagnostics once and records the report.
func (s *Server) RunSelftest(ctx context.Context) (*selftest.Report, error) {
	if !s.selftestMu.TryLock() {
		return nil, errSelftestBusy
	}
	defer s.selftestMu.Unlock()

	report, err := s.d.Selftest.Run(ctx)
	if err != nil {
		return nil, err
	}
	if s.d.DB != nil {
		if err := s.d.DB.RecordSelftest(report); err != nil {
			logf("failed to record self-test %s: %v", report.ID, err)
		}
	}
	logf("self-test %s: passed=%v checks=%d failed=%d", report.ID, report.Passed, len(report.Checks), len(report.Failed()))
	return report, nil
}

func (s *Server) handleSelftest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if s.d.Selftest == nil {
			httputil.ServiceUnavailable(w, "self-test not configured")
			return
		}
		report, err := s.RunSelftest(r.Context())
		if errors.Is(err, errSelftestBusy) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("self-test failed to run: %v", err))
			return
		}
		httputil.WriteJSONOK(w, report)
	case http.MethodGet:
		if s.d.DB == nil {
			httputil.ServiceUnavailable(w, "no database")
			return
		}
		limit, err := httputil.QueryLimit(r, defaultListLimit, maxListLimit)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		runs, err := s.d.DB.SelftestRuns(limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list self-test runs: %v", err))
			return
		}
		httputil.WriteJSONOK(w, runs)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showSelftest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.d.DB == nil {
		httputil.ServiceUnavailable(w, "no database")
		return
	}
	id := r.PathValue("id")
	run, ok, err := s.d.DB.GetSelftestRun(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load self-test run: %v", err))
		return
	}
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no self-test run %q", id))
		return
	}
	httputil.WriteJSONOK(w, run)
}

// DepthOfLatest reconstructs the depth map of the newest frame. The frame
// slot is held only while its luma is copied out.
func (s *Server) DepthOfLatest(ctx context.Context) (*depth.Map, error) {
	latest, ok := s.d.Frames.Latest()
	if !ok {
		return nil, errNoFrame
	}
	f, release, err := s.d.Frames.Acquire(ctx, latest.Seq-1)
	if err != nil {
		return nil, err
	}
	luma, err := depth.ReadLuma(s.d.Frames.View(), f)
	release()
	if err != nil {
		return nil, err
	}
	m, err := s.d.Depth.FromLuma(ctx, luma, f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	m.Seq = f.Seq
	return m, nil
}

var errNoFrame = errors.New("no frame published yet")

func (s *Server) showDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.d.Depth == nil || s.d.Frames == nil {
		httputil.ServiceUnavailable(w, "depth reconstruction not configured")
		return
	}
	m, err := s.DepthOfLatest(r.Context())
	switch {
	case errors.Is(err, errNoFrame):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, depth.ErrBusy):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("depth reconstruction failed: %v", err))
	default:
		httputil.WriteJSONOK(w, m)
	}
}
