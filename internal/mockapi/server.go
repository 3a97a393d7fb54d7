// Package mockapi is an in-process stand-in for the stress-api load-test
// server. It accepts test submissions, simulates their progress, and serves
// the summary, results and stop endpoints plus the metrics push channel.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gocache "github.com/patrickmn/go-cache"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/config"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
)

// Option customizes a Server.
type Option func(*Server)

// WithToken requires a bearer token on every request.
func WithToken(token string) Option {
	return func(s *Server) {
		s.authToken = token
	}
}

// WithLogger sets the request logger; nil keeps the default.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for elapsed times and samples.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server is an in-memory stand-in for the load-test service.
type Server struct {
	cfg         config.MockConfig
	tests       *gocache.Cache
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	authToken   string
	logger      *log.Logger
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewServer creates a server. Tests expire cfg.TestTTL after submission and
// are then reported as not found.
func NewServer(cfg config.MockConfig, options ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.cfg.TestTTL <= 0 {
		s.cfg.TestTTL = time.Hour
	}
	if s.cfg.Tick <= 0 {
		s.cfg.Tick = 250 * time.Millisecond
	}
	if s.cfg.LevelTime <= 0 {
		s.cfg.LevelTime = 3 * time.Second
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.broadcaster = NewBroadcaster(s.logger)
	s.tests = gocache.New(s.cfg.TestTTL, s.cfg.TestTTL/2)
	s.tests.OnEvicted(func(id string, v interface{}) {
		v.(*mockRun).cancel()
		s.broadcaster.CloseTest(id)
		s.logger.Debug("test expired", "test_id", id)
	})
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// SetupRoutes registers the REST and push endpoints on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tests", s.handleSubmit)
	mux.HandleFunc("/api/tests/", s.handleTestRoutes)
	mux.HandleFunc("/ws/tests/", s.handleWS)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("mock api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close stops every simulation and disconnects push-channel clients.
func (s *Server) Close() {
	s.cancel()
	for id := range s.tests.Items() {
		s.broadcaster.CloseTest(id)
	}
}

// Submit registers and starts a simulated test.
func (s *Server) Submit(cfg client.TestConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	run := newMockRun(id, cfg, s.now(), int64(uuid.New().ID()))
	ctx, cancel := context.WithCancel(s.ctx)
	run.cancel = cancel
	s.tests.Set(id, run, gocache.DefaultExpiration)
	go s.simulate(ctx, run)
	s.logger.Info("test submitted", "test_id", id, "levels", cfg.ConcurrencyLevels, "endpoints", len(cfg.Endpoints))
	return id, nil
}

// Stop stops a running test; unknown ids report false.
func (s *Server) Stop(id string) bool {
	run, ok := s.lookup(id)
	if !ok {
		return false
	}
	if run.stop(s.now()) {
		s.logger.Info("test stopped", "test_id", id)
	}
	return true
}

func (s *Server) lookup(id string) (*mockRun, bool) {
	v, ok := s.tests.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*mockRun), true
}

// perTick spreads a level's requests evenly over LevelTime.
func (s *Server) perTick(requestsPerLevel int) int {
	ticks := float64(s.cfg.LevelTime) / float64(s.cfg.Tick)
	if ticks < 1 {
		ticks = 1
	}
	return int(math.Max(1, math.Ceil(float64(requestsPerLevel)/ticks)))
}

func (s *Server) simulate(ctx context.Context, run *mockRun) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	perTick := s.perTick(run.cfg.RequestsPerLevel)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, seq, ok := run.advance(s.now(), perTick)
			if ok {
				s.broadcaster.Publish(run.id, seq, payload)
			}
			if run.terminal() {
				s.logger.Info("test finished", "test_id", run.id)
				return
			}
		}
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg client.TestConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&cfg); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.Submit(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, client.SubmitResponse{TestID: id, Status: client.StatusPending})
}

func (s *Server) handleTestRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /api/tests/{id}/{summary|results|stop}
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/tests/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	testID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid test id", http.StatusBadRequest)
		return
	}
	run, ok := s.lookup(testID)
	if !ok {
		http.Error(w, "test not found", http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "summary":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, run.summary(s.now()))
	case "results":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		res, ready := run.results(s.now())
		if !ready {
			http.Error(w, "results not ready", http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "stop":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.Stop(testID)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse: /ws/tests/{id}/metrics
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/ws/tests/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "metrics" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	testID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid test id", http.StatusBadRequest)
		return
	}
	if _, ok := s.lookup(testID); !ok {
		http.Error(w, "test not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade error", "err", err)
		return
	}

	s.logger.Debug("push client connected", "test_id", testID, "remote", r.RemoteAddr)
	c := s.broadcaster.AddClient(testID, conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(testID, c)
			s.logger.Debug("push client disconnected", "test_id", testID, "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
