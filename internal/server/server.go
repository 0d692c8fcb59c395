package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vnykmshr/bufstream/internal/config"
	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/common/validation"
	"github.com/vnykmshr/bufstream/pkg/metrics"
	"github.com/vnykmshr/bufstream/pkg/storage/body"
	"github.com/vnykmshr/bufstream/pkg/streaming/httpsink"
)

// RetryAfterSeconds is the Retry-After hint sent with 503 responses.
const RetryAfterSeconds = 1

// Options holds the dependencies of a Server.
type Options struct {
	Config   *config.Config
	Store    body.Store
	Logger   *zap.Logger
	Metrics  *metrics.Registry
	Gatherer prometheus.Gatherer
}

// Stats aggregates stream outcomes across all requests.
type Stats struct {
	StreamsStarted  int64
	StreamsFinished int64
	StreamsCanceled int64
	BytesDelivered  int64
}

// Server serves stored bodies over HTTP, streaming each one through a
// ChunkProducer.
type Server struct {
	config  *config.Config
	store   body.Store
	logger  *zap.Logger
	metrics *metrics.Registry
	mux     *http.ServeMux

	started  atomic.Int64
	finished atomic.Int64
	canceled atomic.Int64
	bytes    atomic.Int64
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, bserrors.NewValidationError("server", "config", nil, "cannot be nil")
	}
	if err := validation.ValidateNotNil("server", "store", opts.Store); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  opts.Config,
		store:   opts.Store,
		logger:  logger,
		metrics: opts.Metrics,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /bodies/{key...}", s.handleGet)
	s.mux.HandleFunc("PUT /bodies/{key...}", s.handlePut)
	s.mux.HandleFunc("DELETE /bodies/{key...}", s.handleDelete)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	if opts.Config.Metrics.Enabled {
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		s.mux.Handle("GET "+opts.Config.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Stats returns aggregate stream counters.
func (s *Server) Stats() Stats {
	return Stats{
		StreamsStarted:  s.started.Load(),
		StreamsFinished: s.finished.Load(),
		StreamsCanceled: s.canceled.Load(),
		BytesDelivered:  s.bytes.Load(),
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	data, err := s.store.Get(r.Context(), key)
	if err != nil {
		if bserrors.IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.storeError(w, "body lookup failed", key, err)
		return
	}

	sc := s.config.StreamOptions()
	sc.Producer.Name = "bodies"
	sc.Producer.Logger = s.logger
	sc.Producer.Metrics = s.metrics
	sc.Producer.OnChunk = func(n int) { s.bytes.Add(int64(n)) }
	sc.Producer.OnFinish = func(int) { s.finished.Add(1) }
	sc.Producer.OnStop = func(delivered, remaining int) {
		s.canceled.Add(1)
		s.logger.Debug("stream canceled",
			zap.String("key", key),
			zap.Int("delivered", delivered),
			zap.Int("remaining", remaining))
	}
	sc.Sink.Name = "bodies"
	sc.Sink.Logger = s.logger
	sc.Sink.Metrics = s.metrics

	w.Header().Set("Content-Type", "application/octet-stream")
	s.started.Add(1)

	if err := httpsink.Stream(r.Context(), w, data, sc); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("stream failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.config.Server.MaxBodyBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	if err := s.store.Put(r.Context(), key, data, s.config.Store.TTL); err != nil {
		s.storeError(w, "body store failed", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := s.store.Delete(r.Context(), key); err != nil {
		s.storeError(w, "body delete failed", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storeError answers a failed store call. Timeouts and capacity pressure
// are worth retrying and get 503 with Retry-After; anything else is 502.
func (s *Server) storeError(w http.ResponseWriter, msg, key string, err error) {
	if bserrors.IsRetryable(err) || bserrors.IsTemporary(err) {
		s.logger.Warn(msg, zap.String("key", key), zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		http.Error(w, "store busy", http.StatusServiceUnavailable)
		return
	}
	s.logger.Error(msg, zap.String("key", key), zap.Error(err))
	http.Error(w, "store unavailable", http.StatusBadGateway)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// StartReporter logs a stats snapshot on the configured cron schedule. The
// returned function stops the reporter and waits for a running report.
func (s *Server) StartReporter() (func(), error) {
	schedule := s.config.Report.Schedule
	if schedule == "" {
		return func() {}, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.report); err != nil {
		return nil, bserrors.NewValidationError("server", "report.schedule", schedule, err.Error())
	}
	c.Start()

	return func() { <-c.Stop().Done() }, nil
}

func (s *Server) report() {
	st := s.Stats()
	s.logger.Info("stream stats",
		zap.Int64("started", st.StreamsStarted),
		zap.Int64("finished", st.StreamsFinished),
		zap.Int64("canceled", st.StreamsCanceled),
		zap.Int64("bytes", st.BytesDelivered))
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr)
	if err != nil {
		return bserrors.NewOperationError("server", "Listen", err).WithContext("addr=" + s.config.Server.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadTimeout:       s.config.Server.ReadTimeout,
		ReadHeaderTimeout: s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
