package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vaultsync/vaultsync/internal/config"
)

// unhealthyTerminateAfter is how long a worker may stay unhealthy before
// the supervisor forcibly terminates and respawns it.
const unhealthyTerminateAfter = 30 * time.Second

// shutdownGrace is the window between a soft and a hard worker kill.
const shutdownGrace = 5 * time.Second

// startupStagger is the delay between successive worker spawns.
const startupStagger = 2 * time.Second

// Supervisor owns the public listener and the set of supervised workers.
type Supervisor struct {
	cfg config.SupervisorConfig
	log zerolog.Logger

	httpServer *http.Server
	httpClient *http.Client

	mu       sync.Mutex
	workers  []*workerState
	nextPort int
	rrIndex  int
	closing  bool

	totalServers  prometheus.Gauge
	healthyServer prometheus.Gauge
}

// New constructs a Supervisor; it does not spawn workers until Run is
// called.
func New(cfg config.SupervisorConfig, log zerolog.Logger) *Supervisor {
	reg := prometheus.NewRegistry()
	s := &Supervisor{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		nextPort:   cfg.WorkerBasePort,
		totalServers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "vaultsync_supervisor_total_servers",
			Help: "Total number of supervised worker processes.",
		}),
		healthyServer: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "vaultsync_supervisor_healthy_servers",
			Help: "Number of worker processes currently healthy.",
		}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDispatch)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s
}

// Run spawns min_instances workers, starts the health loop, and serves the
// public listener until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.cfg.MinInstances; i++ {
		if err := s.spawnWorker(); err != nil {
			s.log.Error().Err(err).Msg("initial worker spawn failed")
		}
		if i < s.cfg.MinInstances-1 {
			time.Sleep(startupStagger)
		}
	}

	g.Go(func() error {
		s.healthLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace+time.Second)
		defer cancel()
		return s.shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return g.Wait()
}

func (s *Supervisor) spawnWorker() error {
	s.mu.Lock()
	port := s.nextPort
	s.nextPort++
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.ServerBinary)
	cmd.Env = append(os.Environ(),
		"HOST=127.0.0.1",
		fmt.Sprintf("PORT=%d", port),
		fmt.Sprintf("SHARED_STORAGE_ROOT=%s", s.cfg.Storage.Root),
		fmt.Sprintf("FILES_DIR=%s", s.cfg.Storage.FilesDir),
		fmt.Sprintf("VERSIONS_DIR=%s", s.cfg.Storage.VersionsDir),
		fmt.Sprintf("METADATA_DIR=%s", s.cfg.Storage.MetadataDir),
		fmt.Sprintf("CHUNKS_DIR=%s", s.cfg.Storage.ChunksDir),
		fmt.Sprintf("CONFLICTS_DIR=%s", s.cfg.Storage.ConflictsDir),
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker on port %d: %w", port, err)
	}

	w := &workerState{
		port:      port,
		cmd:       cmd,
		startedAt: time.Now(),
		client:    s.httpClient,
	}

	s.mu.Lock()
	s.workers = append(s.workers, w)
	total := len(s.workers)
	s.mu.Unlock()
	s.totalServers.Set(float64(total))

	s.log.Info().Int("port", port).Msg("worker spawned")

	go s.awaitExit(w)
	return nil
}

// awaitExit blocks on the worker's process exit and triggers crash
// recovery.
func (s *Supervisor) awaitExit(w *workerState) {
	_ = w.cmd.Wait()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.removeWorkerLocked(w)
	healthy := s.healthyCountLocked()
	total := len(s.workers)
	min := s.cfg.MinInstances
	max := s.cfg.MaxInstances
	s.mu.Unlock()

	s.log.Warn().Int("port", w.port).Msg("worker exited")
	s.totalServers.Set(float64(total))
	s.healthyServer.Set(float64(healthy))

	if healthy == 0 {
		if err := s.spawnWorker(); err != nil {
			s.log.Error().Err(err).Msg("immediate respawn failed")
		}
		return
	}
	if healthy < min && total < max {
		time.Sleep(500 * time.Millisecond)
		if err := s.spawnWorker(); err != nil {
			s.log.Error().Err(err).Msg("respawn failed")
		}
	}
}

func (s *Supervisor) removeWorkerLocked(target *workerState) {
	out := s.workers[:0]
	for _, w := range s.workers {
		if w != target {
			out = append(out, w)
		}
	}
	s.workers = out
}

func (s *Supervisor) healthyCountLocked() int {
	n := 0
	for _, w := range s.workers {
		if w.healthy {
			n++
		}
	}
	return n
}

// healthLoop probes every worker's /health every HealthCheckInterval.
func (s *Supervisor) healthLoop(ctx context.Context) {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeAll(ctx)
		}
	}
}

func (s *Supervisor) probeAll(ctx context.Context) {
	s.mu.Lock()
	workers := append([]*workerState(nil), s.workers...)
	s.mu.Unlock()

	for _, w := range workers {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ok := w.probeHealth(probeCtx)
		cancel()

		w.mu.Lock()
		was := w.healthy
		w.healthy = ok
		w.lastHealthCheckAt = time.Now()
		if ok {
			w.unhealthySince = time.Time{}
		} else if w.unhealthySince.IsZero() {
			w.unhealthySince = time.Now()
		}
		unhealthyFor := time.Duration(0)
		if !ok && !w.unhealthySince.IsZero() {
			unhealthyFor = time.Since(w.unhealthySince)
		}
		w.mu.Unlock()

		if was && !ok {
			s.log.Warn().Int("port", w.port).Msg("worker became unhealthy")
		}
		if !ok && unhealthyFor > unhealthyTerminateAfter {
			s.log.Warn().Int("port", w.port).Dur("unhealthy_for", unhealthyFor).Msg("terminating stuck worker")
			_ = w.cmd.Process.Kill()
		}
	}

	s.mu.Lock()
	healthy := s.healthyCountLocked()
	total := len(s.workers)
	s.mu.Unlock()
	s.totalServers.Set(float64(total))
	s.healthyServer.Set(float64(healthy))
}

// pickWorker returns the next healthy worker round-robin.
func (s *Supervisor) pickWorker() *workerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.workers)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := (s.rrIndex + i) % n
		w := s.workers[idx]
		if w.healthy {
			s.rrIndex = (idx + 1) % n
			return w
		}
	}
	return nil
}

// handleDispatch round-robins an incoming request across healthy workers,
// retrying once on transport failure.
func (s *Supervisor) handleDispatch(w http.ResponseWriter, r *http.Request) {
	for attempt := 0; attempt < 2; attempt++ {
		target := s.pickWorker()
		if target == nil {
			http.Error(w, "no healthy workers", http.StatusServiceUnavailable)
			return
		}
		if s.proxy(target, w, r) {
			return
		}
		target.mu.Lock()
		target.healthy = false
		target.mu.Unlock()
	}
	http.Error(w, "no healthy workers", http.StatusServiceUnavailable)
}

// proxy forwards r to target and copies its response, returning false on a
// transport-level failure so the caller can retry elsewhere.
func (s *Supervisor) proxy(target *workerState, w http.ResponseWriter, r *http.Request) bool {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.baseURL()+r.URL.RequestURI(), r.Body)
	if err != nil {
		return false
	}
	outReq.Header = r.Header.Clone()

	resp, err := s.httpClient.Do(outReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return true
}

// statusResponse is the supervisor's status() shape.
type statusResponse struct {
	ProxyPort         int           `json:"proxy_port"`
	BindAddress       string        `json:"bind_address"`
	TotalServers      int           `json:"total_servers"`
	HealthyServers    int           `json:"healthy_servers"`
	SharedStorageRoot string        `json:"shared_storage_root"`
	Servers           []StatusEntry `json:"servers"`
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entries := make([]StatusEntry, 0, len(s.workers))
	for _, wk := range s.workers {
		wk.mu.Lock()
		pid := 0
		if wk.cmd.Process != nil {
			pid = wk.cmd.Process.Pid
		}
		entries = append(entries, StatusEntry{
			Port: wk.port, Healthy: wk.healthy, StartedAt: wk.startedAt, PID: pid,
		})
		wk.mu.Unlock()
	}
	total := len(s.workers)
	healthy := s.healthyCountLocked()
	s.mu.Unlock()

	resp := statusResponse{
		ProxyPort:         s.cfg.Port,
		BindAddress:       s.cfg.Host,
		TotalServers:      total,
		HealthyServers:    healthy,
		SharedStorageRoot: s.cfg.Storage.Root,
		Servers:           entries,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSONStatus(w, resp)
}

// shutdown signals every worker gently, then force-kills any still
// running after shutdownGrace.
func (s *Supervisor) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	workers := append([]*workerState(nil), s.workers...)
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)

	for _, w := range workers {
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	time.Sleep(shutdownGrace)
	for _, w := range workers {
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
	}
	return nil
}
