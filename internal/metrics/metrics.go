package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ingestion metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollcap_events_total",
			Help: "Total platform events received, by ingestion result",
		},
		[]string{"kind", "result"},
	)

	QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollcap_queue_dropped_total",
			Help: "Scroll deltas dropped from the head of a full queue",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrollcap_queue_depth",
			Help: "Scroll deltas waiting to be drained",
		},
	)

	// Engine metrics
	GhostEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollcap_ghost_events_dropped_total",
			Help: "Events discarded as residue of a dismissed block or a previous app",
		},
		[]string{"stage"},
	)

	InterventionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollcap_interventions_total",
			Help: "Interventions fired, by level and scope",
		},
		[]string{"level", "scope"},
	)

	RealityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollcap_reality_checks_total",
			Help: "Foreground reality checks, by outcome",
		},
		[]string{"outcome"},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrollcap_evaluation_duration_seconds",
			Help:    "Time spent evaluating enforcement for one trigger",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .25},
		},
	)

	// Usage metrics
	DistanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollcap_distance_units_total",
			Help: "Scroll distance accumulated, in canonical units",
		},
		[]string{"app"},
	)

	SessionDistance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrollcap_session_distance_units",
			Help: "Unflushed distance held for the current app",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollcap_flushes_total",
			Help: "Usage record flushes, by result",
		},
		[]string{"result"},
	)

	ArchivedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollcap_archived_records_total",
			Help: "Raw usage records folded into daily totals",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		QueueDropped,
		QueueDepth,
		GhostEventsDropped,
		InterventionsTotal,
		RealityChecksTotal,
		EvaluationDuration,
		DistanceTotal,
		SessionDistance,
		FlushesTotal,
		ArchivedRecords,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
