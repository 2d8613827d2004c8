/*
scheduler.go - Rolling-horizon period generation and supervised services

PURPOSE:
  Keeps every active obligation's periods generated a fixed number of
  months ahead, so new periods appear without anyone calling /generate.
  Also wraps the HTTP server so both run under one suture supervisor.

DESIGN:
  - GenerationScheduler runs once on start, then every Interval
  - Horizon is today + HorizonMonths, recomputed on each run
  - Generation is idempotent, so a restart or overlapping run inserts nothing twice
  - A failing obligation is logged and counted; the service keeps running
  - Both services implement suture.Service (Serve(ctx) error)

CONFIGURATION:
  - scheduler.interval: How often to run (default: 1 hour)
  - scheduler.horizon_months: How far ahead to generate (default: 12)
  - scheduler.enabled: Whether the scheduler is added to the supervisor

USAGE:
  sup := suture.NewSimple("reporting-engine")
  sup.Add(NewHTTPService(server, shutdownTimeout))
  sup.Add(NewGenerationScheduler(svc, time.Hour, 12))
  sup.Serve(ctx)

SEE ALSO:
  - handlers.go: GeneratePeriods endpoint (manual generation)
  - obligation/service.go: Service.GenerateAll
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/warp/reporting-engine/logging"
	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// GENERATION SCHEDULER
// =============================================================================

// GenerationScheduler generates periods up to a rolling horizon.
type GenerationScheduler struct {
	Service       *obligation.Service
	Interval      time.Duration
	HorizonMonths int
	Clock         func() time.Time
}

var _ suture.Service = (*GenerationScheduler)(nil)

// NewGenerationScheduler creates a scheduler. A non-positive interval falls
// back to one hour.
func NewGenerationScheduler(svc *obligation.Service, interval time.Duration, horizonMonths int) *GenerationScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &GenerationScheduler{
		Service:       svc,
		Interval:      interval,
		HorizonMonths: horizonMonths,
		Clock:         time.Now,
	}
}

// Serve runs until ctx is cancelled.
func (s *GenerationScheduler) Serve(ctx context.Context) error {
	l := logging.Component("scheduler")
	ctx = l.WithContext(ctx)
	l.Info().Dur("interval", s.Interval).Int("horizon_months", s.HorizonMonths).Msg("started")

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			l.Info().Msg("stopped")
			return ctx.Err()
		}
	}
}

// RunOnce generates every active obligation up to today + HorizonMonths and
// returns how many periods were inserted.
func (s *GenerationScheduler) RunOnce(ctx context.Context) int {
	log := zerolog.Ctx(ctx)
	now := s.Clock().UTC()
	horizon := obligation.DateOf(now).AddMonths(s.HorizonMonths)

	results, err := s.Service.GenerateAll(ctx, horizon, now)

	inserted := 0
	for _, res := range results {
		inserted += res.Inserted
	}

	if err != nil {
		schedulerRunsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("horizon", horizon.String()).Int("inserted", inserted).Msg("generation run finished with errors")
		return inserted
	}
	schedulerRunsTotal.WithLabelValues("ok").Inc()
	log.Info().Str("horizon", horizon.String()).Int("obligations", len(results)).Int("inserted", inserted).Msg("generation run finished")
	return inserted
}

func (s *GenerationScheduler) String() string {
	return "generation-scheduler"
}

// =============================================================================
// HTTP SERVER SERVICE
// =============================================================================

// HTTPServer is the subset of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under a suture supervisor and shuts it
// down gracefully when the supervisor stops.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

var _ suture.Service = (*HTTPService)(nil)

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}
