package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/executor"
	"main/internal/obs"
	"main/internal/schema"
)

// ErrUngracefulShutdown is returned when stages miss the grace period and
// had to be abandoned.
var ErrUngracefulShutdown = errors.New("stages did not stop within grace period")

// Stage is an independently scheduled pipeline unit. Run blocks until the
// context is canceled and the stage has reached a safe checkpoint.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

type stageFunc struct {
	name string
	run  func(ctx context.Context) error
}

func (s stageFunc) Name() string                  { return s.name }
func (s stageFunc) Run(ctx context.Context) error { return s.run(ctx) }

// NamedStage adapts a run function into a Stage.
func NamedStage(name string, run func(ctx context.Context) error) Stage {
	return stageFunc{name: name, run: run}
}

// Config controls supervisor behavior.
type Config struct {
	// ShutdownGrace is how long stages get to stop cooperatively. Default 5s.
	ShutdownGrace time.Duration
	// MetricsInterval is how often a metrics snapshot is logged. Zero
	// disables periodic snapshots.
	MetricsInterval time.Duration
	// ReportHook, when set, receives every drained report after logging.
	// It runs on the drain goroutine, off every stage's hot path.
	ReportHook func(executor.Report)
}

// Supervisor owns the process lifecycle: it starts every stage as its own
// goroutine in registration order, drains stage reports without blocking the
// emitters, and propagates shutdown out-of-band through context
// cancellation. Register consumers before producers so nothing publishes
// into a topology that is not fully subscribed.
type Supervisor struct {
	cfg      Config
	registry *schema.Registry
	reports  *bus.Queue[executor.Report]
	metrics  *obs.Metrics
	stages   []Stage
}

// NewSupervisor creates a supervisor over the given stages.
func NewSupervisor(cfg Config, registry *schema.Registry, reports *bus.Queue[executor.Report], metrics *obs.Metrics, stages ...Stage) *Supervisor {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		reports:  reports,
		metrics:  metrics,
		stages:   stages,
	}
}

type stageResult struct {
	name string
	err  error
}

// Run starts all stages and blocks until the context asks for shutdown or a
// stage fails. It then cancels the stages and waits up to the grace period
// for each to release its channels.
func (s *Supervisor) Run(ctx context.Context) error {
	stageCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan stageResult, len(s.stages))

	if s.reports != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.reports.Run(stageCtx, s.logReport)
		}()
	}
	if s.cfg.MetricsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logMetrics(stageCtx)
		}()
	}

	for _, stage := range s.stages {
		wg.Add(1)
		go func(stage Stage) {
			defer wg.Done()
			err := stage.Run(stageCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				results <- stageResult{name: stage.Name(), err: err}
				return
			}
			results <- stageResult{name: stage.Name()}
		}(stage)
		logs.Infof("stage %s started", stage.Name())
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var failure error
	select {
	case <-ctx.Done():
		logs.Info("shutdown requested")
	case result := <-results:
		if result.err != nil {
			failure = fmt.Errorf("stage %s failed: %w", result.name, result.err)
			logs.Errorf("%+v, shutting down pipeline", failure)
		} else {
			logs.Infof("stage %s finished, shutting down pipeline", result.name)
		}
	}

	cancel()
	select {
	case <-done:
		logs.Info("all stages stopped")
		return failure
	case <-time.After(s.cfg.ShutdownGrace):
		if failure != nil {
			return errors.Join(failure, ErrUngracefulShutdown)
		}
		return ErrUngracefulShutdown
	}
}

func (s *Supervisor) logReport(r executor.Report) {
	name := fmt.Sprintf("symbol-%d", r.SymbolID)
	if symbol, ok := s.registry.Symbol(r.SymbolID); ok {
		name = symbol.Name
	}
	switch r.Kind {
	case executor.ReportBrokerError:
		logs.Errorf("[%s] %s state=%s err: %+v", name, r.Kind, r.State, r.Err)
	case executor.ReportBrokerRetry:
		logs.Warnf("[%s] %s state=%s err: %+v", name, r.Kind, r.State, r.Err)
	case executor.ReportFill:
		logs.Infof("[%s] %s order=%d position=%d", name, r.Kind, r.OrderID, r.Position.Qty)
	default:
		logs.Infof("[%s] %s state=%s order=%d", name, r.Kind, r.State, r.OrderID)
	}
	if s.cfg.ReportHook != nil {
		s.cfg.ReportHook(r)
	}
}

func (s *Supervisor) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.metrics.Snapshot()
			logs.Infof("ticks=%d quotes=%d rejectedQuotes=%d brokerCalls=%d retries=%d halted=%d tickToQuote(avg)=%s",
				snap.TicksPublished, snap.QuotesEmitted, snap.QuotesRejected,
				snap.BrokerCalls, snap.BrokerRetries, snap.SymbolsHalted,
				snap.TickToQuoteLatency.Avg)
		}
	}
}
