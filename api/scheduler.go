/*
scheduler.go - Automated compliance sweep scheduler

PURPOSE:
  Periodically re-validates stored transactions so that rows altered outside
  the engine are noticed before the next report or export is requested.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps the current fiscal year and, until the previous year's last
    filing is due, the previous one as well
  - An invalid batch is audited as validation_failed by the engine and
    logged here; nothing is corrected

CONFIGURATION:
  - CheckInterval: How often to check (COMPLIANCE_SWEEP_INTERVAL, default 1h)
  - Enabled: Whether scheduler is active (interval 0 disables it)

USAGE:
  scheduler := NewComplianceScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - commission/report.go: SweepCompliance
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/rs/zerolog"
)

// previousYearGrace is how long after April 1 the previous fiscal year is still swept.
const previousYearGrace = 60 * 24 * time.Hour

// SweepResult is the outcome of one fiscal year in one run.
type SweepResult struct {
	FiscalYear commission.FiscalYear
	Errors     int
	Warnings   int
	Err        error
}

// ComplianceScheduler runs SweepCompliance on a ticker.
type ComplianceScheduler struct {
	Service       *commission.Service
	CheckInterval time.Duration
	Enabled       bool

	logger zerolog.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewComplianceScheduler creates a new scheduler.
func NewComplianceScheduler(svc *commission.Service, logger zerolog.Logger) *ComplianceScheduler {
	return &ComplianceScheduler{
		Service:       svc,
		CheckInterval: time.Hour,
		Enabled:       true,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler.
func (cs *ComplianceScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled || cs.CheckInterval <= 0 {
		cs.logger.Info().Msg("compliance sweep disabled")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)
	go cs.run()

	cs.logger.Info().Dur("interval", cs.CheckInterval).Msg("compliance sweep started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (cs *ComplianceScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.logger.Info().Msg("compliance sweep stopped")
	}
}

func (cs *ComplianceScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.RunNow(context.Background())

	for {
		select {
		case <-cs.ticker.C:
			cs.RunNow(context.Background())
		case <-cs.stop:
			return
		}
	}
}

// RunNow sweeps the fiscal years due at the current time.
func (cs *ComplianceScheduler) RunNow(ctx context.Context) []SweepResult {
	var results []SweepResult
	for _, fy := range cs.dueFiscalYears() {
		res, err := cs.Service.SweepCompliance(ctx, fy, commission.SystemActor)
		result := SweepResult{FiscalYear: fy, Errors: len(res.Errors), Warnings: len(res.Warnings), Err: err}
		results = append(results, result)

		switch {
		case errors.Is(err, commission.ErrComplianceValidationFailed):
			cs.logger.Error().Str("fiscal_year", string(fy)).Int("errors", result.Errors).Msg("compliance sweep found invalid transactions")
		case err != nil:
			cs.logger.Error().Err(err).Str("fiscal_year", string(fy)).Msg("compliance sweep failed")
		default:
			cs.logger.Debug().Str("fiscal_year", string(fy)).Int("warnings", result.Warnings).Msg("compliance sweep clean")
		}
	}
	return results
}

func (cs *ComplianceScheduler) dueFiscalYears() []commission.FiscalYear {
	now := cs.now()
	current := commission.FiscalYearOf(now)
	years := []commission.FiscalYear{current}
	if now.Sub(current.Start()) < previousYearGrace {
		years = append(years, commission.FiscalYearOf(current.Start().AddDate(0, 0, -1)))
	}
	return years
}
