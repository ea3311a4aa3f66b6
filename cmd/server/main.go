/*
main.go - Application entry point

PURPOSE:
  Initializes the commission engine and exposes it as a cobra CLI: the HTTP
  server plus operator commands that act through the same Service.

COMMANDS:
  serve         HTTP server with graceful shutdown
  lock          Lock a filing period       (--month --year --gstr1 --gstr3b --remarks)
  unlock        Unlock a filing period     (--month --year)
  fiscal-year   Print the fiscal year and filing period of a date
  token         Sign a development JWT     (--sub --role --ttl)
  seed          Reset the store and load a demo scenario (--list)

STARTUP SEQUENCE:
  1. Load .env (optional) and environment config
  2. Configure zerolog
  3. Open the store selected by DB_DRIVER (sqlite | postgres | memory)
  4. Build commission.Service
  5. Run the command (serve also starts the compliance sweep)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the compliance sweep
  4. Close database connection
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/qrbooks/commission-engine/api"
	"github.com/qrbooks/commission-engine/commission"
	memstore "github.com/qrbooks/commission-engine/commission/store"
	"github.com/qrbooks/commission-engine/config"
	"github.com/qrbooks/commission-engine/logger"
	"github.com/qrbooks/commission-engine/store/postgres"
	"github.com/qrbooks/commission-engine/store/sqlite"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	_ = logger.Setup(logger.DefaultConfig())
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "commission-engine",
		Short:         "QR payment commission bookkeeping and filing lock service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newLockCmd(), newUnlockCmd(), newFiscalYearCmd(), newTokenCmd(), newSeedCmd())
	return root
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

type app struct {
	cfg   *config.Config
	svc   *commission.Service
	audit commission.AuditLog
	reset api.Resetter
	close func()
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, audit, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := commission.NewService(store, audit, cfg.Engine(), log.Logger)
	if err != nil {
		closeFn()
		return nil, err
	}
	resetter, _ := store.(api.Resetter)
	return &app{cfg: cfg, svc: svc, audit: audit, reset: resetter, close: closeFn}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (commission.TxStore, commission.AuditLog, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return s, s, s.Close, nil
	case config.DriverMemory:
		s := memstore.NewTxMemory()
		return s, s, func() {}, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		return s, s, func() { s.Close() }, nil
	}
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to serve the API")
			}

			lg := logger.WithComponent("server")
			handler := api.NewHandler(a.svc, a.audit, log.Logger)
			if a.cfg.EnableScenarios && a.reset != nil {
				handler.EnableScenarios(a.reset)
				lg.Warn().Msg("demo scenarios enabled; loading one resets the store")
			}
			router := api.NewRouter(handler, api.RouterOptions{
				AllowedOrigins: a.cfg.AllowedOrigins,
				JWTSecret:      []byte(a.cfg.JWTSecret),
				Logger:         logger.WithComponent("http"),
			})

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			scheduler := api.NewComplianceScheduler(a.svc, log.Logger)
			scheduler.CheckInterval = a.cfg.ComplianceSweepInterval
			scheduler.Enabled = a.cfg.ComplianceSweepInterval > 0
			scheduler.Start()
			defer scheduler.Stop()

			errCh := make(chan error, 1)
			go func() {
				lg.Info().Int("port", a.cfg.Port).Str("db_driver", a.cfg.DBDriver).Msg("server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}

			lg.Info().Msg("shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			lg.Info().Msg("server stopped")
			return nil
		},
	}
}

// =============================================================================
// OPERATOR COMMANDS
// =============================================================================

func newLockCmd() *cobra.Command {
	var (
		month, year    int
		gstr1, gstr3b  string
		remarks, actor string
	)
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock a filing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := commission.NewPeriod(month, year)
			if err != nil {
				return err
			}
			dates := commission.FilingDates{}
			if dates.GSTR1, err = optionalDate(gstr1); err != nil {
				return err
			}
			if dates.GSTR3B, err = optionalDate(gstr3b); err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			lock, err := a.svc.LockPeriod(cmd.Context(), period, operator(actor), commission.LockOptions{FilingDates: dates, Remarks: remarks})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "locked %s at %s by %s\n", lock.FilingPeriod, lock.LockedAt.Format(time.RFC3339), lock.LockedBy)
			return nil
		},
	}
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12)")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year")
	cmd.Flags().StringVar(&gstr1, "gstr1", "", "GSTR-1 filing date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&gstr3b, "gstr3b", "", "GSTR-3B filing date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&remarks, "remarks", "", "free-text remarks")
	cmd.Flags().StringVar(&actor, "actor", commission.SystemActor.ID, "actor id recorded in the audit trail")
	cmd.MarkFlagRequired("month")
	cmd.MarkFlagRequired("year")
	return cmd
}

func newUnlockCmd() *cobra.Command {
	var (
		month, year int
		actor       string
	)
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock a filing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := commission.NewPeriod(month, year)
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			lock, err := a.svc.UnlockPeriod(cmd.Context(), period, operator(actor))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s by %s\n", lock.FilingPeriod, lock.UnlockedBy)
			return nil
		},
	}
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12)")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year")
	cmd.Flags().StringVar(&actor, "actor", commission.SystemActor.ID, "actor id recorded in the audit trail")
	cmd.MarkFlagRequired("month")
	cmd.MarkFlagRequired("year")
	return cmd
}

func newFiscalYearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fiscal-year YYYY-MM-DD",
		Short: "Print the fiscal year and filing period of a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := time.Parse(time.DateOnly, args[0])
			if err != nil {
				return fmt.Errorf("expected YYYY-MM-DD: %w", err)
			}
			fy := commission.FiscalYearOf(date)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s to %s)\n", fy, commission.PeriodOf(date).FilingPeriod(),
				fy.Start().Format(time.DateOnly), fy.End().Format(time.DateOnly))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		sub, role string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development JWT with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := api.SignToken([]byte(cfg.JWTSecret), commission.Actor{ID: sub, Role: commission.Role(role)}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "actor id")
	cmd.Flags().StringVar(&role, "role", string(commission.RoleUser), "user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("sub")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var (
		list  bool
		actor string
	)
	cmd := &cobra.Command{
		Use:   "seed [scenario]",
		Short: "Reset the store and load a demo scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || len(args) == 0 {
				for _, s := range api.Scenarios() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", s.ID, s.Description)
				}
				return nil
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if a.reset == nil {
				return fmt.Errorf("store %s cannot be reset", a.cfg.DBDriver)
			}

			result, err := api.LoadScenario(cmd.Context(), a.svc, a.reset, args[0], operator(actor))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s: %d transactions, %d locked months, taxable %s, tax %s\n",
				result.Scenario.ID, result.Transactions, len(result.LockedMonths), result.Totals.TaxableValue, result.Totals.TaxAmount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list scenarios and exit")
	cmd.Flags().StringVar(&actor, "actor", commission.SystemActor.ID, "actor id recorded in the audit trail")
	return cmd
}

// operator is the privileged actor used by CLI commands.
func operator(id string) commission.Actor {
	return commission.Actor{ID: id, Role: commission.RoleAdmin}
}

func optionalDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD, got %q", raw)
	}
	return &d, nil
}
