package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pawkeeperapp/pawkeeper/internal/billing"
	"github.com/pawkeeperapp/pawkeeper/internal/config"
	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
	"github.com/pawkeeperapp/pawkeeper/internal/reconcile"
	"github.com/pawkeeperapp/pawkeeper/internal/statestore"
	"github.com/pawkeeperapp/pawkeeper/internal/trial"
	"github.com/pawkeeperapp/pawkeeper/internal/verify"
)

// session wires the client core for one CLI invocation.
type session struct {
	cfg    *config.ClientConfig
	store  *statestore.SQLiteStore
	ledger *billing.FileLedger
	orch   *reconcile.Orchestrator
	logger zerolog.Logger
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if os.Getenv("PAWKEEPER_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// logSink surfaces reminder scheduling on the terminal. A packaged app
// would post a local notification instead.
type logSink struct {
	logger zerolog.Logger
}

func (s *logSink) Schedule(ctx context.Context, identity string, at time.Time) error {
	s.logger.Info().Time("remind_at", at).Msg("trial expiry reminder scheduled")
	return nil
}

func (s *logSink) Cancel(ctx context.Context, identity string) error {
	s.logger.Info().Msg("trial expiry reminder cancelled")
	return nil
}

func newSession(cfg *config.ClientConfig) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("not signed in: %w (run 'pawkeeper login')", err)
	}

	logger := newLogger()

	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, err
	}

	store, err := statestore.NewSQLiteStore(configDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	client := verify.NewClient(cfg.ServerURL, cfg.Credential)
	trials := trial.NewManager(client, logger)
	reminders := trial.NewReminders(&logSink{logger: logger}, store, logger)
	ledger := billing.NewFileLedger(configDir)

	orch := reconcile.New(reconcile.Config{
		Store:       store,
		Client:      client,
		Ledger:      ledger,
		Trials:      trials,
		Reminders:   reminders,
		Identity:    cfg.Identity,
		Fingerprint: cfg.DeviceFingerprint,
		Logger:      logger,
	})

	return &session{cfg: cfg, store: store, ledger: ledger, orch: orch, logger: logger}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("state store close failed")
	}
}

func loadSession() (*session, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newSession(cfg)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached subscription state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			state, err := s.orch.Current(ctx)
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}

			printState(s.cfg, state)
			return nil
		},
	}
}

func printState(cfg *config.ClientConfig, state *entitlement.SubscriptionState) {
	fmt.Printf("Account:    %s\n", cfg.Identity)
	fmt.Printf("Server:     %s\n", cfg.ServerURL)
	fmt.Printf("Credential: %s\n", maskCredential(cfg.Credential))
	fmt.Println()
	fmt.Printf("Status:         %s\n", state.Status)
	fmt.Printf("Premium access: %v\n", state.Allowed())

	if state.TrialStartDate != nil {
		fmt.Printf("Trial started:  %s\n", state.TrialStartDate.Format("2006-01-02"))
	}
	if state.DaysRemaining != nil {
		fmt.Printf("Days remaining: %d\n", *state.DaysRemaining)
	}
	if state.SubscriptionExpiry != nil {
		fmt.Printf("Renews/expires: %s\n", state.SubscriptionExpiry.Format("2006-01-02"))
	}
	if state.HasPurchaseHistory {
		fmt.Println("Purchase history on record.")
	}
	if state.Status == entitlement.StatusLoading {
		fmt.Println()
		fmt.Println("State is unverified. Run 'pawkeeper reconcile' while online.")
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile subscription state with the server now",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			status, err := s.orch.Bootstrap(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			fmt.Printf("Status: %s\n", status)
			state, err := s.orch.Current(ctx)
			if err == nil {
				fmt.Println()
				printState(s.cfg, state)
			}
			return nil
		},
	}
}

// purchase runs the purchase flow. An already-owned product is handled as a
// restore: the ledger entitlement is fetched and reconciled rather than
// surfaced as an error.
func (s *session) purchase(ctx context.Context, productID string) error {
	res, err := s.ledger.Purchase(ctx, productID)
	if err != nil {
		if errors.Is(err, billing.ErrUserCancelled) {
			fmt.Println("Purchase cancelled.")
			return nil
		}
		if errors.Is(err, billing.ErrAlreadyOwned) {
			fmt.Println("Product already owned; restoring purchases.")
			return s.restore(ctx)
		}
		return fmt.Errorf("purchase: %w", err)
	}

	status, err := s.orch.PurchaseCompleted(ctx, res)
	if err != nil {
		return fmt.Errorf("reconcile after purchase: %w", err)
	}

	fmt.Printf("Purchase recorded. Status: %s\n", status)
	return nil
}

func (s *session) restore(ctx context.Context) error {
	res, err := s.ledger.Restore(ctx)
	if err != nil {
		if errors.Is(err, billing.ErrUserCancelled) {
			fmt.Println("Restore cancelled.")
			return nil
		}
		return fmt.Errorf("restore: %w", err)
	}

	status, err := s.orch.RestoreCompleted(ctx, res)
	if err != nil {
		return fmt.Errorf("reconcile after restore: %w", err)
	}

	if !res.Succeeded {
		fmt.Println("No purchases found to restore.")
	}
	fmt.Printf("Status: %s\n", status)
	return nil
}

func newPurchaseCmd() *cobra.Command {
	var productID string

	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Purchase a premium subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			return s.purchase(ctx, productID)
		},
	}

	cmd.Flags().StringVar(&productID, "product", entitlement.ProductMonthly, "product ID to purchase")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore purchases from the device ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			return s.restore(ctx)
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the reconciliation loop in the foreground",
		Long: `Run the reconciliation loop in the foreground.

Performs a cold-start reconciliation, then re-checks every ` + reconcile.ReconcileInterval.String() + `
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			status, err := s.orch.Bootstrap(ctx)
			cancel()
			if err != nil {
				s.logger.Warn().Err(err).Msg("cold start reconciliation failed")
			} else {
				fmt.Printf("Status: %s\n", status)
			}

			s.orch.Start()
			defer s.orch.Stop()
			fmt.Printf("Reconciling every %s. Press Ctrl-C to stop.\n", reconcile.ReconcileInterval)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			fmt.Println("Stopping.")
			return nil
		},
	}
}
