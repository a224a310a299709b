package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shift-engine/internal/app"
	"shift-engine/internal/config"
	"shift-engine/internal/db"
	"shift-engine/internal/logger"
	"shift-engine/internal/store"
)

var (
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "shift-engine",
	Short: "Shift assignment and transfer engine",
	Long: `shift-engine assigns executors to shifts, balances daily workload,
drives shift transfers and runs the periodic maintenance jobs.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job scheduler until interrupted",
	RunE:  runScheduler,
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign executors to planned shifts in a date range",
	RunE:  runAssign,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Even out shift counts for one day",
	RunE:  runBalance,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create shifts from auto-create templates",
	RunE:  runGenerate,
}

var absentCmd = &cobra.Command{
	Use:   "reassign-absent [executor-id]",
	Short: "Move an absent executor's planned shifts to other executors",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbsent,
}

var jobCmd = &cobra.Command{
	Use:   "job [name]",
	Short: "Run one scheduler job now",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	RunE:  runMigrate,
}

var (
	fromFlag, toFlag, dateFlag string
	forceFlag                  bool
	templateFlag               string
	daysFlag                   int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SHIFT_ENGINE_CONFIG)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Timeout for one-shot commands")

	assignCmd.Flags().StringVar(&fromFlag, "from", "", "First day, YYYY-MM-DD (default: today)")
	assignCmd.Flags().StringVar(&toFlag, "to", "", "Last day, YYYY-MM-DD (default: from + lookahead)")
	assignCmd.Flags().BoolVar(&forceFlag, "force", false, "Reassign shifts that already have an executor")

	balanceCmd.Flags().StringVar(&dateFlag, "date", "", "Day to balance, YYYY-MM-DD (default: today)")

	generateCmd.Flags().StringVar(&fromFlag, "from", "", "First day, YYYY-MM-DD (default: today)")
	generateCmd.Flags().StringVar(&templateFlag, "template", "", "Expand only this template")
	generateCmd.Flags().IntVar(&daysFlag, "days", 0, "Days to expand with --template (default: lookahead)")

	absentCmd.Flags().StringVar(&fromFlag, "from", "", "First day, YYYY-MM-DD (default: today)")
	absentCmd.Flags().StringVar(&toFlag, "to", "", "Last day, YYYY-MM-DD (default: from + lookahead)")

	rootCmd.AddCommand(runCmd, assignCmd, balanceCmd, generateCmd, absentCmd, jobCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Service)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

// oneShot runs fn with the command timeout and a freshly wired app.
func oneShot(fn func(ctx context.Context, a *app.App) (any, error)) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.Log.Sync()

	out, err := fn(ctx, a)
	data, encErr := json.MarshalIndent(out, "", "  ")
	if encErr != nil {
		return errors.Join(err, encErr)
	}
	// Batch operations return partial results alongside an error.
	if string(data) != "null" {
		fmt.Println(string(data))
	}
	return err
}

func runScheduler(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.Log.Sync()

	if !a.Config.Scheduler.Enabled {
		a.Log.Warn("scheduler disabled by configuration")
		return nil
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	for _, js := range a.Scheduler.Status().Jobs {
		a.Log.Info("job scheduled", zap.String("job", js.Name), zap.String("schedule", js.Schedule))
	}
	<-ctx.Done()
	a.Log.Info("shutting down, waiting for running jobs")
	a.Scheduler.Stop()
	return nil
}

// dayRange resolves --from/--to in the scheduler timezone. to is exclusive.
func dayRange(a *app.App) (time.Time, time.Time, error) {
	from, err := parseDay(a, fromFlag)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to := from.AddDate(0, 0, a.Config.Scheduler.LookaheadDays)
	if toFlag != "" {
		last, err := parseDay(a, toFlag)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = last.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty range %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return from, to, nil
}

func parseDay(a *app.App, s string) (time.Time, error) {
	if s == "" {
		return a.Roster.DayStart(time.Now()), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, a.Roster.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

func runAssign(cmd *cobra.Command, args []string) error {
	return oneShot(func(ctx context.Context, a *app.App) (any, error) {
		from, to, err := dayRange(a)
		if err != nil {
			return nil, err
		}
		if !forceFlag {
			return a.Engine.AssignUnassigned(ctx, from, to)
		}
		shifts, err := a.Store.ListShifts(ctx, store.ShiftFilter{From: from, To: to})
		if err != nil {
			return nil, err
		}
		return a.Engine.AssignBatch(ctx, shifts, true)
	})
}

func runBalance(cmd *cobra.Command, args []string) error {
	return oneShot(func(ctx context.Context, a *app.App) (any, error) {
		day, err := parseDay(a, dateFlag)
		if err != nil {
			return nil, err
		}
		return a.Engine.Balance(ctx, day)
	})
}

func runGenerate(cmd *cobra.Command, args []string) error {
	return oneShot(func(ctx context.Context, a *app.App) (any, error) {
		from, err := parseDay(a, fromFlag)
		if err != nil {
			return nil, err
		}
		if templateFlag == "" {
			return a.Roster.Generate(ctx, from)
		}
		days := daysFlag
		if days <= 0 {
			days = a.Config.Scheduler.LookaheadDays
		}
		return a.Roster.GenerateFromTemplate(ctx, templateFlag, from, days)
	})
}

func runAbsent(cmd *cobra.Command, args []string) error {
	return oneShot(func(ctx context.Context, a *app.App) (any, error) {
		from, to, err := dayRange(a)
		if err != nil {
			return nil, err
		}
		return a.Engine.ReassignAbsent(ctx, args[0], from, to)
	})
}

func runJob(cmd *cobra.Command, args []string) error {
	return oneShot(func(ctx context.Context, a *app.App) (any, error) {
		err := a.Scheduler.RunNow(ctx, args[0])
		for _, js := range a.Scheduler.Status().Jobs {
			if js.Name == args[0] {
				return js, err
			}
		}
		return nil, err
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return errors.New("migrate needs database.driver postgres")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	conn, err := db.Open(ctx, cfg.Database.DSN(), 1, 1)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d schema statements\n", len(db.Schema))
	return nil
}
