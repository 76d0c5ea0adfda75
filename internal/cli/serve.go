package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/me/hostbridge/internal/classifier"
	"github.com/me/hostbridge/internal/clock"
	"github.com/me/hostbridge/internal/config"
	"github.com/me/hostbridge/internal/conn"
	"github.com/me/hostbridge/internal/dispatch"
	"github.com/me/hostbridge/internal/executor"
	"github.com/me/hostbridge/internal/host"
	"github.com/me/hostbridge/internal/logging"
	"github.com/me/hostbridge/internal/operation"
	"github.com/me/hostbridge/internal/scheduler"
	"github.com/me/hostbridge/internal/server"
	"github.com/me/hostbridge/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		flagConfig string
		flagHost   string
		flagPort   int
		flagDB     string
		flagAdmin  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operation scheduler and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultServerConfig()
			if flagConfig != "" {
				var err error
				if cfg, err = config.LoadFile(flagConfig); err != nil {
					return err
				}
			}

			// Flags override the file.
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Scheduler.Host = flagHost
			}
			if flags.Changed("port") {
				cfg.Scheduler.Port = flagPort
			}
			if flags.Changed("db") {
				cfg.DBPath = flagDB
			}
			if flags.Changed("admin") {
				cfg.AdminAddr = flagAdmin
			}
			root := cmd.Root().PersistentFlags()
			if root.Changed("log-level") || flagDebug {
				cfg.LogLevel = flagLogLevel
			}
			if root.Changed("log-format") {
				cfg.LogFormat = flagLogFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			srvLogger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

			b, err := newBridge(cfg, srvLogger)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return b.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&flagHost, "host", "127.0.0.1", "Socket bind host")
	cmd.Flags().IntVarP(&flagPort, "port", "p", 9876, "Socket port (0 picks a free port)")
	cmd.Flags().StringVar(&flagDB, "db", config.DefaultDBPath(), "SQLite journal path (empty disables the journal)")
	cmd.Flags().StringVar(&flagAdmin, "admin", "127.0.0.1:9877", "Admin API address (empty disables the admin API)")
	return cmd
}

// bridge is one assembled server: the scheduler loop, its collaborators and
// the optional journal and admin API.
type bridge struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	store  *store.SQLiteStore // nil when the journal is disabled
	loop   *scheduler.Loop
	admin  *server.Server // nil when the admin API is disabled
}

func newBridge(cfg config.ServerConfig, logger *slog.Logger) (*bridge, error) {
	b := &bridge{cfg: cfg, logger: logger}

	// The operation registry and the loop take interfaces; a nil *SQLiteStore
	// must not reach them as a non-nil interface.
	var (
		opJournal   operation.Journal
		loopJournal scheduler.Journal
	)
	if cfg.DBPath != "" {
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
		st, err := store.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(context.Background()); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		logger.Info("journal ready", "path", cfg.DBPath)
		b.store = st
		opJournal, loopJournal = st, st
	}

	cls, err := classifier.New(cfg.Classifier)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("classifier: %w", err)
	}
	h, err := host.New(cfg.Host, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("host: %w", err)
	}
	execs := executor.NewRegistry(logger)
	executor.RegisterBuiltins(execs, h)

	clk := clock.Real{}
	conns := conn.NewRegistry(cfg.Conn, clk, logger)
	b.loop = scheduler.NewLoop(cfg.Scheduler, scheduler.Deps{
		Clock:      clk,
		Conns:      conns,
		Operations: operation.NewRegistry(cfg.Operations, clk, opJournal, logger),
		Classifier: cls,
		Executors:  execs,
		Env:        executor.HostEnvironment(h),
		Dispatch:   dispatch.New(conns, clk, logger),
		Journal:    loopJournal,
	}, logger)

	if cfg.AdminAddr != "" {
		kinds := execs.Kinds()
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		var st store.Store
		if b.store != nil {
			st = b.store
		}
		b.admin = server.New(st, b.loop, logger, server.WithKinds(names))
	}
	return b, nil
}

// Run serves until ctx is cancelled. The socket is bound before Run returns
// control to the loop, so Status().Port is valid once Running is true.
func (b *bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	if b.admin != nil {
		go func() {
			err := b.admin.ListenAndServe(ctx, b.cfg.AdminAddr)
			if err != nil {
				b.logger.Error("admin api stopped", "error", err)
			}
			adminErr <- err
		}()
	}

	err := b.loop.Start(ctx)
	cancel()
	if b.admin != nil {
		<-adminErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the journal.
func (b *bridge) Close() {
	if b.store != nil {
		b.store.Close()
		b.store = nil
	}
}
