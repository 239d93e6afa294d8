package cli

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"daycal/internal/config"
	"daycal/internal/identity"
	appLog "daycal/internal/log"
	"daycal/internal/store"
	"daycal/internal/web"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string
	var inMemory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the claim store and its HTTP/websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *rootOpts.Config
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				cfg.Listen = listen
			}
			if inMemory {
				cfg.InMemory = true
			}
			return runServe(cmd.Context(), &cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep claims in memory only")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"data_dir", cfg.DataDir,
		"in_memory", cfg.InMemory,
		"resync", cfg.ResyncCron,
		"gc", cfg.GCCron,
		"issuer", cfg.Auth.Issuer,
	)

	storeCfg := store.DefaultConfig(cfg.DataDir)
	if cfg.InMemory {
		storeCfg = store.InMemoryConfig()
	}
	st, err := store.Open(storeCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("closing claim store failed", err)
		}
	}()

	verifier, err := identity.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	sched, err := newScheduler(cfg, st)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.NewServer(cfg, st, verifier).Run(gctx)
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	err = g.Wait()
	appLog.Info("daycal server exiting")
	return err
}

// newScheduler registers the periodic resync broadcast and value log GC.
func newScheduler(cfg *config.Config, st *store.Store) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.ResyncCron, func() {
		if err := st.Resync(); err != nil {
			appLog.Error("scheduled resync failed", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q: %w", cfg.ResyncCron, err)
	}

	if _, err := c.AddFunc(cfg.GCCron, func() {
		if err := st.RunGC(); err != nil {
			appLog.Error("value log gc failed", err)
			return
		}
		appLog.Debug("value log gc done")
	}); err != nil {
		return nil, fmt.Errorf("invalid gc schedule %q: %w", cfg.GCCron, err)
	}

	return c, nil
}
