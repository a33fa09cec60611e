package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/resident-x/go-v2blocks/internal/api"
	"github.com/resident-x/go-v2blocks/internal/parser"
	"github.com/resident-x/go-v2blocks/internal/session"
	"github.com/resident-x/go-v2blocks/internal/validation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP inspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.serve(ctx)
		},
	}
}

// serve runs the API until ctx is cancelled.
func (o *rootOptions) serve(ctx context.Context) error {
	cfg := o.cfg
	if !cfg.API.Enabled {
		return fmt.Errorf("api is disabled in the configuration")
	}

	log.Info().Str("version", Version).Msg("Starting v2blocks server")
	cfg.Print()

	reg, err := o.registry()
	if err != nil {
		return err
	}
	log.Info().Int("blocks", len(reg.Blocks())).Msg("Schema tables loaded")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := session.NewManager(parser.NewParser(reg), session.Options{
		FallbackVersion: cfg.ProtocolVersion,
		VersionOverride: o.versionOverride,
		Timeout:         cfg.SessionTimeout(),
		CleanupInterval: cfg.CleanupInterval(),
		Validator:       validation.NewAdvancedValidator(cfg.ValidationLevel(), log.Logger),
		Metrics:         session.NewMetrics(promReg),
	})
	defer manager.Close()

	srv := api.NewServer(cfg, api.Options{
		Registry: reg,
		Sessions: manager,
		Gatherer: promReg,
	})
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping server")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

