package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawsitivecheck/querycache"
	"github.com/pawsitivecheck/querycache/invalidation"
)

var invalidateReq invalidation.Request

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Invalidate cached views on every running gateway",
	Long: `invalidate applies a plan to the shared Redis store and publishes it on
the invalidation channel, so running gateways mark matching entries stale.`,
	RunE: runInvalidate,
}

func init() {
	invalidateCmd.Flags().StringVar(&invalidateReq.Entity, "entity", "", "Entity family, e.g. products")
	invalidateCmd.Flags().StringVar(&invalidateReq.ID, "id", "", "Entity id")
	invalidateCmd.Flags().BoolVar(&invalidateReq.Related, "related", false, "Also invalidate dependent families")
	invalidateCmd.Flags().StringVar(&invalidateReq.Contains, "contains", "", "Invalidate keys with a segment containing this substring")
	invalidateCmd.Flags().BoolVar(&invalidateReq.All, "all", false, "Invalidate every known family and the admin namespace")
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	if redisAddr == "" {
		return errors.New("--redis is required")
	}
	deps, err := loadDeps()
	if err != nil {
		return err
	}
	plan := invalidation.PlanRequest(deps, invalidateReq)
	if len(plan) == 0 {
		return errors.New("nothing to invalidate: set --entity, --contains or --all")
	}

	cfg := querycache.DefaultConfig()
	cfg.PodID = "querycache-cli-" + uuid.NewString()
	cfg.RedisAddr = redisAddr
	cfg.RedisDB = redisDB
	cfg.Logger = querycache.NewZapLogger(logger)
	cfg.DebugMode = debug
	var failed error
	cfg.OnError = func(err error) { failed = errors.Join(failed, err) }

	qc, err := querycache.New(cfg)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer qc.Close()

	coord := querycache.NewCoordinator(qc, deps, cfg.Logger)
	coord.Execute(cmd.Context(), plan)
	if failed != nil {
		return failed
	}

	for _, in := range plan {
		fmt.Fprintln(cmd.OutOrStdout(), in.String())
	}
	logger.Info("invalidation published", zap.Int("instructions", len(plan)))
	return nil
}
