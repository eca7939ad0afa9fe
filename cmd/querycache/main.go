// Command querycache runs the caching gateway and issues manual
// invalidations against running gateways.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pawsitivecheck/querycache"
	"github.com/pawsitivecheck/querycache/invalidation"
)

var (
	// Global flags
	debug     bool
	depsPath  string
	redisAddr string
	redisDB   int

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "querycache",
	Short:   "Query cache gateway for the PawsitiveCheck API",
	Version: querycache.Version,
	Long: `querycache keeps read views of the REST API cached and marks them
stale after successful writes, following an explicit dependency map
between entity families.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&depsPath, "deps", "", "Dependency map file (.yaml, .yml or .toml); built-in map when empty")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address for the shared store and invalidation channel")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database number")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(depsCmd)
}

func loadDeps() (*invalidation.DependencyMap, error) {
	if depsPath == "" {
		return invalidation.DefaultDependencyMap(), nil
	}
	return invalidation.LoadDependencyMap(depsPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
