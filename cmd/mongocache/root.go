package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-mongocache/cache"
	"github.com/agentuity/go-mongocache/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	store cache.Cache

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "mongocache",
		Short: "Inspect and manage a MongoDB backed cache",
		Long: `mongocache runs cache operations against a MongoDB collection.

Connection settings come from flags, MONGOCACHE_* environment variables
(.env and .env.local are loaded) or a YAML settings file given with --config.
Exactly one of --timeout and --max-entries must be set.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  openCache,
		PersistentPostRunE: closeCache,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML settings file")
	flags.String("location", "", "host or connection URI (default localhost:27017)")
	flags.String("database", "", "database name (default cache)")
	flags.String("collection", "", "collection name (default cache)")
	flags.String("username", "", "username")
	flags.String("password", "", "password")
	flags.String("timeout", "", "default entry timeout in seconds or as a duration such as 1d2h (TTL mode)")
	flags.Int64("max-entries", 0, "maximum number of entries (capped mode)")
	flags.String("entry-size", "", "bytes reserved per entry when creating a capped collection, e.g. 1Ki")
	flags.String("retries", "", "attempts per operation on connectivity loss")
	flags.String("key-prefix", "", "prefix of every storage key")
	flags.Int("key-version", 0, "key version (default 1)")
	flags.Bool("metrics", false, "print operation counters to stderr on exit")

	rootCmd.AddCommand(getCmd, setCmd, addCmd, deleteCmd, hasCmd, incrCmd, decrCmd, ttlCmd, touchCmd, clearCmd)
}

func openCache(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	settings, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	log := logger.NewConsoleLogger(logger.GetLevelFromEnv()).WithPrefix("[mongocache]")
	store, err = cache.NewFromSettings(settings, cache.WithLogger(log))
	return err
}

func closeCache(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("metrics") {
		cache.WriteMetrics(os.Stderr)
	}
	if store == nil {
		return nil
	}
	return store.Close(context.Background())
}

// Execute runs the root command and exits non-zero on failure. An
// interrupt cancels the running operation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if store != nil {
			_ = store.Close(context.Background())
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
