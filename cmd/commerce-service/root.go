package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"commerce-service/pkg/config"
)

const serviceName = "commerce-service"

var (
	version = "dev"
	commit  = "unknown"
)

// flags is the viper view over the command line; explicitly set flags override the environment
var flags = viper.New()

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Line-delimited JSON shop server",
	Long:  `commerce-service serves the shop protocol over TCP: accounts, catalog, carts and orders,
chat and sales statistics. An HTTP ops port exposes /health and /metrics.

Running it without a subcommand is the same as "commerce-service serve".`,
	Version:      version + " (" + commit + ")",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	addGlobalFlags(rootCmd.PersistentFlags())
	if err := flags.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String("env-file", ".env", "env file to load and watch for LOG_LEVEL changes")
	fs.StringP("port", "p", "", "TCP port of the shop protocol (overrides SERVER_PORT)")
	fs.String("ops-port", "", "HTTP port of the ops endpoints (overrides OPS_PORT)")
	fs.String("store", "", "persistence driver: postgres or badger (overrides STORE_DRIVER)")
	fs.String("badger-dir", "", "data directory of the badger store (overrides BADGER_DIR)")
}

func initConfig() {
	flags.SetEnvPrefix("COMMERCE")
	flags.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	flags.AutomaticEnv()
}

// loadConfig reads the environment and applies the command line overrides
func loadConfig() (*config.Config, error) {
	return config.Load(serviceName, flags)
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
