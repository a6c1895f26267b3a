package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/catalog"
	"github.com/bher20/energybill/internal/config"
	"github.com/bher20/energybill/internal/logging"
	"github.com/bher20/energybill/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "energybill",
		Short:         "Household energy bill calculator",
		Version:       readVersionFromEnv(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newCalculateCmd(), newTokenCmd())
	return root
}

// env loads configuration and a logger shared by every subcommand.
type env struct {
	cfg config.Config
	log *zap.Logger
}

func loadEnv() (*env, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &env{cfg: cfg, log: log}, nil
}

func (e *env) storageConfig() storage.Config {
	return storage.Config{
		Driver:      e.cfg.DBDriver,
		DSN:         e.cfg.DBDSN,
		AutoMigrate: e.cfg.AutoMigrate,
		Logger:      e.log,
		Dynamo: storage.DynamoConfig{
			Region:      e.cfg.AWSRegion,
			Endpoint:    e.cfg.DynamoEndpoint,
			TablePrefix: e.cfg.DynamoTablePrefix,
		},
	}
}

// openStore opens the configured backend and applies the catalog at
// CatalogPath, if one is set.
func (e *env) openStore(ctx context.Context) (storage.Storage, error) {
	st, err := storage.Open(ctx, e.storageConfig())
	if err != nil {
		return nil, err
	}
	if e.cfg.CatalogPath == "" {
		return st, nil
	}
	if _, err := seed(ctx, e.log, st, e.cfg.CatalogPath); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func seed(ctx context.Context, log *zap.Logger, st storage.Storage, path string) (catalog.Result, error) {
	doc, err := catalog.LoadFile(path)
	if err != nil {
		return catalog.Result{}, err
	}
	res, err := catalog.Apply(ctx, st, doc)
	if err != nil {
		return res, err
	}
	log.Info("catalog applied",
		zap.String("path", path),
		zap.Int("houses", res.Houses),
		zap.Int("flags", res.Flags),
		zap.Int("rates", res.Rates))
	return res, nil
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
