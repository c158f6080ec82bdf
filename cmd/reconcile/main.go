package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/legacyrecon/internal/eventlog"
	"github.com/MarkoPoloResearchLab/legacyrecon/internal/report"
	"github.com/MarkoPoloResearchLab/legacyrecon/internal/statusapi"
	"github.com/MarkoPoloResearchLab/legacyrecon/internal/store/indexcache"
	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "RECONCILE"

	flagAnchor            = "anchor"
	flagDefaultAccount    = "default-account"
	flagDryRun            = "dry-run"
	flagReport            = "report"
	flagBatchSize         = "batch-size"
	flagTolerance         = "tolerance"
	flagCacheSize         = "cache-size"
	flagDestinationEngine = "destination-engine"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"

	configKeyAnchor            = "anchor"
	configKeyDefaultAccount    = "default_account"
	configKeyDryRun            = "dry_run"
	configKeyReport            = "report"
	configKeyBatchSize         = "batch_size"
	configKeyTolerance         = "tolerance"
	configKeyCacheSize         = "cache_size"
	configKeyDestinationEngine = "destination_engine"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeySessionKey        = "session_signing_key"
	configKeySessionIssuer     = "session_issuer"
	configKeySessionCookie     = "session_cookie"

	defaultBatchSize = 50
	defaultTolerance = "0.01"

	exitFailure       = 1
	exitNotReconciled = 2
)

var errNotReconciled = errors.New("not reconciled")

// storeKeys lists the per-store settings; passwords come from the environment only.
var storeKeys = []string{"driver", "host", "port", "database", "user", "sslmode"}

func main() {
	_ = godotenv.Load()
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "legacyrecon: %v\n", err)
		if errors.Is(err, errNotReconciled) {
			os.Exit(exitNotReconciled)
		}
		os.Exit(exitFailure)
	}
}

func newRootCommand() *cobra.Command {
	settings := newSettings()
	cmd := &cobra.Command{
		Use:           "legacyrecon",
		Short:         "Reconcile legacy milk sale attribution between the source of record and the new store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	for _, store := range []string{"source", "destination"} {
		flags.String(store+"-driver", "", store+" driver")
		flags.String(store+"-host", "", store+" host or unix socket path")
		flags.Int(store+"-port", 0, store+" port")
		flags.String(store+"-database", "", store+" database name, or file path for sqlite")
		flags.String(store+"-user", "", store+" user")
		flags.String(store+"-sslmode", "", store+" sslmode (postgres only)")
	}
	flags.String(flagDestinationEngine, enginePGX, "destination access layer: pgx or gorm")
	flags.Int(flagBatchSize, defaultBatchSize, "records per migration batch")
	flags.String(flagTolerance, defaultTolerance, "absolute tolerance for quantity and value comparisons")
	flags.Int(flagCacheSize, indexcache.DefaultSize, "legacy id lookups kept in memory")

	cmd.AddCommand(
		newReconcileCommand(settings, "run", "Correct attribution, migrate missing records and verify", reconcile.ModeFull),
		newReconcileCommand(settings, "fix-links", "Correct party attribution without inserting records", reconcile.ModeLinksOnly),
		newReconcileCommand(settings, "migrate", "Insert records missing from the destination", reconcile.ModeMigrateOnly),
		newReconcileCommand(settings, "verify", "Compare party aggregates without writing", reconcile.ModeVerifyOnly),
		newServeCommand(settings),
	)
	return cmd
}

func newSettings() *viper.Viper {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	settings.AutomaticEnv()
	return settings
}

func newReconcileCommand(settings *viper.Viper, use string, short string, mode reconcile.Mode) *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(settings, cmd.Flags(), planFlagKeys(mode)); err != nil {
				return err
			}
			return loadConfig(settings, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := cfg.validatePlan(mode)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReconcile(ctx, cfg, plan)
		},
	}
	cmd.Flags().StringSlice(flagAnchor, nil, "anchor party code (repeatable)")
	if mode != reconcile.ModeVerifyOnly {
		cmd.Flags().String(flagDefaultAccount, "", "party code substituted for unresolvable account references")
		cmd.Flags().Bool(flagDryRun, false, "count what would change without writing")
	}
	cmd.Flags().String(flagReport, "", "write an xlsx report to this path")
	return cmd
}

func newServeCommand(settings *viper.Viper) *cobra.Command {
	cfg := &runtimeConfig{}
	statusCfg := statusapi.Config{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve verification results and Prometheus metrics over HTTP",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(settings, cmd.Flags(), map[string]string{
				configKeyListenAddr:     flagListenAddr,
				configKeyAllowedOrigins: flagAllowedOrigins,
				configKeySessionIssuer:  flagSessionIssuer,
				configKeySessionCookie:  flagSessionCookie,
			}); err != nil {
				return err
			}
			if err := loadConfig(settings, cfg); err != nil {
				return err
			}
			statusCfg = statusapi.Config{
				ListenAddr:        settings.GetString(configKeyListenAddr),
				AllowedOrigins:    statusapi.ParseAllowedOrigins(settings.GetString(configKeyAllowedOrigins)),
				SessionSigningKey: settings.GetString(configKeySessionKey),
				SessionIssuer:     settings.GetString(configKeySessionIssuer),
				SessionCookieName: settings.GetString(configKeySessionCookie),
			}
			return statusCfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, statusCfg)
		},
	}
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagSessionIssuer, "", "expected tauth session issuer")
	cmd.Flags().String(flagSessionCookie, "", "tauth session cookie name")
	return cmd
}

func planFlagKeys(mode reconcile.Mode) map[string]string {
	keys := map[string]string{
		configKeyAnchor: flagAnchor,
		configKeyReport: flagReport,
	}
	if mode != reconcile.ModeVerifyOnly {
		keys[configKeyDefaultAccount] = flagDefaultAccount
		keys[configKeyDryRun] = flagDryRun
	}
	return keys
}

// bindFlags binds the shared connection flags plus the command-specific keys.
func bindFlags(settings *viper.Viper, flags *pflag.FlagSet, commandKeys map[string]string) error {
	keys := map[string]string{
		configKeyDestinationEngine: flagDestinationEngine,
		configKeyBatchSize:         flagBatchSize,
		configKeyTolerance:         flagTolerance,
		configKeyCacheSize:         flagCacheSize,
	}
	for _, store := range []string{"source", "destination"} {
		for _, key := range storeKeys {
			keys[store+"."+key] = store + "-" + key
		}
	}
	for key, flag := range commandKeys {
		keys[key] = flag
	}
	for key, flag := range keys {
		if err := settings.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind %s: %w", flag, err)
		}
	}
	return nil
}

func loadConfig(settings *viper.Viper, cfg *runtimeConfig) error {
	cfg.Source = loadStoreConfig(settings, "source")
	cfg.Destination = loadStoreConfig(settings, "destination")
	cfg.DestinationEngine = settings.GetString(configKeyDestinationEngine)
	cfg.BatchSize = settings.GetInt(configKeyBatchSize)
	cfg.Tolerance = settings.GetString(configKeyTolerance)
	cfg.CacheSize = settings.GetInt(configKeyCacheSize)
	cfg.DryRun = settings.GetBool(configKeyDryRun)
	cfg.AnchorCodes = splitCodes(settings.GetStringSlice(configKeyAnchor))
	cfg.DefaultAccount = settings.GetString(configKeyDefaultAccount)
	cfg.ReportPath = settings.GetString(configKeyReport)
	return cfg.validateConnections()
}

func loadStoreConfig(settings *viper.Viper, store string) storeConfig {
	return storeConfig{
		Driver:   settings.GetString(store + ".driver"),
		Host:     settings.GetString(store + ".host"),
		Port:     settings.GetInt(store + ".port"),
		Database: settings.GetString(store + ".database"),
		User:     settings.GetString(store + ".user"),
		Password: settings.GetString(store + ".password"),
		SSLMode:  settings.GetString(store + ".sslmode"),
	}
}

type session struct {
	logger     *zap.Logger
	reconciler *reconcile.Reconciler
	cache      *indexcache.Index
	close      func()
}

func openSession(ctx context.Context, cfg *runtimeConfig) (*session, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	source, closeSource, err := openSource(cfg.Source)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	destination, closeDestination, err := openDestination(ctx, cfg.Destination, cfg.DestinationEngine)
	if err != nil {
		closeSource()
		_ = logger.Sync()
		return nil, err
	}
	closeAll := func() {
		closeDestination()
		closeSource()
		_ = logger.Sync()
	}
	cache, err := indexcache.New(destination, cfg.CacheSize)
	if err != nil {
		closeAll()
		return nil, err
	}
	tolerance, err := cfg.tolerance()
	if err != nil {
		closeAll()
		return nil, err
	}
	reconciler, err := reconcile.NewReconciler(source, destination,
		func() time.Time { return time.Now().UTC() },
		reconcile.WithBatchSize(cfg.BatchSize),
		reconcile.WithTolerance(tolerance),
		reconcile.WithDryRun(cfg.DryRun),
		reconcile.WithLegacyIndex(cache),
		reconcile.WithEventLogger(eventlog.New(logger, os.Stdout)),
	)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("reconciler init: %w", err)
	}
	return &session{logger: logger, reconciler: reconciler, cache: cache, close: closeAll}, nil
}

func runReconcile(ctx context.Context, cfg *runtimeConfig, plan reconcile.Plan) error {
	current, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer current.close()

	current.logger.Info("reconcile starting",
		zap.String("mode", string(plan.Mode)),
		zap.Int("anchors", len(plan.AnchorCodes)),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("destination_engine", cfg.DestinationEngine),
	)
	runReport, err := current.reconciler.Run(ctx, plan)
	if err != nil {
		return err
	}
	if err := report.WriteSummary(os.Stdout, runReport); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if cfg.ReportPath != "" {
		if err := report.WriteWorkbook(cfg.ReportPath, runReport); err != nil {
			return err
		}
		current.logger.Info("report written", zap.String("path", cfg.ReportPath))
	}
	hits, misses := current.cache.Stats()
	current.logger.Info("reconcile finished",
		zap.Bool("reconciled", runReport.Reconciled()),
		zap.Int("index_cache_hits", hits),
		zap.Int("index_cache_misses", misses),
	)
	if !runReport.Reconciled() {
		return errNotReconciled
	}
	return nil
}

func runServe(ctx context.Context, cfg *runtimeConfig, statusCfg statusapi.Config) error {
	current, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer current.close()
	return statusapi.Run(ctx, statusCfg, current.reconciler, current.logger)
}
