package main

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const (
	driverMySQL    = "mysql"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	enginePGX  = "pgx"
	engineGORM = "gorm"

	defaultMySQLPort    = 3306
	defaultPostgresPort = 5432
	defaultSSLMode      = "disable"
)

// storeConfig describes one database connection. Credentials have no defaults.
type storeConfig struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

type runtimeConfig struct {
	Source            storeConfig
	Destination       storeConfig
	DestinationEngine string
	BatchSize         int
	Tolerance         string
	CacheSize         int
	DryRun            bool
	AnchorCodes       []string
	DefaultAccount    string
	ReportPath        string
}

func (cfg *storeConfig) validate(role string, defaultDriver string, defaultPort int) error {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "" {
		cfg.Driver = defaultDriver
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return fmt.Errorf("%s database is required", role)
	}
	if cfg.Driver == driverSQLite {
		return nil
	}
	if cfg.Driver != defaultDriver {
		return fmt.Errorf("unsupported %s driver %q", role, cfg.Driver)
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("%s host is required", role)
	}
	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("%s user is required", role)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("%s port %d out of range", role, cfg.Port)
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = defaultSSLMode
	}
	return nil
}

// validateConnections checks both stores and the engine selection.
func (cfg *runtimeConfig) validateConnections() error {
	if err := cfg.Source.validate("source", driverMySQL, defaultMySQLPort); err != nil {
		return err
	}
	if err := cfg.Destination.validate("destination", driverPostgres, defaultPostgresPort); err != nil {
		return err
	}
	cfg.DestinationEngine = strings.ToLower(strings.TrimSpace(cfg.DestinationEngine))
	if cfg.DestinationEngine == "" {
		cfg.DestinationEngine = enginePGX
	}
	switch cfg.DestinationEngine {
	case enginePGX:
		if cfg.Destination.Driver == driverSQLite {
			return fmt.Errorf("destination engine %q requires the postgres driver", enginePGX)
		}
	case engineGORM:
	default:
		return fmt.Errorf("unsupported destination engine %q", cfg.DestinationEngine)
	}
	return nil
}

// validatePlan checks the reconciler tuning and turns the party flags into a plan.
func (cfg *runtimeConfig) validatePlan(mode reconcile.Mode) (reconcile.Plan, error) {
	if cfg.BatchSize <= 0 {
		return reconcile.Plan{}, fmt.Errorf("batch size must be positive")
	}
	if _, err := cfg.tolerance(); err != nil {
		return reconcile.Plan{}, err
	}
	plan := reconcile.Plan{Mode: mode}
	for _, raw := range cfg.AnchorCodes {
		code, err := reconcile.NewPartyCode(raw)
		if err != nil {
			return reconcile.Plan{}, fmt.Errorf("anchor: %w", err)
		}
		plan.AnchorCodes = append(plan.AnchorCodes, code)
	}
	if len(plan.AnchorCodes) == 0 {
		return reconcile.Plan{}, fmt.Errorf("at least one --%s is required", flagAnchor)
	}
	if mode != reconcile.ModeVerifyOnly {
		code, err := reconcile.NewPartyCode(cfg.DefaultAccount)
		if err != nil {
			return reconcile.Plan{}, fmt.Errorf("--%s: %w", flagDefaultAccount, err)
		}
		plan.DefaultAccountCode = code
	}
	return plan, nil
}

func (cfg *runtimeConfig) tolerance() (decimal.Decimal, error) {
	tolerance, err := decimal.NewFromString(strings.TrimSpace(cfg.Tolerance))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("tolerance %q: %w", cfg.Tolerance, err)
	}
	if tolerance.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("tolerance must not be negative")
	}
	return tolerance, nil
}

// splitCodes accepts repeated flags as well as comma-separated environment values.
func splitCodes(values []string) []string {
	codes := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				codes = append(codes, trimmed)
			}
		}
	}
	return codes
}

// mysqlDSN leaves parseTime off so zero dates reach the reconciler as text.
func mysqlDSN(cfg storeConfig) string {
	dsnConfig := mysqldriver.NewConfig()
	dsnConfig.User = cfg.User
	dsnConfig.Passwd = cfg.Password
	dsnConfig.DBName = cfg.Database
	if strings.HasPrefix(cfg.Host, "/") {
		dsnConfig.Net = "unix"
		dsnConfig.Addr = cfg.Host
	} else {
		dsnConfig.Net = "tcp"
		dsnConfig.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	dsnConfig.ParseTime = false
	return dsnConfig.FormatDSN()
}

func postgresURL(cfg storeConfig) string {
	query := url.Values{}
	query.Set("sslmode", cfg.SSLMode)
	connURL := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: query.Encode(),
	}
	return connURL.String()
}
