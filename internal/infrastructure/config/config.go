package config

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
)

// Common holds settings shared by every binary.
type Common struct {
	// Logging
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Version string `env:"VERSION" envDefault:"dev"`
}

// HTTP holds listener settings.
type HTTP struct {
	HTTPPort            string        `env:"PORT"                  envDefault:"8080"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"30s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"30s"`
	HTTPIdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     envDefault:"60s"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Stream locates a Redis stream. Parsed with a LEDGER_ or UNCONF_ prefix.
type Stream struct {
	Addr         string        `env:"ADDR,required,notEmpty"`
	Port         int           `env:"PORT,required,notEmpty"`
	Stream       string        `env:"STREAM,required,notEmpty"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB"            envDefault:"0"`
	BlockTimeout time.Duration `env:"BLOCK_TIMEOUT" envDefault:"5s"`
	ReadBatch    int64         `env:"READ_BATCH"    envDefault:"500"`
}

// Address returns host:port.
func (s Stream) Address() string {
	return net.JoinHostPort(s.Addr, strconv.Itoa(s.Port))
}

// Intake is the optional unconfirmed queue consumed by the ledger writer.
type Intake struct {
	Addr     string `env:"ADDR"`
	Port     int    `env:"PORT"     envDefault:"6379"`
	Stream   string `env:"STREAM"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"       envDefault:"0"`
	Group    string `env:"GROUP"    envDefault:"ledgerwriter"`
	Consumer string `env:"CONSUMER" envDefault:"ledgerwriter-0"`
}

// Enabled reports whether an intake stream was configured.
func (i Intake) Enabled() bool {
	return i.Addr != "" && i.Stream != ""
}

// Address returns host:port.
func (i Intake) Address() string {
	return net.JoinHostPort(i.Addr, strconv.Itoa(i.Port))
}

// Auth holds bearer credential settings (optional - leave disabled for open access).
type Auth struct {
	AuthEnabled   bool          `env:"AUTH_ENABLED"   envDefault:"false"`
	JWTSecret     string        `env:"JWT_SECRET"     envDefault:""`
	PubKeyPath    string        `env:"PUB_KEY_PATH"   envDefault:""`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`
}

func (a Auth) validate() error {
	if a.AuthEnabled && a.JWTSecret == "" && a.PubKeyPath == "" {
		return errors.New("AUTH_ENABLED requires JWT_SECRET or PUB_KEY_PATH")
	}
	return nil
}

// Database holds the optional snapshot database settings.
type Database struct {
	DatabaseURL      string `env:"SNAPSHOT_DATABASE_URL"`
	DatabaseMaxConns int    `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	DatabaseMinConns int    `env:"DATABASE_MIN_CONNS" envDefault:"1"`
}

// BalanceReader configures cmd/balancereader.
type BalanceReader struct {
	Common
	HTTP
	Auth
	Database

	Ledger       Stream `envPrefix:"LEDGER_"`
	LocalRouting string `env:"LOCAL_ROUTING_NUM,required,notEmpty"`

	HistoryLimit    int `env:"HISTORY_LIMIT"    envDefault:"100"`
	CheckpointEvery int `env:"CHECKPOINT_EVERY" envDefault:"1000"`

	// LegacyBalanceStatus answers /get_balance with 201 instead of 200.
	LegacyBalanceStatus bool `env:"LEGACY_BALANCE_STATUS" envDefault:"false"`
}

// LedgerWriter configures cmd/ledgerwriter.
type LedgerWriter struct {
	Common
	HTTP
	Auth

	Ledger       Stream `envPrefix:"LEDGER_"`
	Intake       Intake `envPrefix:"UNCONF_"`
	LocalRouting string `env:"LOCAL_ROUTING_NUM,required,notEmpty"`

	// Balance reader base URL; empty disables the sufficient-funds check.
	BalancesAPIAddr string        `env:"BALANCES_API_ADDR"`
	BalancesTimeout time.Duration `env:"BALANCES_TIMEOUT" envDefault:"3s"`

	StrictAccountFormat bool          `env:"STRICT_ACCOUNT_FORMAT" envDefault:"false"`
	SubmitTimeout       time.Duration `env:"SUBMIT_TIMEOUT"        envDefault:"10s"`

	// Idempotency
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Rate limiting, per client IP
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS"   envDefault:"100"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"200"`

	// Circuit breaker on ledger appends and balance lookups
	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT"  envDefault:"30s"`
}

// Generator configures cmd/txgenerator.
type Generator struct {
	Common
	HTTP

	Unconf Stream `envPrefix:"UNCONF_"`

	Interval        time.Duration `env:"GENERATOR_INTERVAL"              envDefault:"10s"`
	Accounts        []string      `env:"GENERATOR_ACCOUNTS"              envDefault:"1011226111,1033623433,1055757655" envSeparator:","`
	RoutingNum      string        `env:"GENERATOR_ROUTING_NUM"           envDefault:"883745000"`
	ExternalRouting string        `env:"GENERATOR_EXTERNAL_ROUTING_NUM"  envDefault:"808889588"`
	DepositEvery    int           `env:"GENERATOR_DEPOSIT_EVERY"         envDefault:"5"`
	MinAmount       int64         `env:"GENERATOR_MIN_AMOUNT"            envDefault:"100"`
	MaxAmount       int64         `env:"GENERATOR_MAX_AMOUNT"            envDefault:"10000"`
}

// LoadBalanceReader loads balance reader configuration from environment variables.
func LoadBalanceReader() (*BalanceReader, error) {
	cfg := &BalanceReader{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLedgerWriter loads ledger writer configuration from environment variables.
func LoadLedgerWriter() (*LedgerWriter, error) {
	cfg := &LedgerWriter{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGenerator loads transaction generator configuration from environment variables.
func LoadGenerator() (*Generator, error) {
	cfg := &Generator{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Accounts) < 2 {
		return nil, errors.New("GENERATOR_ACCOUNTS needs at least two accounts")
	}
	return cfg, nil
}
