package postgres

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

func NewConfigFromEnv() *Config {
	maxOpen, _ := strconv.Atoi(os.Getenv("POSTGRES_MAX_OPEN_CONNS"))
	maxIdle, _ := strconv.Atoi(os.Getenv("POSTGRES_MAX_IDLE_CONNS"))

	return &Config{
		Host:         os.Getenv("POSTGRES_HOST"),
		Port:         os.Getenv("POSTGRES_PORT"),
		Username:     os.Getenv("POSTGRES_USERNAME"),
		Password:     os.Getenv("POSTGRES_PASSWORD"),
		DBName:       os.Getenv("POSTGRES_DB_NAME"),
		SSLMode:      os.Getenv("POSTGRES_SSL_MODE"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
	}
}

func (c *Config) Setup() *Config {
	const (
		defaultHost     = "localhost"
		defaultPort     = "5432"
		defaultUsername = "postgres"
		defaultPassword = "postgres"
		defaultDBName   = "postgres"
		defaultSSLMode  = "disable"

		defaultMaxOpenConns = 10
		defaultMaxIdleConns = 5
	)

	c.Host = cmp.Or(c.Host, defaultHost)
	c.Port = cmp.Or(c.Port, defaultPort)
	if _, err := strconv.Atoi(c.Port); err != nil {
		c.Port = defaultPort
	}
	c.Username = cmp.Or(c.Username, defaultUsername)
	c.Password = cmp.Or(c.Password, defaultPassword)
	c.DBName = cmp.Or(c.DBName, defaultDBName)
	c.SSLMode = cmp.Or(c.SSLMode, defaultSSLMode)

	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}

	return c
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.DBName, c.Password, c.SSLMode,
	)
}

func NewDB(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.String())
	if err != nil {
		return nil, fmt.Errorf("%w: can't connect to postgres", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	return db, nil
}

const _schema = `
CREATE TABLE IF NOT EXISTS portfolios (
  id                  TEXT PRIMARY KEY,
  owner_id            TEXT NOT NULL,
  name                TEXT NOT NULL,
  status              TEXT NOT NULL,
  strategy            TEXT NOT NULL DEFAULT '',
  risk_tolerance      TEXT NOT NULL,
  automation_level    TEXT NOT NULL,
  target_allocation   JSONB,
  rebalancing_enabled BOOLEAN NOT NULL DEFAULT FALSE,
  stop_loss_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
  dca                 JSONB,
  limits              JSONB,
  cash                DOUBLE PRECISION NOT NULL DEFAULT 0,
  initial_deposit     DOUBLE PRECISION NOT NULL DEFAULT 0,
  pending_dividends   DOUBLE PRECISION NOT NULL DEFAULT 0,
  next_rebalancing    TIMESTAMPTZ NOT NULL,
  last_dca            TIMESTAMPTZ NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL,
  updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
  portfolio_id    TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
  symbol          TEXT NOT NULL,
  quantity        DOUBLE PRECISION NOT NULL,
  cost_basis      DOUBLE PRECISION NOT NULL,
  current_price   DOUBLE PRECISION NOT NULL,
  purchased_at    TIMESTAMPTZ NOT NULL,
  high_water_mark DOUBLE PRECISION NOT NULL,
  fired_tiers     JSONB,
  PRIMARY KEY (portfolio_id, symbol)
);

CREATE TABLE IF NOT EXISTS performance_snapshots (
  portfolio_id          TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
  ts                    TIMESTAMPTZ NOT NULL,
  total_value           DOUBLE PRECISION NOT NULL,
  cumulative_return_pct DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (portfolio_id, ts)
);

CREATE TABLE IF NOT EXISTS execution_records (
  order_id     TEXT PRIMARY KEY,
  portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
  symbol       TEXT NOT NULL,
  action       TEXT NOT NULL,
  reason       TEXT NOT NULL,
  quantity     DOUBLE PRECISION NOT NULL,
  price        DOUBLE PRECISION NOT NULL,
  fees         DOUBLE PRECISION NOT NULL,
  total_value  DOUBLE PRECISION NOT NULL,
  ts           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS execution_records_portfolio_ts_idx
  ON execution_records (portfolio_id, ts);
`

// Migrate creates the schema when it is not there yet. Idempotent, runs
// at every startup. The snapshot and record primary keys are what makes
// the flush upserts safe to repeat.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(_schema); err != nil {
		return fmt.Errorf("%w: can't apply schema", err)
	}
	return nil
}
