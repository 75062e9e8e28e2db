package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"

	contractx "github.com/tanpawarit/Chative-Booking-Agent/agent/contract"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver string `envconfig:"DRIVER" split_words:"true" default:"postgres"`
	DSN    string `envconfig:"DSN" split_words:"true"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Entry is one row of the delivery journal: the final outcome of a single request.
type Entry struct {
	bun.BaseModel `bun:"table:delivery_journal,alias:dj"`

	ID          int64     `bun:"id,pk,autoincrement"`
	RequestID   string    `bun:"request_id,notnull"`
	Channel     string    `bun:"channel,notnull"`
	OwnerID     string    `bun:"owner_id"`
	RecipientID string    `bun:"recipient_id"`
	Outcome     string    `bun:"outcome,notnull"`
	Delivered   bool      `bun:"delivered,notnull"`
	Forced      bool      `bun:"forced,notnull"`
	Attempts    int       `bun:"attempts,notnull"`
	Error       string    `bun:"error,nullzero"`
	StartedAt   time.Time `bun:"started_at,notnull"`
	DurationMS  int64     `bun:"duration_ms,notnull"`
}

type Journal struct {
	db *bun.DB
}

var _ contractx.Journal = (*Journal)(nil)

func New(db *bun.DB) *Journal {
	return &Journal{db: db}
}

// Open connects with the configured driver. Postgres goes through pgdriver; sqlite through
// the pure-Go modernc driver.
func Open(cfg Config) (*Journal, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: journal dsn is required", contractx.ErrValidation)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return New(bun.NewDB(sqldb, pgdialect.New())), nil
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		return New(bun.NewDB(sqldb, sqlitedialect.New())), nil
	default:
		return nil, fmt.Errorf("%w: unknown journal driver %q", contractx.ErrValidation, cfg.Driver)
	}
}

func (j *Journal) CreateSchema(ctx context.Context) error {
	if _, err := j.db.NewCreateTable().Model((*Entry)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create delivery_journal: %w", err)
	}
	_, err := j.db.NewCreateIndex().
		Model((*Entry)(nil)).
		Index("delivery_journal_request_id_idx").
		Column("request_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create delivery_journal index: %w", err)
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, rec contractx.DeliveryRecord) error {
	entry := &Entry{
		RequestID:   rec.RequestID,
		Channel:     string(rec.Channel),
		OwnerID:     rec.OwnerID,
		RecipientID: rec.RecipientID,
		Outcome:     rec.Outcome,
		Delivered:   rec.Delivered,
		Forced:      rec.Forced,
		Attempts:    rec.Attempts,
		Error:       rec.Error,
		StartedAt:   rec.StartedAt.UTC(),
		DurationMS:  rec.Duration.Milliseconds(),
	}
	if _, err := j.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("insert delivery_journal: %w", err)
	}
	return nil
}

func (j *Journal) ByRequest(ctx context.Context, requestID string) ([]Entry, error) {
	var entries []Entry
	err := j.db.NewSelect().
		Model(&entries).
		Where("request_id = ?", requestID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select delivery_journal: %w", err)
	}
	return entries, nil
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Noop discards records when no journal database is configured.
type Noop struct{}

func (Noop) Record(context.Context, contractx.DeliveryRecord) error { return nil }
