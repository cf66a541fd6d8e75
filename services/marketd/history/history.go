package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stablemarket/core/events"
)

// Record is one committed marketplace event.
type Record struct {
	Seq        uint64            `gorm:"primaryKey;autoIncrement"`
	EventID    uuid.UUID         `gorm:"type:uuid;uniqueIndex"`
	Type       string            `gorm:"size:64;index"`
	OrderID    *uint64           `gorm:"index"`
	Actor      string            `gorm:"size:42;index"`
	Attributes map[string]string `gorm:"serializer:json"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "market_events" }

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type    string
	OrderID *uint64
	Actor   string
	// AfterSeq returns only records newer than the given sequence number.
	AfterSeq uint64
	Limit    int
}

const maxLimit = 500

// Store persists marketplace events in a SQL database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default().With("component", "history"), nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock used for record timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	if s != nil && now != nil {
		s.nowFn = now
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Events that do not carry a payload are
// ignored; persistence failures are logged because emitters cannot fail.
func (s *Store) Emit(evt events.Event) {
	if s == nil {
		return
	}
	if err := s.Append(context.Background(), evt); err != nil {
		s.logger.Error("persist event", "type", evt.EventType(), "error", err)
	}
}

// Append persists evt.
func (s *Store) Append(ctx context.Context, evt events.Event) error {
	payload, ok := evt.(events.Payload)
	if !ok {
		return nil
	}
	e := payload.Event()
	if e == nil {
		return nil
	}
	rec := Record{
		EventID:    uuid.New(),
		Type:       e.Type,
		Actor:      actorOf(e.Attributes),
		Attributes: e.Clone().Attributes,
		CreatedAt:  s.nowFn().UTC(),
	}
	if raw, ok := e.Attributes["orderId"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			rec.OrderID = &id
		}
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// actorOf picks the identity that triggered the event.
func actorOf(attrs map[string]string) string {
	for _, key := range []string{"buyer", "owner", "seller"} {
		if v := attrs[key]; v != "" {
			return v
		}
	}
	return ""
}

// List returns records matching filter in sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	q := s.db.WithContext(ctx).Model(&Record{}).Where("seq > ?", filter.AfterSeq)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.OrderID != nil {
		q = q.Where("order_id = ?", *filter.OrderID)
	}
	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	var out []Record
	if err := q.Order("seq asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
