package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"
)

// Audit record kinds.
const (
	KindPlan       = "plan"
	KindSimulation = "simulation"
	KindFeeChange  = "fee_change"
	KindSubmission = "submission"
)

// Audit outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// ErrNotFound is returned when no audit record matches.
var ErrNotFound = errors.New("audit: record not found")

// AuditRecord is one plan, simulation, submission or fee change handled by
// the service. Payload holds the JSON response or request that was served.
type AuditRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind        string    `gorm:"index;not null"`
	Outcome     string    `gorm:"index;not null"`
	Source      string    `gorm:"index"`
	Destination string
	Actor       string
	FeeRateBps  uint64
	Error       string
	Payload     string `gorm:"type:text"`
	// Digest is the hex BLAKE3 hash of the record content, set by Record.
	Digest    string
	CreatedAt time.Time `gorm:"index"`
}

// ComputeDigest hashes every content field with length prefixes so that
// adjacent fields cannot be shifted into each other.
func (r *AuditRecord) ComputeDigest() string {
	h := blake3.New(32, nil)
	var size [8]byte
	for _, field := range []string{r.ID.String(), r.Kind, r.Outcome, r.Source, r.Destination, r.Actor, r.Error, r.Payload} {
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write([]byte(field))
	}
	binary.BigEndian.PutUint64(size[:], r.FeeRateBps)
	h.Write(size[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether Digest matches the record content.
func (r *AuditRecord) Verify() bool {
	return r.Digest != "" && r.Digest == r.ComputeDigest()
}

// AuditStore persists audit records through gorm.
type AuditStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the audit database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*AuditStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return NewAuditStore(db)
}

// NewAuditStore migrates the schema on db.
func NewAuditStore(db *gorm.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: nil database")
	}
	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	return &AuditStore{db: db, now: time.Now}, nil
}

// Record inserts rec, assigning an ID and timestamp when unset.
func (s *AuditStore) Record(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("audit: store not configured")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	rec.Digest = rec.ComputeDigest()
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("audit: insert %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (s *AuditStore) Get(ctx context.Context, id uuid.UUID) (*AuditRecord, error) {
	var rec AuditRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: load %s: %w", id, err)
	}
	return &rec, nil
}

// List returns records created at or after since, oldest first. A
// non-positive limit returns every match.
func (s *AuditStore) List(ctx context.Context, since time.Time, limit int) ([]AuditRecord, error) {
	query := s.db.WithContext(ctx).Where("created_at >= ?", since.UTC()).Order("created_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []AuditRecord
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *AuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
