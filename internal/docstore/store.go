package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidRef indicates a document path that does not split into
// collection and id segments.
var ErrInvalidRef = errors.New("docstore: invalid document reference")

// Document is the single row shape backing every collection. Payloads are
// schemaless JSON objects keyed by collection path and document id.
type Document struct {
	Collection       string `gorm:"column:collection;primaryKey;size:190;not null"`
	DocID            string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Ref addresses one document inside a collection. Collections may be nested,
// e.g. "stream/abc123/comments".
type Ref struct {
	Collection string
	ID         string
}

// ParseRef splits a slash-separated document path into a Ref. The final
// segment is the document id, everything before it the collection path.
func ParseRef(path string) (Ref, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 || segments[len(segments)-1] == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, path)
	}
	for _, segment := range segments {
		if segment == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, path)
		}
	}
	return Ref{
		Collection: strings.Join(segments[:len(segments)-1], "/"),
		ID:         segments[len(segments)-1],
	}, nil
}

// Path returns the slash-separated document path.
func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Store wraps the SQLite-backed document table with the operations the event
// handlers need: point reads and writes, a boolean-field query for the
// subscription fan-out, and an atomic counter increment.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// Open establishes a SQLite connection, migrates the schema and applies any
// pending data migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	store := New(db, logger)
	if err := db.AutoMigrate(&Document{}, &migrationRecord{}); err != nil {
		return nil, err
	}
	if err := applyMigrations(store, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("document store initialized", zap.String("path", path))
	}
	return store, nil
}

// New wraps an existing GORM handle. Callers owning the handle are
// responsible for schema migration; tests use this with AutoMigrate.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, clock: time.Now, logger: logger}
}

// DB exposes the underlying handle for lifecycle management in main.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithClock overrides the timestamp source. Intended for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	return &Store{db: s.db, clock: clock, logger: s.logger}
}

// Now reports the store's current server time.
func (s *Store) Now() time.Time {
	return s.clock().UTC()
}

// Get loads one document. The boolean reports existence; a missing document
// is not an error.
func (s *Store) Get(ctx context.Context, ref Ref) (Snapshot, bool, error) {
	var row Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snapshot, err := newSnapshot(ref, row.PayloadJSON)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Set creates or replaces the document with the given fields.
func (s *Store) Set(ctx context.Context, ref Ref, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	now := s.clock().UTC().Unix()
	row := Document{
		Collection:       ref.Collection,
		DocID:            ref.ID,
		PayloadJSON:      string(payload),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_s"}),
	}).Create(&row).Error
}

// Update merges the given fields into the document, creating it when absent.
// Missing parents defaulting to empty rather than failing keeps the counter
// paths best-effort, matching the tolerated-anomaly behavior of the handlers.
func (s *Store) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).
			Take(&row).Error

		existing := map[string]any{}
		if err == nil {
			if unmarshalErr := json.Unmarshal([]byte(row.PayloadJSON), &existing); unmarshalErr != nil {
				return unmarshalErr
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		for key, value := range fields {
			existing[key] = value
		}
		payload, marshalErr := json.Marshal(existing)
		if marshalErr != nil {
			return marshalErr
		}

		now := s.clock().UTC().Unix()
		merged := Document{
			Collection:       ref.Collection,
			DocID:            ref.ID,
			PayloadJSON:      string(payload),
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&merged).Error
		}
		merged.CreatedAtSeconds = row.CreatedAtSeconds
		return tx.Save(&merged).Error
	})
}

// Delete removes the document. Deleting an absent document is a no-op.
func (s *Store) Delete(ctx context.Context, ref Ref) error {
	return s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).
		Delete(&Document{}).Error
}

// Increment atomically adds delta to a numeric top-level field. The mutation
// is a single UPDATE over the JSON payload, so concurrent increments never
// lose updates the way a read-modify-write would. An absent document is
// created with the field starting from zero.
func (s *Store) Increment(ctx context.Context, ref Ref, field string, delta int64) error {
	jsonPath := "$." + field
	now := s.clock().UTC().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`UPDATE documents
			 SET payload_json = json_set(payload_json, ?, COALESCE(json_extract(payload_json, ?), 0) + ?),
			     updated_at_s = ?
			 WHERE collection = ? AND doc_id = ?`,
			jsonPath, jsonPath, delta, now, ref.Collection, ref.ID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		payload, err := json.Marshal(map[string]any{field: delta})
		if err != nil {
			return err
		}
		return tx.Create(&Document{
			Collection:       ref.Collection,
			DocID:            ref.ID,
			PayloadJSON:      string(payload),
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}).Error
	})
}

// QueryFieldTrue returns every document in the collection whose top-level
// boolean field is true. Used by the subscription fan-out.
func (s *Store) QueryFieldTrue(ctx context.Context, collection, field string) ([]Snapshot, error) {
	jsonPath := "$." + field
	var rows []Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND json_extract(payload_json, ?) = 1", collection, jsonPath).
		Order("doc_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snapshot, err := newSnapshot(Ref{Collection: row.Collection, ID: row.DocID}, row.PayloadJSON)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// Transact runs fn against a store bound to one transaction. The counter
// reconciliation paths wrap their read-modify-write in this so two handlers
// racing on the same parent serialize instead of losing an update.
func (s *Store) Transact(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, clock: s.clock, logger: s.logger})
	})
}
