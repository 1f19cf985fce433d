package docstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationTopicsArrayToMap = "2026-08-29_topics_array_to_map"

// statsDocumentPath is the singleton aggregate document holding per-topic
// thread counts.
const statsDocumentPath = "meta/pelilauta"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*Store) error
}

func applyMigrations(store *Store, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTopicsArrayToMap, apply: migrateTopicsArrayToMap},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := store.db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(store); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := store.db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("document migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// migrateTopicsArrayToMap converts the legacy array-of-objects shape of the
// aggregate stats document into a mapping keyed by topic slug. The map shape
// gives O(1) lookup and removes the duplicate-slug hazard of the linear
// search; the handlers only ever see the map form.
func migrateTopicsArrayToMap(store *Store) error {
	ref, err := ParseRef(statsDocumentPath)
	if err != nil {
		return err
	}

	snapshot, exists, err := store.Get(context.Background(), ref)
	if err != nil || !exists {
		return err
	}

	legacy, ok := snapshot.Data()["topics"].([]any)
	if !ok {
		return nil
	}

	topics := map[string]any{}
	for _, entry := range legacy {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		slug, _ := fields["slug"].(string)
		if slug == "" {
			continue
		}
		if existing, dup := topics[slug]; dup {
			// Duplicate slugs were exactly the bug the array shape allowed;
			// fold counts together instead of dropping one silently.
			existingFields := existing.(map[string]any)
			existingCount, _ := existingFields["count"].(float64)
			addedCount, _ := fields["count"].(float64)
			existingFields["count"] = existingCount + addedCount
			continue
		}
		topics[slug] = fields
	}

	return store.Update(context.Background(), ref, map[string]any{"topics": topics})
}
