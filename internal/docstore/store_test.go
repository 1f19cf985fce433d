package docstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "docstore.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return New(db, zap.NewNop())
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		wantCollection string
		wantID         string
		wantErr        bool
	}{
		{name: "top level", path: "stream/abc", wantCollection: "stream", wantID: "abc"},
		{name: "nested", path: "stream/abc/comments/xyz", wantCollection: "stream/abc/comments", wantID: "xyz"},
		{name: "leading slash", path: "/sites/s1", wantCollection: "sites", wantID: "s1"},
		{name: "single segment", path: "stream", wantErr: true},
		{name: "empty segment", path: "stream//abc", wantErr: true},
		{name: "empty", path: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseRef(tc.path)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Collection != tc.wantCollection || ref.ID != tc.wantID {
				t.Fatalf("unexpected ref %+v", ref)
			}
		})
	}
}

func TestGetReturnsFalseForMissingDocument(t *testing.T) {
	store := newTestStore(t)

	_, exists, err := store.Get(context.Background(), Ref{Collection: "stream", ID: "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatalf("expected document to be absent")
	}
}

func TestSetAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{Collection: "stream", ID: "thread-1"}

	err := store.Set(context.Background(), ref, map[string]any{
		"author":     "alice",
		"replyCount": 3,
		"owners":     []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, exists, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatalf("expected document to exist")
	}
	if got := snapshot.String("author", ""); got != "alice" {
		t.Fatalf("unexpected author %q", got)
	}
	if got := snapshot.Int64("replyCount", 0); got != 3 {
		t.Fatalf("unexpected reply count %d", got)
	}
	if owners := snapshot.StringSlice("owners"); len(owners) != 2 || owners[0] != "alice" {
		t.Fatalf("unexpected owners %v", owners)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{Collection: "sites", ID: "site-1"}

	if err := store.Set(context.Background(), ref, map[string]any{"name": "Lair", "lovesCount": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Update(context.Background(), ref, map[string]any{"lovesCount": 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, _, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := snapshot.String("name", ""); got != "Lair" {
		t.Fatalf("merge dropped unrelated field, name=%q", got)
	}
	if got := snapshot.Int64("lovesCount", 0); got != 2 {
		t.Fatalf("unexpected loves count %d", got)
	}
}

func TestUpdateCreatesMissingDocument(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{Collection: "stream", ID: "ghost"}

	if err := store.Update(context.Background(), ref, map[string]any{"replyCount": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, exists, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatalf("expected document to be created")
	}
	if got := snapshot.Int64("replyCount", 0); got != 1 {
		t.Fatalf("unexpected reply count %d", got)
	}
}

func TestIncrementAdjustsExistingField(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{Collection: "sites", ID: "site-1"}

	if err := store.Set(context.Background(), ref, map[string]any{"name": "Lair", "lovesCount": 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Increment(context.Background(), ref, "lovesCount", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Increment(context.Background(), ref, "lovesCount", -2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, _, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := snapshot.Int64("lovesCount", 0); got != 4 {
		t.Fatalf("unexpected loves count %d", got)
	}
	if got := snapshot.String("name", ""); got != "Lair" {
		t.Fatalf("increment clobbered sibling field, name=%q", got)
	}
}

func TestIncrementCreatesMissingDocument(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{Collection: "sites", ID: "fresh"}

	if err := store.Increment(context.Background(), ref, "lovesCount", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, exists, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatalf("expected document to be created")
	}
	if got := snapshot.Int64("lovesCount", 0); got != 1 {
		t.Fatalf("unexpected loves count %d", got)
	}
}

func TestQueryFieldTrueFiltersByBooleanField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := map[string]map[string]any{
		"a": {"notifyOnThreads": true, "messagingTokens": []string{"t1"}},
		"b": {"notifyOnThreads": false},
		"c": {"notifyOnLikes": true},
		"d": {"notifyOnThreads": true},
	}
	for id, fields := range seed {
		if err := store.Set(ctx, Ref{Collection: "subscriptions", ID: id}, fields); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshots, err := store.QueryFieldTrue(ctx, "subscriptions", "notifyOnThreads")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(snapshots))
	}
	if snapshots[0].Ref.ID != "a" || snapshots[1].Ref.ID != "d" {
		t.Fatalf("unexpected match order %q %q", snapshots[0].Ref.ID, snapshots[1].Ref.ID)
	}
}

func TestSetStampsDocumentTimestamps(t *testing.T) {
	store := newTestStore(t).WithClock(func() time.Time {
		return time.Unix(1756400000, 0)
	})
	ref := Ref{Collection: "stream", ID: "thread-1"}

	if err := store.Set(context.Background(), ref, map[string]any{"author": "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var row Document
	err := store.DB().Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).Take(&row).Error
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.CreatedAtSeconds != 1756400000 || row.UpdatedAtSeconds != 1756400000 {
		t.Fatalf("unexpected timestamps %d/%d", row.CreatedAtSeconds, row.UpdatedAtSeconds)
	}
}

func TestStringSliceNormalizesScalar(t *testing.T) {
	store := newTestStore(t)
	ref := Ref{Collection: "stream", ID: "thread-1"}

	if err := store.Set(context.Background(), ref, map[string]any{"owners": "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot, _, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owners := snapshot.StringSlice("owners")
	if len(owners) != 1 || owners[0] != "alice" {
		t.Fatalf("expected scalar owner to normalize to sequence, got %v", owners)
	}
}
