package discussion

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/inbox"
	"github.com/pelilauta/sidekick/internal/stream"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *docstore.Store) {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "discussion.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&docstore.Document{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store := docstore.New(db, zap.NewNop())

	writer, err := inbox.NewWriter(inbox.WriterConfig{
		Store:      store,
		IDProvider: inbox.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build inbox writer: %v", err)
	}

	service, err := NewService(ServiceConfig{Store: store, Inbox: writer, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build discussion service: %v", err)
	}
	return service, store
}

func replyEvent(kind trigger.Kind, threadKey, replyKey string, fields map[string]any) trigger.Event {
	ref := docstore.Ref{Collection: stream.Collection + "/" + threadKey + "/comments", ID: replyKey}
	return trigger.Event{
		Path:   ref.Path(),
		Kind:   kind,
		Params: map[string]string{"threadKey": threadKey, "replyKey": replyKey},
		Doc:    docstore.NewSnapshot(ref, fields),
	}
}

func replyCount(t *testing.T, store *docstore.Store, threadKey string) int64 {
	t.Helper()
	snapshot, _, err := store.Get(context.Background(), docstore.Ref{Collection: stream.Collection, ID: threadKey})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return snapshot.Int64("replyCount", 0)
}

func inboxRows(t *testing.T, store *docstore.Store) []docstore.Snapshot {
	t.Helper()
	var rows []docstore.Document
	err := store.DB().Where("collection = ?", inbox.Collection).Order("doc_id").Find(&rows).Error
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshots := make([]docstore.Snapshot, 0, len(rows))
	for _, row := range rows {
		ref := docstore.Ref{Collection: row.Collection, ID: row.DocID}
		snapshot, _, err := store.Get(context.Background(), ref)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

func TestSequentialReplyCreatesIncrementCountExactly(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	err := store.Set(ctx, docstore.Ref{Collection: stream.Collection, ID: "thread-1"}, map[string]any{
		"owners": []string{"owner-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const replies = 5
	for index := 0; index < replies; index++ {
		event := replyEvent(trigger.KindCreate, "thread-1", fmt.Sprintf("reply-%d", index), map[string]any{
			"author":  "carol",
			"snippet": "hyvä pointti",
		})
		if err := service.HandleReplyCreated(ctx, event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := replyCount(t, store, "thread-1"); got != replies {
		t.Fatalf("expected reply count %d, got %d", replies, got)
	}
}

func TestReplyCreatedNotifiesOwnersExceptAuthor(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	err := store.Set(ctx, docstore.Ref{Collection: stream.Collection, ID: "thread-1"}, map[string]any{
		"owners": []string{"owner-1", "owner-2", "owner-1", "carol"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := replyEvent(trigger.KindCreate, "thread-1", "reply-1", map[string]any{
		"author":  "carol",
		"snippet": "hyvä pointti",
	})
	if err := service.HandleReplyCreated(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := inboxRows(t, store)
	if len(rows) != 2 {
		t.Fatalf("expected one notification per distinct non-author owner, got %d", len(rows))
	}
	recipients := map[string]bool{}
	for _, row := range rows {
		recipients[row.String("to", "")] = true
		if got := row.String("from", ""); got != "carol" {
			t.Fatalf("unexpected sender %q", got)
		}
		if got := row.String("message", ""); got != "hyvä pointti" {
			t.Fatalf("expected snippet as message, got %q", got)
		}
		if got := row.String("targetKey", ""); got != "thread-1/reply-1" {
			t.Fatalf("unexpected target key %q", got)
		}
		if got := row.String("targetType", ""); got != TargetTypeReplyCreated {
			t.Fatalf("unexpected target type %q", got)
		}
	}
	if !recipients["owner-1"] || !recipients["owner-2"] || recipients["carol"] {
		t.Fatalf("unexpected recipients %v", recipients)
	}
}

func TestReplyCreatedNormalizesScalarOwner(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	err := store.Set(ctx, docstore.Ref{Collection: stream.Collection, ID: "thread-1"}, map[string]any{
		"owners": "owner-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := replyEvent(trigger.KindCreate, "thread-1", "reply-1", map[string]any{"author": "carol"})
	if err := service.HandleReplyCreated(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := inboxRows(t, store)
	if len(rows) != 1 || rows[0].String("to", "") != "owner-1" {
		t.Fatalf("expected single notification to scalar owner, got %d rows", len(rows))
	}
}

func TestReplyDeletedDecrementsCount(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	err := store.Set(ctx, docstore.Ref{Collection: stream.Collection, ID: "thread-1"}, map[string]any{
		"replyCount": 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := replyEvent(trigger.KindDelete, "thread-1", "reply-1", nil)
	if err := service.HandleReplyDeleted(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := replyCount(t, store, "thread-1"); got != 2 {
		t.Fatalf("expected reply count 2, got %d", got)
	}
}

func TestReplyDeletedNeverGoesBelowZero(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	err := store.Set(ctx, docstore.Ref{Collection: stream.Collection, ID: "thread-1"}, map[string]any{
		"replyCount": 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := replyEvent(trigger.KindDelete, "thread-1", "reply-1", nil)
	for attempt := 0; attempt < 3; attempt++ {
		if err := service.HandleReplyDeleted(ctx, event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := replyCount(t, store, "thread-1"); got != 0 {
		t.Fatalf("expected reply count clamped at 0, got %d", got)
	}
}

func TestReplyCountStartsFromZeroForMissingThread(t *testing.T) {
	service, store := newTestService(t)

	event := replyEvent(trigger.KindCreate, "ghost-thread", "reply-1", map[string]any{"author": "carol"})
	if err := service.HandleReplyCreated(context.Background(), event); err != nil {
		t.Fatalf("missing parent must not fail the handler: %v", err)
	}
	if got := replyCount(t, store, "ghost-thread"); got != 1 {
		t.Fatalf("expected count to proceed from default 0, got %d", got)
	}
}
