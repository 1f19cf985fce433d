package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/pelilauta/sidekick/internal/docstore"
	"go.uber.org/zap"
)

// Collection is where notification documents are appended. The push trigger
// watches this collection, so every append here is a push candidate.
const Collection = "notification"

var (
	errMissingStore      = errors.New("inbox: document store is required")
	errMissingIDProvider = errors.New("inbox: id provider is required")
	// ErrMissingRecipient indicates an append with an empty recipient id.
	ErrMissingRecipient = errors.New("inbox: recipient id is required")
)

// IDProvider issues identifiers for appended notifications.
type IDProvider interface {
	NewID() (string, error)
}

// Notification is one row in a user's inbox. Append-only from this service;
// the read flag is flipped elsewhere.
type Notification struct {
	To         string
	From       string
	Message    string
	TargetKey  string
	TargetType string
	Read       bool
	CreatedAt  int64
}

func (n Notification) fields() map[string]any {
	return map[string]any{
		"to":         n.To,
		"from":       n.From,
		"message":    n.Message,
		"targetKey":  n.TargetKey,
		"targetType": n.TargetType,
		"read":       n.Read,
		"createdAt":  n.CreatedAt,
	}
}

// WriterConfig configures the notification writer.
type WriterConfig struct {
	Store      *docstore.Store
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Writer appends notification documents, one per recipient. Callers
// de-duplicate the recipient list and leave the acting user out of it;
// neither is enforced here.
type Writer struct {
	store      *docstore.Store
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: cfg.Store, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// Append writes one notification per recipient. A failed write aborts the
// append and surfaces to the caller; rows already written stay written.
func (w *Writer) Append(ctx context.Context, recipients []string, from, message, targetKey, targetType string) error {
	createdAt := w.clock().UTC().Unix()
	for _, recipient := range recipients {
		if recipient == "" {
			return ErrMissingRecipient
		}
		id, err := w.idProvider.NewID()
		if err != nil {
			return err
		}
		notification := Notification{
			To:         recipient,
			From:       from,
			Message:    message,
			TargetKey:  targetKey,
			TargetType: targetType,
			Read:       false,
			CreatedAt:  createdAt,
		}
		ref := docstore.Ref{Collection: Collection, ID: id}
		if err := w.store.Set(ctx, ref, notification.fields()); err != nil {
			return err
		}
		w.logger.Info("notification appended",
			zap.String("to", recipient),
			zap.String("target_type", targetType),
			zap.String("target_key", targetKey))
	}
	return nil
}
