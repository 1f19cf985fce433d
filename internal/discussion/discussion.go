package discussion

import (
	"context"
	"errors"

	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/inbox"
	"github.com/pelilauta/sidekick/internal/stream"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

// TargetTypeReplyCreated tags inbox rows written for new replies.
const TargetTypeReplyCreated = "reply.created"

// ServiceConfig configures the reply handlers.
type ServiceConfig struct {
	Store  *docstore.Store
	Inbox  *inbox.Writer
	Logger *zap.Logger
}

// Service reconciles the replyCount on parent threads and notifies thread
// owners of new replies.
type Service struct {
	store  *docstore.Store
	inbox  *inbox.Writer
	logger *zap.Logger
}

// NewService constructs the discussion service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("discussion: document store is required")
	}
	if cfg.Inbox == nil {
		return nil, errors.New("discussion: inbox writer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, inbox: cfg.Inbox, logger: logger}, nil
}

func threadRef(threadKey string) docstore.Ref {
	return docstore.Ref{Collection: stream.Collection, ID: threadKey}
}

// HandleReplyCreated increments the parent thread's replyCount and writes one
// inbox notification per thread owner, carrying the reply snippet. The reply
// author is not notified about their own reply.
func (s *Service) HandleReplyCreated(ctx context.Context, event trigger.Event) error {
	threadKey := event.Params["threadKey"]
	replyKey := event.Params["replyKey"]
	author := event.Doc.String("author", "")
	snippet := event.Doc.String("snippet", "")

	thread, _, err := s.store.Get(ctx, threadRef(threadKey))
	if err != nil {
		return err
	}
	owners := thread.StringSlice("owners")

	if err := s.adjustReplyCount(ctx, threadKey, 1); err != nil {
		return err
	}

	recipients := make([]string, 0, len(owners))
	seen := map[string]bool{}
	for _, owner := range owners {
		if owner == "" || owner == author || seen[owner] {
			continue
		}
		seen[owner] = true
		recipients = append(recipients, owner)
	}

	targetKey := threadKey + "/" + replyKey
	return s.inbox.Append(ctx, recipients, author, snippet, targetKey, TargetTypeReplyCreated)
}

// HandleReplyDeleted decrements the parent thread's replyCount. The count
// never goes below zero: a decrement only applies while the count is
// positive.
func (s *Service) HandleReplyDeleted(ctx context.Context, event trigger.Event) error {
	return s.adjustReplyCount(ctx, event.Params["threadKey"], -1)
}

// adjustReplyCount applies delta to the thread's replyCount inside a store
// transaction, so back-to-back replies on the same thread serialize instead
// of losing an update. A missing thread counts from zero; the handlers stay
// best-effort rather than failing the whole invocation.
func (s *Service) adjustReplyCount(ctx context.Context, threadKey string, delta int64) error {
	ref := threadRef(threadKey)
	return s.store.Transact(ctx, func(tx *docstore.Store) error {
		thread, _, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		count := thread.Int64("replyCount", 0)
		if delta < 0 && count <= 0 {
			s.logger.Info("reply count already zero", zap.String("thread", threadKey))
			return nil
		}
		return tx.Update(ctx, ref, map[string]any{"replyCount": count + delta})
	})
}
