// Package app assembles the event handlers and binds them to the document
// path patterns the relay reports changes for.
package app

import (
	"errors"

	"github.com/pelilauta/sidekick/internal/discussion"
	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/fanout"
	"github.com/pelilauta/sidekick/internal/inbox"
	"github.com/pelilauta/sidekick/internal/messaging"
	"github.com/pelilauta/sidekick/internal/profiles"
	"github.com/pelilauta/sidekick/internal/reactions"
	"github.com/pelilauta/sidekick/internal/stream"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

// Config carries the externally owned collaborators into the assembly.
type Config struct {
	Store   *docstore.Store
	Sender  messaging.Sender
	BaseURL string
	Logger  *zap.Logger
}

// Handlers holds the assembled services, exposed for tests and shutdown.
type Handlers struct {
	Registry   *trigger.Registry
	Dispatcher *messaging.Dispatcher
	Discussion *discussion.Service
	Stream     *stream.Service
	Reactions  *reactions.Router
	InboxPush  *inbox.Push
}

// Build constructs every handler and returns a registry with the trigger
// bindings in place.
func Build(cfg Config) (*Handlers, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: document store is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("app: push sender is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dispatcher := messaging.NewDispatcher(cfg.Sender, logger)

	fanoutService, err := fanout.NewService(fanout.ServiceConfig{
		Store:      cfg.Store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	profileService, err := profiles.NewService(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	inboxWriter, err := inbox.NewWriter(inbox.WriterConfig{
		Store:      cfg.Store,
		IDProvider: inbox.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	inboxPush, err := inbox.NewPush(inbox.PushConfig{
		Store:    cfg.Store,
		Fanout:   fanoutService,
		Profiles: profileService,
		BaseURL:  cfg.BaseURL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	discussionService, err := discussion.NewService(discussion.ServiceConfig{
		Store:  cfg.Store,
		Inbox:  inboxWriter,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	streamService, err := stream.NewService(stream.ServiceConfig{
		Store:    cfg.Store,
		Fanout:   fanoutService,
		Profiles: profileService,
		BaseURL:  cfg.BaseURL,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	reactionRouter, err := reactions.NewRouter(reactions.RouterConfig{
		Store:    cfg.Store,
		Inbox:    inboxWriter,
		Profiles: profileService,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	registry := trigger.NewRegistry(logger)
	bindings := []struct {
		pattern string
		kind    trigger.Kind
		name    string
		handler trigger.HandlerFunc
	}{
		{"stream/{threadKey}/comments/{replyKey}", trigger.KindCreate, "reply-created", discussionService.HandleReplyCreated},
		{"stream/{threadKey}/comments/{replyKey}", trigger.KindDelete, "reply-deleted", discussionService.HandleReplyDeleted},
		{"stream/{threadId}", trigger.KindCreate, "thread-created", streamService.HandleThreadCreated},
		{"stream/{threadId}", trigger.KindDelete, "thread-deleted", streamService.HandleThreadDeleted},
		{"profiles/{uid}/reactions/{reactionKey}", trigger.KindCreate, "reaction-created", reactionRouter.HandleReactionCreated},
		{"notification/{notificationId}", trigger.KindCreate, "notification-created", inboxPush.HandleNotificationCreated},
	}
	for _, binding := range bindings {
		if err := registry.Bind(binding.pattern, binding.kind, binding.name, binding.handler); err != nil {
			return nil, err
		}
	}

	return &Handlers{
		Registry:   registry,
		Dispatcher: dispatcher,
		Discussion: discussionService,
		Stream:     streamService,
		Reactions:  reactionRouter,
		InboxPush:  inboxPush,
	}, nil
}
