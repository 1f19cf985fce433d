package inbox

import (
	"context"
	"errors"
	"strings"

	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/fanout"
	"github.com/pelilauta/sidekick/internal/profiles"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

const (
	reactionPushTitle = "Uusi reaktio"
	inboxPath         = "/inbox"
	reactionPushIcon  = "/proprietary/icons/dark/send.svg"
)

// PushConfig configures the notification-created push handler.
type PushConfig struct {
	Store    *docstore.Store
	Fanout   *fanout.Service
	Profiles *profiles.Service
	BaseURL  string
	Logger   *zap.Logger
}

// Push reacts to appended notification documents and forwards a push to the
// recipient when their subscription has reaction notifications enabled.
type Push struct {
	store    *docstore.Store
	fanout   *fanout.Service
	profiles *profiles.Service
	baseURL  string
	logger   *zap.Logger
}

// NewPush constructs the handler.
func NewPush(cfg PushConfig) (*Push, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Fanout == nil {
		return nil, errors.New("inbox: fanout service is required")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("inbox: profiles service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Push{
		store:    cfg.Store,
		fanout:   cfg.Fanout,
		profiles: cfg.Profiles,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:   logger,
	}, nil
}

// HandleNotificationCreated checks the recipient's subscription and, when
// notifyOnLikes is set, pushes a data-only message to each of their tokens.
// Missing subscriptions are a tolerated anomaly: logged, never failed.
// Note the recipient is pushed to even when they caused the reaction
// themselves; only the thread fan-out excludes the actor.
func (p *Push) HandleNotificationCreated(ctx context.Context, event trigger.Event) error {
	recipient := event.Doc.String("to", "")
	snapshot, exists, err := p.store.Get(ctx, fanout.SubscriptionRef(recipient))
	if err != nil {
		return err
	}
	if !exists {
		p.logger.Info("no subscription for recipient", zap.String("uid", recipient))
		return nil
	}

	subscription := fanout.DecodeSubscription(snapshot)
	if !subscription.NotifyOnLikes {
		return nil
	}

	nick := p.profiles.Nick(ctx, event.Doc.String("from", ""))
	target := "sivuston"
	if strings.HasPrefix(event.Doc.String("targetType", ""), "reply") {
		target = "vastauksen"
	}

	payload := fanout.Payload{
		URL:   p.baseURL + inboxPath,
		Icon:  p.baseURL + reactionPushIcon,
		Title: reactionPushTitle,
		Body:  nick + " merkitsi " + target,
	}
	p.fanout.Deliver(ctx, subscription.MessagingTokens, payload)
	return nil
}
