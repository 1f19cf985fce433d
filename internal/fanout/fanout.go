package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/messaging"
	"go.uber.org/zap"
)

// Collection holds subscription documents keyed by uid.
const Collection = "subscriptions"

// ErrUnknownCategory indicates a fan-out category without a subscription flag.
var ErrUnknownCategory = errors.New("fanout: unknown category")

// Category selects which opt-in flag a fan-out filters subscribers by.
type Category string

const (
	// CategoryThreads reaches users subscribed to new-thread notifications.
	CategoryThreads Category = "threads"
	// CategoryLikes reaches users subscribed to reaction notifications.
	CategoryLikes Category = "likes"
)

func (c Category) flagField() (string, error) {
	switch c {
	case CategoryThreads:
		return "notifyOnThreads", nil
	case CategoryLikes:
		return "notifyOnLikes", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
}

// Subscription is a user's opt-in flags and registered delivery tokens.
// Read-only from this service's perspective.
type Subscription struct {
	UID             string
	NotifyOnThreads bool
	NotifyOnLikes   bool
	MessagingTokens []string
}

// DecodeSubscription reads a subscription document snapshot.
func DecodeSubscription(snapshot docstore.Snapshot) Subscription {
	return Subscription{
		UID:             snapshot.Ref.ID,
		NotifyOnThreads: snapshot.Bool("notifyOnThreads"),
		NotifyOnLikes:   snapshot.Bool("notifyOnLikes"),
		MessagingTokens: snapshot.StringSlice("messagingTokens"),
	}
}

// SubscriptionRef returns the document reference for a uid's subscription.
func SubscriptionRef(uid string) docstore.Ref {
	return docstore.Ref{Collection: Collection, ID: uid}
}

// Payload is the data-only content of a push. Extra carries category
// specific fields such as threadId or from.
type Payload struct {
	URL   string
	Icon  string
	Title string
	Body  string
	Extra map[string]string
}

func (p Payload) data() map[string]string {
	data := map[string]string{
		"url":   p.URL,
		"icon":  p.Icon,
		"title": p.Title,
		"body":  p.Body,
	}
	for key, value := range p.Extra {
		data[key] = value
	}
	return data
}

// ServiceConfig configures the fan-out service.
type ServiceConfig struct {
	Store      *docstore.Store
	Dispatcher *messaging.Dispatcher
	Logger     *zap.Logger
}

// Service broadcasts one event as individual pushes to every opted-in
// subscriber's delivery tokens.
type Service struct {
	store      *docstore.Store
	dispatcher *messaging.Dispatcher
	logger     *zap.Logger
}

// NewService constructs a fan-out service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("fanout: document store is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("fanout: dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, dispatcher: cfg.Dispatcher, logger: logger}, nil
}

// FanOut queries subscribers opted into the category and dispatches one push
// per registered token. Subscribers matching excludeUID are skipped, as are
// subscribers without tokens. An empty subscriber set is not an error.
func (s *Service) FanOut(ctx context.Context, category Category, excludeUID string, payload Payload) error {
	flag, err := category.flagField()
	if err != nil {
		return err
	}

	snapshots, err := s.store.QueryFieldTrue(ctx, Collection, flag)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		s.logger.Info("no subscribers for fan-out", zap.String("category", string(category)))
		return nil
	}

	for _, snapshot := range snapshots {
		subscription := DecodeSubscription(snapshot)
		if excludeUID != "" && subscription.UID == excludeUID {
			continue
		}
		if len(subscription.MessagingTokens) == 0 {
			s.logger.Info("subscriber has no messaging tokens",
				zap.String("uid", subscription.UID))
			continue
		}
		s.logger.Info("sending notification", zap.String("uid", subscription.UID))
		s.Deliver(ctx, subscription.MessagingTokens, payload)
	}
	return nil
}

// Deliver dispatches the payload to each token, fire-and-forget. Individual
// send failures are logged by the dispatcher and never surface here.
func (s *Service) Deliver(ctx context.Context, tokens []string, payload Payload) {
	for _, token := range tokens {
		s.dispatcher.Dispatch(ctx, messaging.Message{Token: token, Data: payload.data()})
	}
}
