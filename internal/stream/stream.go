package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/fanout"
	"github.com/pelilauta/sidekick/internal/profiles"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

const (
	// Collection holds the top-level thread documents.
	Collection = "stream"

	// DefaultTopic categorizes threads created without a topic.
	DefaultTopic = "Yleinen"
	// DefaultTopicIcon decorates lazily created topic entries.
	DefaultTopicIcon = "Adventurer"

	threadPushIcon = "/proprietary/icons/dark/discussion.svg"
	statsDocPath   = "meta/pelilauta"
)

// ErrMissingThread indicates a thread event without a document payload.
var ErrMissingThread = errors.New("stream: thread payload is missing")

// TopicStat is one entry in the aggregate stats document, keyed by slug.
type TopicStat struct {
	Slug        string
	Count       int64
	Icon        string
	Description string
	Order       int64
	Name        string
}

func decodeTopicStat(fields map[string]any) TopicStat {
	snapshot := docstore.NewSnapshot(docstore.Ref{}, fields)
	return TopicStat{
		Slug:        snapshot.String("slug", ""),
		Count:       snapshot.Int64("count", 0),
		Icon:        snapshot.String("icon", ""),
		Description: snapshot.String("description", ""),
		Order:       snapshot.Int64("order", 0),
		Name:        snapshot.String("name", ""),
	}
}

func (t TopicStat) fields() map[string]any {
	return map[string]any{
		"slug":        t.Slug,
		"count":       t.Count,
		"icon":        t.Icon,
		"description": t.Description,
		"order":       t.Order,
		"name":        t.Name,
	}
}

// ServiceConfig configures the stream handlers.
type ServiceConfig struct {
	Store    *docstore.Store
	Fanout   *fanout.Service
	Profiles *profiles.Service
	BaseURL  string
	Logger   *zap.Logger
}

// Service reconciles per-topic thread counts in the aggregate stats document
// and fans out pushes for new threads.
type Service struct {
	store    *docstore.Store
	fanout   *fanout.Service
	profiles *profiles.Service
	baseURL  string
	logger   *zap.Logger
}

// NewService constructs the stream service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("stream: document store is required")
	}
	if cfg.Fanout == nil {
		return nil, errors.New("stream: fanout service is required")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("stream: profiles service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		fanout:   cfg.Fanout,
		profiles: cfg.Profiles,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:   logger,
	}, nil
}

// HandleThreadCreated bumps the topic count for the new thread and fans out
// a push to everyone subscribed to thread notifications, except the author.
func (s *Service) HandleThreadCreated(ctx context.Context, event trigger.Event) error {
	if len(event.Doc.Data()) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingThread, event.Path)
	}

	topic := event.Doc.String("topic", DefaultTopic)
	if err := s.adjustTopicCount(ctx, topic, 1); err != nil {
		return err
	}

	author := event.Doc.String("author", "")
	nick := s.profiles.Nick(ctx, author)
	title := event.Doc.String("title", "Nimetön")

	body := nick + " loi uuden ketjun"
	if declaredTopic := event.Doc.String("topic", ""); declaredTopic != "" {
		body = nick + " loi uuden ketjun aiheessa " + declaredTopic
	}

	threadID := event.Params["threadId"]
	payload := fanout.Payload{
		URL:   s.baseURL + "/threads/" + threadID,
		Icon:  s.baseURL + threadPushIcon,
		Title: title,
		Body:  body,
		Extra: map[string]string{"threadId": threadID},
	}

	if err := s.fanout.FanOut(ctx, fanout.CategoryThreads, author, payload); err != nil {
		return err
	}
	s.logger.Info("sent notifications for new thread", zap.String("thread", threadID))
	return nil
}

// HandleThreadDeleted decrements the topic count for the deleted thread.
// The count is clamped at zero and an unknown topic entry is left alone.
func (s *Service) HandleThreadDeleted(ctx context.Context, event trigger.Event) error {
	topic := event.Doc.String("topic", DefaultTopic)
	return s.adjustTopicCount(ctx, topic, -1)
}

// adjustTopicCount applies delta to the topic's entry in the stats document.
// The read-modify-write runs inside a store transaction so concurrent thread
// events on the same topic serialize instead of losing an update. A missing
// entry is lazily created on increment only.
func (s *Service) adjustTopicCount(ctx context.Context, topic string, delta int64) error {
	statsRef, err := docstore.ParseRef(statsDocPath)
	if err != nil {
		return err
	}

	return s.store.Transact(ctx, func(tx *docstore.Store) error {
		snapshot, _, err := tx.Get(ctx, statsRef)
		if err != nil {
			return err
		}

		topics := snapshot.Map("topics")
		entryFields, exists := topics[topic].(map[string]any)

		switch {
		case !exists && delta > 0:
			topics[topic] = TopicStat{
				Slug:  topic,
				Count: delta,
				Icon:  DefaultTopicIcon,
				Order: -1,
				Name:  topic,
			}.fields()
		case !exists:
			s.logger.Info("no stats entry for deleted thread topic", zap.String("topic", topic))
			return nil
		default:
			entry := decodeTopicStat(entryFields)
			entry.Count += delta
			if entry.Count < 0 {
				entry.Count = 0
			}
			topics[topic] = entry.fields()
		}

		return tx.Update(ctx, statsRef, map[string]any{"topics": topics})
	})
}
