package reactions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/inbox"
	"github.com/pelilauta/sidekick/internal/profiles"
	"github.com/pelilauta/sidekick/internal/stream"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

// SitesCollection holds the site documents reactions can target.
const SitesCollection = "sites"

const (
	// TargetEntrySites routes a reaction to the site flow.
	TargetEntrySites = "sites"
	// TargetEntryComments routes a reaction to the reply flow.
	TargetEntryComments = "comments"

	// TypeLove marks a love reaction.
	TypeLove = "love"
	// TypeUnlove marks the withdrawal of a love reaction.
	TypeUnlove = "unlove"

	// MessageSiteLoved is the inbox message key for loved sites.
	MessageSiteLoved = "notification.site.loved"
	// MessageReplyLoved is the inbox message key for loved replies.
	MessageReplyLoved = "notification.reply.loved"

	// TargetTypeSiteLoved tags inbox rows written by the site flow.
	TargetTypeSiteLoved = "site.loved"
	// TargetTypeReplyLoved tags inbox rows written by the reply flow.
	TargetTypeReplyLoved = "reply.loved"
)

var (
	// ErrValidation indicates a reaction missing a required field. Raised
	// before any mutation.
	ErrValidation = errors.New("reactions: reaction is missing required fields")
	// ErrUnsupportedTarget indicates a target entry outside sites/comments.
	ErrUnsupportedTarget = errors.New("reactions: unsupported target entry")
	// ErrSiteNotFound indicates the targeted site does not exist.
	ErrSiteNotFound = errors.New("reactions: site not found")
	// ErrReplyNotFound indicates the targeted reply does not exist.
	ErrReplyNotFound = errors.New("reactions: reply not found")
	// ErrLovesCountZero indicates an unlove against a site whose count is
	// already zero. The count is never clamped silently.
	ErrLovesCountZero = errors.New("reactions: site loves count is already zero")
)

// Reaction is the write-once document describing a love or unlove by a user
// against a site or reply.
type Reaction struct {
	TargetEntry string
	TargetKey   string
	Type        string
}

// DecodeReaction reads a reaction document snapshot.
func DecodeReaction(snapshot docstore.Snapshot) Reaction {
	return Reaction{
		TargetEntry: snapshot.String("targetEntry", ""),
		TargetKey:   snapshot.String("targetKey", ""),
		Type:        snapshot.String("type", ""),
	}
}

// RouterConfig configures the reaction router.
type RouterConfig struct {
	Store    *docstore.Store
	Inbox    *inbox.Writer
	Profiles *profiles.Service
	Logger   *zap.Logger
}

// Router validates created reactions and dispatches them to the site or
// reply flow based on the target entry discriminator.
type Router struct {
	store    *docstore.Store
	inbox    *inbox.Writer
	profiles *profiles.Service
	logger   *zap.Logger
}

// NewRouter constructs a reaction router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Store == nil {
		return nil, errors.New("reactions: document store is required")
	}
	if cfg.Inbox == nil {
		return nil, errors.New("reactions: inbox writer is required")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("reactions: profiles service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: cfg.Store, inbox: cfg.Inbox, profiles: cfg.Profiles, logger: logger}, nil
}

// HandleReactionCreated adapts a reaction document event into the router.
// The acting user is the uid segment of the document path.
func (r *Router) HandleReactionCreated(ctx context.Context, event trigger.Event) error {
	return r.Route(ctx, DecodeReaction(event.Doc), event.Params["uid"])
}

// Route validates the reaction and dispatches it by target entry. Validation
// fails before any mutation; an unrecognized target entry carries the
// offending value and type for diagnostics.
func (r *Router) Route(ctx context.Context, reaction Reaction, actor string) error {
	if reaction.TargetEntry == "" {
		return fmt.Errorf("%w: target entry", ErrValidation)
	}
	if reaction.Type == "" {
		return fmt.Errorf("%w: type", ErrValidation)
	}

	switch reaction.TargetEntry {
	case TargetEntrySites:
		return r.handleSiteReaction(ctx, reaction, actor)
	case TargetEntryComments:
		return r.handleReplyReaction(ctx, reaction, actor)
	default:
		return fmt.Errorf("%w: %q (type %q)", ErrUnsupportedTarget, reaction.TargetEntry, reaction.Type)
	}
}

// handleSiteReaction applies a love or unlove to a site: the lovesCount
// moves through the store's atomic increment, the actor's favorites list is
// mutated idempotently, and on love every site owner gets an inbox row.
func (r *Router) handleSiteReaction(ctx context.Context, reaction Reaction, actor string) error {
	r.logger.Info("handling site reaction", zap.String("site", reaction.TargetKey))

	siteRef := docstore.Ref{Collection: SitesCollection, ID: reaction.TargetKey}
	site, exists, err := r.store.Get(ctx, siteRef)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSiteNotFound, reaction.TargetKey)
	}

	switch reaction.Type {
	case TypeLove:
		if err := r.store.Increment(ctx, siteRef, "lovesCount", 1); err != nil {
			return err
		}
		if err := r.profiles.AddFavorite(ctx, actor, reaction.TargetKey); err != nil {
			return err
		}
		owners := site.StringSlice("owners")
		return r.inbox.Append(ctx, owners, actor, MessageSiteLoved, reaction.TargetKey, TargetTypeSiteLoved)
	case TypeUnlove:
		if site.Int64("lovesCount", 0) == 0 {
			return fmt.Errorf("%w: %s", ErrLovesCountZero, reaction.TargetKey)
		}
		if err := r.store.Increment(ctx, siteRef, "lovesCount", -1); err != nil {
			return err
		}
		return r.profiles.RemoveFavorite(ctx, actor, reaction.TargetKey)
	default:
		r.logger.Warn("ignoring site reaction of unknown type",
			zap.String("type", reaction.Type),
			zap.String("site", reaction.TargetKey))
		return nil
	}
}

// handleReplyReaction notifies the reply's author that their reply was
// loved. Only love is modeled for replies; there is no unlove flow.
func (r *Router) handleReplyReaction(ctx context.Context, reaction Reaction, actor string) error {
	r.logger.Info("handling reply reaction", zap.String("reply", reaction.TargetKey))

	threadKey, replyKey, ok := strings.Cut(reaction.TargetKey, "/")
	if !ok || threadKey == "" || replyKey == "" {
		return fmt.Errorf("%w: target key %q", ErrValidation, reaction.TargetKey)
	}

	replyRef := docstore.Ref{
		Collection: stream.Collection + "/" + threadKey + "/comments",
		ID:         replyKey,
	}
	reply, exists, err := r.store.Get(ctx, replyRef)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrReplyNotFound, reaction.TargetKey)
	}

	author := reply.String("author", "")
	targetKey := threadKey + "/" + replyKey
	return r.inbox.Append(ctx, []string{author}, actor, MessageReplyLoved, targetKey, TargetTypeReplyLoved)
}
