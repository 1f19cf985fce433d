package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/pelilauta/sidekick/internal/docstore"
	"go.uber.org/zap"
)

// Collection holds user profile documents keyed by uid.
const Collection = "profiles"

// DefaultNick labels users whose profile is missing or has no nick set.
const DefaultNick = "Anonyymi"

// ErrProfileNotFound indicates the referenced profile does not exist.
var ErrProfileNotFound = errors.New("profiles: profile not found")

// Profile is the decoded shape of a profile document as this service reads it.
type Profile struct {
	UID        string
	Nick       string
	LovedSites []string
}

// Service reads profiles and maintains the lovedSites favorites list.
type Service struct {
	store  *docstore.Store
	logger *zap.Logger
}

// NewService constructs a profile service.
func NewService(store *docstore.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("profiles: document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}, nil
}

// Ref returns the document reference for a profile.
func Ref(uid string) docstore.Ref {
	return docstore.Ref{Collection: Collection, ID: uid}
}

// Load reads a profile, failing when it does not exist.
func (s *Service) Load(ctx context.Context, uid string) (Profile, error) {
	snapshot, exists, err := s.store.Get(ctx, Ref(uid))
	if err != nil {
		return Profile{}, err
	}
	if !exists {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, uid)
	}
	return Profile{
		UID:        uid,
		Nick:       snapshot.String("nick", DefaultNick),
		LovedSites: snapshot.StringSlice("lovedSites"),
	}, nil
}

// Nick resolves a display name, falling back to the anonymous default when
// the profile is absent. Missing profiles are a tolerated anomaly here, not
// an error: the name only decorates a push body.
func (s *Service) Nick(ctx context.Context, uid string) string {
	profile, err := s.Load(ctx, uid)
	if err != nil {
		return DefaultNick
	}
	return profile.Nick
}

// AddFavorite adds a site to the profile's lovedSites. Adding a site that is
// already present is a no-op, so replays cannot double-add.
func (s *Service) AddFavorite(ctx context.Context, uid, siteKey string) error {
	profile, err := s.Load(ctx, uid)
	if err != nil {
		return err
	}

	for _, loved := range profile.LovedSites {
		if loved == siteKey {
			s.logger.Info("site already in favorites",
				zap.String("uid", uid), zap.String("site", siteKey))
			return nil
		}
	}

	lovedSites := append(profile.LovedSites, siteKey)
	return s.store.Update(ctx, Ref(uid), map[string]any{"lovedSites": lovedSites})
}

// RemoveFavorite removes a site from the profile's lovedSites. Removing an
// absent site is a no-op.
func (s *Service) RemoveFavorite(ctx context.Context, uid, siteKey string) error {
	profile, err := s.Load(ctx, uid)
	if err != nil {
		return err
	}

	lovedSites := make([]string, 0, len(profile.LovedSites))
	for _, loved := range profile.LovedSites {
		if loved != siteKey {
			lovedSites = append(lovedSites, loved)
		}
	}
	if len(lovedSites) == len(profile.LovedSites) {
		s.logger.Info("site not in favorites",
			zap.String("uid", uid), zap.String("site", siteKey))
		return nil
	}

	return s.store.Update(ctx, Ref(uid), map[string]any{"lovedSites": lovedSites})
}
