// Package session holds the in-process store of conversation aggregates.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/retry"
)

// mirrorTimeout bounds each background mirror write.
const mirrorTimeout = 10 * time.Second

// Mirror is the optional durable backing for session snapshots.
// Writes are best-effort: the store never waits on them and never
// surfaces their failures to callers.
type Mirror interface {
	Upsert(ctx context.Context, session *models.Session) error
	Remove(ctx context.Context, id uuid.UUID) error
}

// Update is a partial-field bundle applied to a session in one atomic
// step. Nil pointer fields are left untouched; ConfirmedPair appends.
type Update struct {
	Phase              *models.Phase
	Status             *models.SessionStatus
	LeftSourceAlias    *string
	RightSourceAlias   *string
	SchemaLeft         []models.ColumnInfo
	SchemaRight        []models.ColumnInfo
	SampleLeft         [][]string
	SampleRight        [][]string
	FieldMappings      []models.FieldMapping
	ConfirmedPair      *models.EvidencePair
	RecipeDraft        *models.RecipeDraft
	ValidationApproved *bool
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return u.Phase == nil && u.Status == nil &&
		u.LeftSourceAlias == nil && u.RightSourceAlias == nil &&
		u.SchemaLeft == nil && u.SchemaRight == nil &&
		u.SampleLeft == nil && u.SampleRight == nil &&
		u.FieldMappings == nil && u.ConfirmedPair == nil && u.RecipeDraft == nil &&
		u.ValidationApproved == nil
}

// Store keeps session aggregates in process memory. All mutations on a
// given id commit as one step under the store lock, and callers only
// ever receive deep-copied snapshots, so a reader can never observe a
// torn write. Idle sessions are evicted after the configured TTL.
//
// mu serializes the read-clone-commit cycle of every mutation. Handlers
// run in parallel goroutines, and go-cache only locks individual cache
// operations, so without it two overlapping mutations would clone the
// same base and the later commit would discard the earlier one.
type Store struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	mirror Mirror
	logger *zap.Logger
}

// NewStore creates a session store. Pass a nil mirror to disable durable
// mirroring.
func NewStore(ttl, cleanupInterval time.Duration, mirror Mirror, logger *zap.Logger) *Store {
	return &Store{
		cache:  gocache.New(ttl, cleanupInterval),
		mirror: mirror,
		logger: logger.Named("session"),
	}
}

// Create allocates a fresh session in the greeting phase.
func (s *Store) Create(ctx context.Context) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := &models.Session{
		ID:             uuid.New(),
		Status:         models.SessionStatusActive,
		Phase:          models.PhaseGreeting,
		ConfirmedPairs: []models.EvidencePair{},
		Messages:       []models.ChatMessage{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.cache.SetDefault(sess.ID.String(), sess)

	s.logger.Info("Session created", zap.String("session_id", sess.ID.String()))
	s.mirrorAsync(sess)
	return sess.Clone()
}

// Get returns a snapshot of the session, or false if the id is unknown
// or expired.
func (s *Store) Get(id uuid.UUID) (*models.Session, bool) {
	raw, ok := s.cache.Get(id.String())
	if !ok {
		return nil, false
	}
	return raw.(*models.Session).Clone(), true
}

// Update merges the bundle into the session as one atomic step and
// returns the new snapshot. The phase index may never decrease; an
// update proposing a backward move is rejected whole, leaving the
// session untouched.
func (s *Store) Update(ctx context.Context, id uuid.UUID, update Update) (*models.Session, error) {
	committed, err := s.mutate(id, func(sess *models.Session) error {
		if update.Phase != nil {
			if !update.Phase.IsValid() {
				return fmt.Errorf("%w: unknown phase %q", apperrors.ErrValidation, *update.Phase)
			}
			if update.Phase.Index() < sess.Phase.Index() {
				return fmt.Errorf("%w: phase cannot move backward from %q to %q",
					apperrors.ErrValidation, sess.Phase, *update.Phase)
			}
			sess.Phase = *update.Phase
		}
		if update.Status != nil {
			sess.Status = *update.Status
		}
		if update.LeftSourceAlias != nil {
			sess.LeftSourceAlias = *update.LeftSourceAlias
		}
		if update.RightSourceAlias != nil {
			sess.RightSourceAlias = *update.RightSourceAlias
		}
		if update.SchemaLeft != nil {
			sess.SchemaLeft = update.SchemaLeft
		}
		if update.SchemaRight != nil {
			sess.SchemaRight = update.SchemaRight
		}
		if update.SampleLeft != nil {
			sess.SampleLeft = update.SampleLeft
		}
		if update.SampleRight != nil {
			sess.SampleRight = update.SampleRight
		}
		if update.FieldMappings != nil {
			sess.FieldMappings = update.FieldMappings
		}
		if update.ConfirmedPair != nil {
			sess.ConfirmedPairs = append(sess.ConfirmedPairs, *update.ConfirmedPair)
		}
		if update.RecipeDraft != nil {
			sess.RecipeDraft = update.RecipeDraft
		}
		if update.ValidationApproved != nil {
			sess.ValidationApproved = *update.ValidationApproved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// AddMessage appends a message to the session's conversation record.
func (s *Store) AddMessage(ctx context.Context, id uuid.UUID, msg models.ChatMessage) (*models.Session, error) {
	return s.mutate(id, func(sess *models.Session) error {
		sess.Messages = append(sess.Messages, msg.Clone())
		return nil
	})
}

// Delete removes the session and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()
	if _, ok := s.cache.Get(key); !ok {
		return false
	}
	s.cache.Delete(key)

	if s.mirror != nil {
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			err := retry.Do(mctx, nil, func() error {
				return s.mirror.Remove(mctx, id)
			})
			if err != nil {
				s.logger.Warn("Session mirror remove failed",
					zap.String("session_id", id.String()),
					zap.Error(err))
			}
		}()
	}
	return true
}

// mutate applies fn to a deep copy of the stored session and commits the
// copy back in one step under the store lock. The committed snapshot is
// cloned again on the way out so the caller cannot reach the stored
// aggregate.
func (s *Store) mutate(id uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()

	raw, ok := s.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}

	next := raw.(*models.Session).Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	s.cache.SetDefault(key, next)
	s.mirrorAsync(next)
	return next.Clone(), nil
}

// mirrorAsync fires a background mirror write. Failures are logged and
// never reach the caller: durability here is eventual by design and a
// crash between the in-memory commit and the mirror flush loses that
// mutation.
func (s *Store) mirrorAsync(sess *models.Session) {
	if s.mirror == nil {
		return
	}
	snapshot := sess.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		err := retry.Do(ctx, nil, func() error {
			return s.mirror.Upsert(ctx, snapshot)
		})
		if err != nil {
			s.logger.Warn("Session mirror write failed",
				zap.String("session_id", snapshot.ID.String()),
				zap.Error(err))
		}
	}()
}
