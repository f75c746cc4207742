package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sweetline/sales-assistant/pkg/apperrors"
	"github.com/sweetline/sales-assistant/pkg/models"
)

// DefaultHistoryLimit is the hard cap on turns kept per session.
const DefaultHistoryLimit = 10

// ConversationRepository stores the recent turns of each assistant session.
// Histories are capped: once a session holds limit turns, each append drops
// the oldest one. There is no summarization of dropped turns.
type ConversationRepository interface {
	// Append adds a turn, creating the session on first use.
	Append(ctx context.Context, sessionID, role, content string) error

	// Recent returns up to n most recent turns, oldest first. An unknown
	// session yields an empty slice.
	Recent(ctx context.Context, sessionID string, n int) ([]models.ConversationTurn, error)

	// History returns every stored turn, oldest first, or
	// apperrors.ErrSessionNotFound.
	History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error)

	// Clear removes the session or returns apperrors.ErrSessionNotFound.
	Clear(ctx context.Context, sessionID string) error
}

// memoryConversationRepository keeps sessions in process memory. A restart
// loses every session.
type memoryConversationRepository struct {
	// mu makes append's read-modify-write atomic; go-cache only locks single operations
	mu    sync.Mutex
	cache *cache.Cache
	limit int
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryConversationRepository creates an in-process store. ttl == 0 keeps
// sessions until cleared or until the process exits; a positive ttl expires
// sessions that have been idle that long.
func NewMemoryConversationRepository(limit int, ttl time.Duration) ConversationRepository {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
	}

	return &memoryConversationRepository{
		cache: cache.New(expiration, cleanup),
		limit: limit,
		ttl:   ttl,
		now:   time.Now,
	}
}

var _ ConversationRepository = (*memoryConversationRepository)(nil)

func (r *memoryConversationRepository) Append(ctx context.Context, sessionID, role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var turns []models.ConversationTurn
	if x, found := r.cache.Get(sessionID); found {
		turns = x.([]models.ConversationTurn)
	}

	next := make([]models.ConversationTurn, 0, len(turns)+1)
	next = append(next, turns...)
	next = append(next, models.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: r.now(),
	})
	if len(next) > r.limit {
		next = next[len(next)-r.limit:]
	}

	r.cache.Set(sessionID, next, cache.DefaultExpiration)
	return nil
}

func (r *memoryConversationRepository) Recent(ctx context.Context, sessionID string, n int) ([]models.ConversationTurn, error) {
	turns, found := r.get(sessionID)
	if !found || n <= 0 {
		return []models.ConversationTurn{}, nil
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

func (r *memoryConversationRepository) History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error) {
	turns, found := r.get(sessionID)
	if !found {
		return nil, apperrors.ErrSessionNotFound
	}
	return turns, nil
}

func (r *memoryConversationRepository) Clear(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.cache.Get(sessionID); !found {
		return apperrors.ErrSessionNotFound
	}
	r.cache.Delete(sessionID)
	return nil
}

// get returns a copy so callers can never mutate the stored slice.
func (r *memoryConversationRepository) get(sessionID string) ([]models.ConversationTurn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, found := r.cache.Get(sessionID)
	if !found {
		return nil, false
	}
	turns := x.([]models.ConversationTurn)
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out, true
}
