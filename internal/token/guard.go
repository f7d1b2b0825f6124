package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/models"
)

// Denial reasons, in check order. Cheap checks first; the first failing
// check wins.
var (
	ErrNotFound    = errors.New("tracking link not found")
	ErrInactive    = errors.New("tracking link has been deactivated")
	ErrExpired     = errors.New("tracking link has expired")
	ErrRateLimited = errors.New("tracking link access limit reached")
)

// Persister write-through storage for issued tokens. Guard correctness
// never depends on it; failures are logged and absorbed.
type Persister interface {
	SaveToken(ctx context.Context, t *models.ShareToken) error
}

// Consumer atomically grants one access against durable storage. A
// persister that also implements Consumer gives the guard a fallback
// for tokens it has never seen in memory, e.g. ones issued by another
// instance sharing the database.
type Consumer interface {
	Consume(ctx context.Context, token string) (missionID string, granted bool, err error)
}

// Guard validates and consumes public share tokens. Authorization and
// access-count consumption are one indivisible operation per token, so
// exhaustion is exact even under concurrent requests.
type Guard struct {
	logger    *zap.Logger
	persister Persister

	mu     sync.RWMutex
	tokens map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	tok models.ShareToken
}

// NewGuard creates a guard. persister may be nil (memory-only operation,
// used by tests and single-process deployments).
func NewGuard(persister Persister, logger *zap.Logger) *Guard {
	return &Guard{
		logger:    logger,
		persister: persister,
		tokens:    make(map[string]*entry),
	}
}

// Load seeds the guard from previously persisted tokens, e.g. at boot.
func (g *Guard) Load(tokens []models.ShareToken) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range tokens {
		g.tokens[t.Token] = &entry{tok: t}
	}
}

// Issue creates a share token for a mission. While the mission already
// holds an active, unexpired, unexhausted token, that token is returned
// unchanged instead of proliferating new ones. maxAccesses and ttl must
// be positive; anything else is rejected at the boundary.
func (g *Guard) Issue(missionID string, ttl time.Duration, maxAccesses int) (models.ShareToken, error) {
	if missionID == "" {
		return models.ShareToken{}, fmt.Errorf("mission id is required")
	}
	if ttl <= 0 {
		return models.ShareToken{}, fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	if maxAccesses <= 0 {
		return models.ShareToken{}, fmt.Errorf("max accesses must be positive, got %d", maxAccesses)
	}

	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.tokens {
		e.mu.Lock()
		if e.tok.MissionID == missionID && e.tok.Usable(now) {
			existing := e.tok
			e.mu.Unlock()
			return existing, nil
		}
		e.mu.Unlock()
	}

	tok := models.ShareToken{
		Token:       newToken(),
		MissionID:   missionID,
		IsActive:    true,
		ExpiresAt:   now.Add(ttl),
		MaxAccesses: maxAccesses,
		CreatedAt:   now,
	}
	g.tokens[tok.Token] = &entry{tok: tok}
	g.persist(tok)

	g.logger.Info("Share token issued",
		zap.String("mission_id", missionID),
		zap.Time("expires_at", tok.ExpiresAt),
		zap.Int("max_accesses", maxAccesses))
	return tok, nil
}

// Authorize grants or denies access for a token at the given time. On
// grant the access counter is incremented within the same critical
// section, so two concurrent requests can never both pass the final
// slot.
func (g *Guard) Authorize(token string, now time.Time) (string, error) {
	g.mu.RLock()
	e, ok := g.tokens[token]
	g.mu.RUnlock()
	if !ok {
		return g.consumeFallback(token)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tok.IsActive {
		return "", ErrInactive
	}
	if !now.Before(e.tok.ExpiresAt) {
		return "", ErrExpired
	}
	if e.tok.AccessCount >= e.tok.MaxAccesses {
		return "", ErrRateLimited
	}

	e.tok.AccessCount++
	g.persist(e.tok)
	return e.tok.MissionID, nil
}

// consumeFallback resolves a token the guard has never seen against
// durable storage, where the grant-and-count is a single atomic
// statement. A refusal cannot be told apart from absence there, so it
// reads as not found.
func (g *Guard) consumeFallback(token string) (string, error) {
	c, ok := g.persister.(Consumer)
	if !ok {
		return "", ErrNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	missionID, granted, err := c.Consume(ctx, token)
	if err != nil {
		g.logger.Error("Share token storage lookup failed", zap.Error(err))
		return "", ErrNotFound
	}
	if !granted {
		return "", ErrNotFound
	}

	g.logger.Info("Share token granted from storage", zap.String("mission_id", missionID))
	return missionID, nil
}

// Revoke deactivates every token issued for a mission.
func (g *Guard) Revoke(missionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	revoked := 0
	for _, e := range g.tokens {
		e.mu.Lock()
		if e.tok.MissionID == missionID && e.tok.IsActive {
			e.tok.IsActive = false
			g.persist(e.tok)
			revoked++
		}
		e.mu.Unlock()
	}

	if revoked > 0 {
		g.logger.Info("Share tokens revoked", zap.String("mission_id", missionID), zap.Int("count", revoked))
	}
	return revoked
}

// Get returns a token by value without consuming an access.
func (g *Guard) Get(token string) (models.ShareToken, bool) {
	g.mu.RLock()
	e, ok := g.tokens[token]
	g.mu.RUnlock()
	if !ok {
		return models.ShareToken{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tok, true
}

func (g *Guard) persist(t models.ShareToken) {
	if g.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.persister.SaveToken(ctx, &t); err != nil {
		g.logger.Error("Failed to persist share token", zap.Error(err), zap.String("mission_id", t.MissionID))
	}
}

// newToken produces an unguessable opaque token.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
