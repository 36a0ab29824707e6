package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/pkg/utils"
)

// Web and API sessions live in disjoint redis namespaces: a leaked id of one
// kind can never be replayed as the other.
const (
	webPrefix     = "websess:"
	apiPrefix     = "apisess:"
	webUserPrefix = "webuser:"
)

// ErrUnavailable covers store timeouts and outages. Authentication decisions
// treat it as a deny.
var ErrUnavailable = errors.New("session store unavailable")

const sessionIDBytes = 32

// WebSession is the interactive browser session. UserID stays nil while a
// second factor is pending; the session only grants access once bound.
type WebSession struct {
	ID            string     `json:"-"`
	UserID        *uuid.UUID `json:"userId,omitempty"`
	PendingUserID *uuid.UUID `json:"pendingUserId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastSeen      time.Time  `json:"lastSeen"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	MaxExpiresAt  time.Time  `json:"maxExpiresAt"`
	IP            string     `json:"ip"`
	UserAgent     string     `json:"userAgent"`
	CSRFToken     string     `json:"csrfToken,omitempty"`
	RoleOverride  string     `json:"roleOverride,omitempty"`
	Remember      bool       `json:"remember,omitempty"`
}

// APISession is the short-lived post-challenge session for programmatic
// clients. Fixed TTL, no sliding refresh.
type APISession struct {
	ID           string    `json:"-"`
	UserID       uuid.UUID `json:"userId"`
	CredentialID uuid.UUID `json:"credentialId"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type Store struct {
	client     *redis.Client
	idleTTL    time.Duration
	maxTTL     time.Duration
	pendingTTL time.Duration
	apiTTL     time.Duration
	timeout    time.Duration
}

func NewStore(client *redis.Client, cfg config.AuthConfig) *Store {
	return &Store{
		client:     client,
		idleTTL:    cfg.WebSessionIdleTTL,
		maxTTL:     cfg.WebSessionMaxTTL,
		pendingTTL: cfg.PendingSessionTTL,
		apiTTL:     cfg.APISessionTTL,
		timeout:    cfg.StoreTimeout,
	}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// CreateWeb persists a new web session under a fresh random id and returns
// the id for the cookie. The id is a pure lookup key; revocation is a server
// side delete. An unbound session (second factor still pending) only lives
// for the short pending TTL until it is bound.
func (s *Store) CreateWeb(ctx context.Context, sess *WebSession) (string, error) {
	id, err := utils.RandomHex(sessionIDBytes)
	if err != nil {
		return "", err
	}

	now := time.Now()
	sess.ID = id
	sess.CreatedAt = now
	sess.LastSeen = now
	if sess.UserID == nil {
		sess.ExpiresAt = now.Add(s.pendingTTL)
		sess.MaxExpiresAt = sess.ExpiresAt
	} else {
		sess.ExpiresAt = now.Add(s.idleTTL)
		sess.MaxExpiresAt = now.Add(s.maxTTL)
		if sess.ExpiresAt.After(sess.MaxExpiresAt) {
			sess.ExpiresAt = sess.MaxExpiresAt
		}
	}

	if err := s.writeWeb(ctx, sess); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) writeWeb(ctx context.Context, sess *WebSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(opCtx, webPrefix+sess.ID, data, ttl).Err(); err != nil {
		return storeErr(err)
	}

	if sess.UserID != nil {
		pipe := s.client.Pipeline()
		pipe.SAdd(opCtx, webUserPrefix+sess.UserID.String(), sess.ID)
		pipe.Expire(opCtx, webUserPrefix+sess.UserID.String(), s.maxTTL)
		if _, err := pipe.Exec(opCtx); err != nil {
			return storeErr(err)
		}
	}
	return nil
}

// ReadWeb returns the session or nil when missing or expired. A hit touches
// the session: expiry slides forward with activity but never past the hard
// maximum from creation.
func (s *Store) ReadWeb(ctx context.Context, id string) (*WebSession, error) {
	opCtx, cancel := s.opCtx(ctx)
	raw, err := s.client.Get(opCtx, webPrefix+id).Bytes()
	cancel()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr(err)
	}

	var sess WebSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil
	}
	sess.ID = id

	now := time.Now()
	if now.After(sess.ExpiresAt) || now.After(sess.MaxExpiresAt) {
		_ = s.DestroyWeb(ctx, id)
		return nil, nil
	}

	// Unbound sessions have a fixed lifetime: no sliding refresh until the
	// second factor binds them.
	if sess.UserID == nil {
		return &sess, nil
	}

	sess.LastSeen = now
	sess.ExpiresAt = now.Add(s.idleTTL)
	if sess.ExpiresAt.After(sess.MaxExpiresAt) {
		sess.ExpiresAt = sess.MaxExpiresAt
	}
	if err := s.writeWeb(ctx, &sess); err != nil {
		return nil, err
	}

	return &sess, nil
}

// UpdateWeb applies a patch to the session state without rotating the id.
// Used to attach a CSRF token, pending second-factor state, or a role
// override.
func (s *Store) UpdateWeb(ctx context.Context, id string, patch func(*WebSession)) (*WebSession, error) {
	opCtx, cancel := s.opCtx(ctx)
	raw, err := s.client.Get(opCtx, webPrefix+id).Bytes()
	cancel()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr(err)
	}

	var sess WebSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil
	}
	sess.ID = id

	wasUnbound := sess.UserID == nil
	patch(&sess)

	// Binding the session upgrades it from the short pending lifetime to the
	// full web session lifetime.
	if wasUnbound && sess.UserID != nil {
		now := time.Now()
		sess.LastSeen = now
		sess.ExpiresAt = now.Add(s.idleTTL)
		sess.MaxExpiresAt = now.Add(s.maxTTL)
		if sess.ExpiresAt.After(sess.MaxExpiresAt) {
			sess.ExpiresAt = sess.MaxExpiresAt
		}
	}

	if err := s.writeWeb(ctx, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// DestroyWeb hard-deletes the session and removes it from the owner index.
func (s *Store) DestroyWeb(ctx context.Context, id string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(opCtx, webPrefix+id).Bytes()
	if err == nil {
		var sess WebSession
		if json.Unmarshal(raw, &sess) == nil && sess.UserID != nil {
			_ = s.client.SRem(opCtx, webUserPrefix+sess.UserID.String(), id).Err()
		}
	}

	if err := s.client.Del(opCtx, webPrefix+id).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// ListWeb returns the user's live web sessions, pruning index entries whose
// sessions already expired.
func (s *Store) ListWeb(ctx context.Context, userID uuid.UUID) ([]WebSession, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.client.SMembers(opCtx, webUserPrefix+userID.String()).Result()
	if err != nil {
		return nil, storeErr(err)
	}

	sessions := make([]WebSession, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(opCtx, webPrefix+id).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = s.client.SRem(opCtx, webUserPrefix+userID.String(), id).Err()
				continue
			}
			return nil, storeErr(err)
		}
		var sess WebSession
		if json.Unmarshal(raw, &sess) != nil {
			continue
		}
		sess.ID = id
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// RevokeOthers deletes every web session of the user except keepID. Returns
// the number of sessions destroyed.
func (s *Store) RevokeOthers(ctx context.Context, userID uuid.UUID, keepID string) (int, error) {
	sessions, err := s.ListWeb(ctx, userID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, sess := range sessions {
		if sess.ID == keepID {
			continue
		}
		if err := s.DestroyWeb(ctx, sess.ID); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// RevokeAll deletes every web session of the user.
func (s *Store) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	_, err := s.RevokeOthers(ctx, userID, "")
	if err != nil {
		return err
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.client.Del(opCtx, webUserPrefix+userID.String()).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// CreateAPI mints an API session with the fixed TTL. Redis expiry is the
// only lifetime control: there is no touch path for API sessions.
func (s *Store) CreateAPI(ctx context.Context, userID, credentialID uuid.UUID) (string, error) {
	id, err := utils.RandomHex(sessionIDBytes)
	if err != nil {
		return "", err
	}

	now := time.Now()
	sess := APISession{
		ID:           id,
		UserID:       userID,
		CredentialID: credentialID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.apiTTL),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.client.Set(opCtx, apiPrefix+id, data, s.apiTTL).Err(); err != nil {
		return "", storeErr(err)
	}
	return id, nil
}

// ReadAPI returns the API session or nil when missing or expired. No touch:
// expired API sessions require a fresh challenge.
func (s *Store) ReadAPI(ctx context.Context, id string) (*APISession, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(opCtx, apiPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr(err)
	}

	var sess APISession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil
	}
	sess.ID = id

	if time.Now().After(sess.ExpiresAt) {
		_ = s.client.Del(opCtx, apiPrefix+id).Err()
		return nil, nil
	}
	return &sess, nil
}

// CleanupIndexes prunes user index entries whose sessions redis already
// expired. Session records themselves age out via their own TTLs; this sweep
// is idempotent and safe to run concurrently.
func (s *Store) CleanupIndexes(ctx context.Context) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(opCtx, cursor, webUserPrefix+"*", 100).Result()
		if err != nil {
			return storeErr(err)
		}
		for _, key := range keys {
			ids, err := s.client.SMembers(opCtx, key).Result()
			if err != nil {
				return storeErr(err)
			}
			for _, id := range ids {
				exists, err := s.client.Exists(opCtx, webPrefix+id).Result()
				if err != nil {
					return storeErr(err)
				}
				if exists == 0 {
					_ = s.client.SRem(opCtx, key, id).Err()
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
