package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")
	ErrIdempotencyInFlight = errors.New("idempotency key is held by a request still in progress")
)

// ReservationTTL is how long an unanswered reservation blocks its key. A
// reservation older than this is assumed abandoned and may be taken over.
const ReservationTTL = time.Minute

// IdempotencyStore remembers the response to a keyed request so a client
// retrying a submission gets the original result instead of a duplicate.
//
// Reserve claims the key before the work runs. It returns reserved=true to
// the single caller that owns the key; later callers with the same payload
// get the stored response, or ErrIdempotencyInFlight while the owner has not
// saved one yet. The owner either saves its response or releases the key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, userID, endpoint, key, requestHash string) (stored json.RawMessage, reserved bool, err error)
	Save(ctx context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error
	Release(ctx context.Context, userID, endpoint, key string) error
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type PostgresIdempotencyStore struct {
	db *pgxpool.Pool
}

func NewIdempotencyStore(db *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db}
}

func (s *PostgresIdempotencyStore) Reserve(ctx context.Context, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	tag, err := s.db.Exec(ctx, `
    INSERT INTO idempotency_keys (user_id, key, endpoint, request_hash)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (user_id, key, endpoint)
    DO UPDATE SET created_at = now()
    WHERE idempotency_keys.response_json IS NULL
      AND idempotency_keys.request_hash = EXCLUDED.request_hash
      AND idempotency_keys.created_at < now() - make_interval(secs => $5)
  `, userID, key, endpoint, requestHash, ReservationTTL.Seconds())
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return nil, true, nil
	}

	var storedHash string
	var stored []byte
	err = s.db.QueryRow(ctx, `
    SELECT request_hash, response_json
    FROM idempotency_keys
    WHERE user_id = $1 AND key = $2 AND endpoint = $3
  `, userID, key, endpoint).Scan(&storedHash, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		// released between the insert and the read
		return nil, false, ErrIdempotencyInFlight
	}
	if err != nil {
		return nil, false, err
	}
	if storedHash != requestHash {
		return nil, false, ErrIdempotencyConflict
	}
	if stored == nil {
		return nil, false, ErrIdempotencyInFlight
	}
	return json.RawMessage(stored), false, nil
}

func (s *PostgresIdempotencyStore) Save(ctx context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
    UPDATE idempotency_keys SET response_json = $5
    WHERE user_id = $1 AND key = $2 AND endpoint = $3 AND request_hash = $4
  `, userID, key, endpoint, requestHash, response)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release drops an unanswered reservation so the client may retry.
func (s *PostgresIdempotencyStore) Release(ctx context.Context, userID, endpoint, key string) error {
	_, err := s.db.Exec(ctx, `
    DELETE FROM idempotency_keys
    WHERE user_id = $1 AND key = $2 AND endpoint = $3 AND response_json IS NULL
  `, userID, key, endpoint)
	return err
}

type idempotencyEntry struct {
	hash       string
	response   json.RawMessage
	reservedAt time.Time
}

type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: map[string]idempotencyEntry{}, now: time.Now}
}

func idempotencyID(userID, endpoint, key string) string {
	return userID + "\x00" + endpoint + "\x00" + key
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idempotencyID(userID, endpoint, key)
	now := s.now()
	entry, ok := s.entries[id]
	switch {
	case !ok:
	case entry.hash != requestHash:
		return nil, false, ErrIdempotencyConflict
	case entry.response != nil:
		return entry.response, false, nil
	case now.Sub(entry.reservedAt) < ReservationTTL:
		return nil, false, ErrIdempotencyInFlight
	}
	s.entries[id] = idempotencyEntry{hash: requestHash, reservedAt: now}
	return nil, true, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, userID, endpoint, key, requestHash string, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idempotencyID(userID, endpoint, key)
	entry, ok := s.entries[id]
	if ok && entry.hash != requestHash {
		return ErrIdempotencyConflict
	}
	entry.hash = requestHash
	entry.response = response
	s.entries[id] = entry
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, userID, endpoint, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idempotencyID(userID, endpoint, key)
	if entry, ok := s.entries[id]; ok && entry.response == nil {
		delete(s.entries, id)
	}
	return nil
}
