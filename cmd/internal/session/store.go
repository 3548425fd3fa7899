package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"botgate/cmd/identity"
	"botgate/cmd/identity/ids"
	"botgate/cmd/internal/clock"
)

// maxIDAttempts bounds regeneration on the (practically impossible) id collision.
const maxIDAttempts = 3

var errIDCollision = errors.New("session: id generator keeps colliding")

// Store is the authoritative in-memory map of session id -> session.
//
// Every operation that touches a session first applies read-time expiry under the
// lock: a session at or past its TTL is transitioned to Expired before anything else
// happens, so callers never observe a stale Pending/Verified between reaper sweeps.
type Store struct {
	cfg   Config
	clock clock.Clock
	newID func() (string, error)
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests use clock.Fake).
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore constructs an empty Store. It fails with ErrConfig on invalid cfg.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:      cfg,
		clock:    clock.Real{},
		newID:    ids.NewSessionID,
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// CreateSession inserts a fresh Pending session and returns it with its bot link.
func (s *Store) CreateSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return Session{}, err
		}
		if _, taken := s.sessions[id]; taken {
			s.log.Warn("session.id.collision", "attempt", attempt+1)
			continue
		}

		sess := &Session{
			ID:        id,
			Status:    StatusPending,
			CreatedAt: now,
			BotURL:    s.cfg.BotURL(id),
		}
		s.sessions[id] = sess
		return sess.clone(), nil
	}
	return Session{}, errIDCollision
}

// Get returns a snapshot of the session.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	const op = "session.Get"
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(op, id)
	if err != nil {
		return Session{}, err
	}
	return sess.clone(), nil
}

// BindUser attaches (or overwrites) the user snapshot on a Pending session.
// Status is not changed. A verified session keeps its user and yields ErrAlreadyVerified.
func (s *Store) BindUser(ctx context.Context, id string, user identity.User) (Session, error) {
	const op = "session.BindUser"
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if err := user.Validate(); err != nil {
		return Session{}, opError(op, id, ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(op, id)
	if err != nil {
		return Session{}, err
	}

	switch sess.Status {
	case StatusExpired:
		return sess.clone(), opError(op, id, ErrExpired)
	case StatusVerified:
		return sess.clone(), opError(op, id, ErrAlreadyVerified)
	}

	u := user
	sess.User = &u
	return sess.clone(), nil
}

// MarkVerified moves a Pending session bound to userID to Verified and stamps VerifiedAt.
//
// Calling it on a Verified session returns the unchanged session with
// ErrAlreadyVerified so retries can be recognized without double counting.
// A Pending session currently bound to someone else yields ErrUserMismatch.
func (s *Store) MarkVerified(ctx context.Context, id string, userID int64) (Session, error) {
	const op = "session.MarkVerified"
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if userID == 0 {
		return Session{}, opError(op, id, ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(op, id)
	if err != nil {
		return Session{}, err
	}

	switch sess.Status {
	case StatusExpired:
		return sess.clone(), opError(op, id, ErrExpired)
	case StatusVerified:
		return sess.clone(), opError(op, id, ErrAlreadyVerified)
	}

	if sess.User == nil || sess.User.ID != userID {
		return sess.clone(), opError(op, id, ErrUserMismatch)
	}

	now := s.clock.Now()
	sess.Status = StatusVerified
	sess.VerifiedAt = &now
	return sess.clone(), nil
}

// SweepExpired transitions every Pending or Verified session whose age is >= ttl to
// Expired and returns how many were transitioned.
func (s *Store) SweepExpired(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if expireIfDue(sess, now, ttl) {
			n++
		}
	}
	return n
}

// Stats tallies sessions per status, applying read-time expiry first.
func (s *Store) Stats() Counts {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	for _, sess := range s.sessions {
		expireIfDue(sess, now, s.cfg.TTL)
		switch sess.Status {
		case StatusPending:
			c.Pending++
		case StatusVerified:
			c.Verified++
		case StatusExpired:
			c.Expired++
		}
	}
	return c
}

// Len returns the number of sessions retained (expired ones included).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) lookupLocked(op, id string) (*Session, error) {
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, opError(op, id, ErrNotFound)
	}
	expireIfDue(sess, s.clock.Now(), s.cfg.TTL)
	return sess, nil
}

// expireIfDue applies the one-way transition to Expired. Caller holds the lock.
func expireIfDue(sess *Session, now time.Time, ttl time.Duration) bool {
	if sess.Status == StatusExpired {
		return false
	}
	if now.Sub(sess.CreatedAt) < ttl {
		return false
	}
	sess.Status = StatusExpired
	sess.VerifiedAt = nil
	return true
}
