package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"botgate/cmd/identity"
	"botgate/cmd/internal/clock"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) (*Store, *clock.Fake) {
	t.Helper()

	fc := clock.NewFake(t0)
	cfg := DefaultConfig()
	cfg.BotURLTemplate = "https://t.me/TestBot?start={session_id}"

	st, err := NewStore(cfg, append([]Option{WithClock(fc)}, opts...)...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st, fc
}

func TestCreateSession_PendingWithBotURL(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	s, err := st.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Status != StatusPending {
		t.Fatalf("status=%q want=%q", s.Status, StatusPending)
	}
	if !s.CreatedAt.Equal(t0) {
		t.Fatalf("created_at=%v want=%v", s.CreatedAt, t0)
	}
	if want := "https://t.me/TestBot?start=" + s.ID; s.BotURL != want {
		t.Fatalf("bot_url=%q want=%q", s.BotURL, want)
	}
	if s.VerifiedAt != nil || s.User != nil {
		t.Fatalf("fresh session must not be verified or bound: %+v", s)
	}
}

func TestCreateSession_UniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)

	const workers, per = 16, 200
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, workers*per)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				s, err := st.CreateSession(context.Background())
				if err != nil {
					t.Errorf("CreateSession: %v", err)
					return
				}
				mu.Lock()
				ids[s.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(ids) != workers*per {
		t.Fatalf("distinct ids=%d want=%d", len(ids), workers*per)
	}
	if st.Len() != workers*per {
		t.Fatalf("store len=%d want=%d", st.Len(), workers*per)
	}
}

func TestCreateSession_RetriesOnCollision(t *testing.T) {
	t.Parallel()

	seq := []string{"dup", "dup", "fresh"}
	i := 0
	gen := func() (string, error) {
		id := seq[i]
		i++
		return id, nil
	}
	st, _ := newTestStore(t, WithIDGenerator(gen))

	a, err := st.CreateSession(context.Background())
	if err != nil || a.ID != "dup" {
		t.Fatalf("first create: id=%q err=%v", a.ID, err)
	}
	b, err := st.CreateSession(context.Background())
	if err != nil || b.ID != "fresh" {
		t.Fatalf("second create: id=%q err=%v", b.ID, err)
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	for _, id := range []string{"", "missing"} {
		if _, err := st.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(%q) err=%v want ErrNotFound", id, err)
		}
	}
}

func TestBindUser_LastWriteWins(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)

	if _, err := st.BindUser(ctx, s.ID, identity.User{ID: 1, Username: "first"}); err != nil {
		t.Fatalf("bind 1: %v", err)
	}
	got, err := st.BindUser(ctx, s.ID, identity.User{ID: 2, Username: "second"})
	if err != nil {
		t.Fatalf("bind 2: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("bind must not change status, got %q", got.Status)
	}
	if got.User == nil || got.User.ID != 2 {
		t.Fatalf("user=%+v want id 2", got.User)
	}
}

func TestBindUser_RejectsInvalidUser(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	s, _ := st.CreateSession(context.Background())
	if _, err := st.BindUser(context.Background(), s.ID, identity.User{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want ErrInvalidInput", err)
	}
}

func TestMarkVerified_Idempotent(t *testing.T) {
	t.Parallel()

	st, fc := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)
	_, _ = st.BindUser(ctx, s.ID, identity.User{ID: 7})

	fc.Advance(time.Minute)
	first, err := st.MarkVerified(ctx, s.ID, 7)
	if err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	if first.Status != StatusVerified || first.VerifiedAt == nil {
		t.Fatalf("unexpected session after verify: %+v", first)
	}

	fc.Advance(time.Minute)
	second, err := st.MarkVerified(ctx, s.ID, 7)
	if !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("second verify err=%v want ErrAlreadyVerified", err)
	}
	if !second.VerifiedAt.Equal(*first.VerifiedAt) {
		t.Fatalf("verified_at changed: %v -> %v", first.VerifiedAt, second.VerifiedAt)
	}

	if _, err := st.BindUser(ctx, s.ID, identity.User{ID: 8}); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("rebind verified err=%v want ErrAlreadyVerified", err)
	}
	got, _ := st.Get(ctx, s.ID)
	if got.User.ID != 7 {
		t.Fatalf("verified identity was overwritten: %+v", got.User)
	}
}

func TestMarkVerified_RequiresBoundUser(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)

	if _, err := st.MarkVerified(ctx, s.ID, 1); !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("unbound err=%v want ErrUserMismatch", err)
	}

	_, _ = st.BindUser(ctx, s.ID, identity.User{ID: 1})
	_, _ = st.BindUser(ctx, s.ID, identity.User{ID: 2})

	got, err := st.MarkVerified(ctx, s.ID, 1)
	if !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("rebound err=%v want ErrUserMismatch", err)
	}
	if got.Status != StatusPending || got.VerifiedAt != nil {
		t.Fatalf("session mutated on mismatch: %+v", got)
	}

	if _, err := st.MarkVerified(ctx, s.ID, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero user err=%v want ErrInvalidInput", err)
	}

	got, err = st.MarkVerified(ctx, s.ID, 2)
	if err != nil || got.Status != StatusVerified || got.User.ID != 2 {
		t.Fatalf("bound user verify: %+v err=%v", got, err)
	}
}

func TestExpiryBoundary_ReadTime(t *testing.T) {
	t.Parallel()

	st, fc := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)

	fc.Set(t0.Add(st.Config().TTL - time.Millisecond))
	got, err := st.Get(ctx, s.ID)
	if err != nil || got.Status != StatusPending {
		t.Fatalf("just before TTL: status=%q err=%v", got.Status, err)
	}

	fc.Set(t0.Add(st.Config().TTL + time.Millisecond))
	got, err = st.Get(ctx, s.ID)
	if err != nil || got.Status != StatusExpired {
		t.Fatalf("just after TTL: status=%q err=%v", got.Status, err)
	}
}

func TestExpired_IsAbsorbing(t *testing.T) {
	t.Parallel()

	st, fc := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)
	_, _ = st.BindUser(ctx, s.ID, identity.User{ID: 3})
	_, _ = st.MarkVerified(ctx, s.ID, 3)

	fc.Advance(st.Config().TTL)
	if n := st.SweepExpired(fc.Now(), st.Config().TTL); n != 1 {
		t.Fatalf("swept=%d want=1", n)
	}

	if _, err := st.BindUser(ctx, s.ID, identity.User{ID: 4}); !errors.Is(err, ErrExpired) {
		t.Fatalf("bind after expiry err=%v want ErrExpired", err)
	}
	if _, err := st.MarkVerified(ctx, s.ID, 3); !errors.Is(err, ErrExpired) {
		t.Fatalf("verify after expiry err=%v want ErrExpired", err)
	}

	got, _ := st.Get(ctx, s.ID)
	if got.Status != StatusExpired || got.VerifiedAt != nil {
		t.Fatalf("expired session mutated: %+v", got)
	}
	if got.User == nil || got.User.ID != 3 {
		t.Fatalf("user snapshot must survive expiry: %+v", got.User)
	}
	if n := st.SweepExpired(fc.Now(), st.Config().TTL); n != 0 {
		t.Fatalf("second sweep=%d want=0", n)
	}
}

func TestSweepExpired_OnlyStale(t *testing.T) {
	t.Parallel()

	st, fc := newTestStore(t)
	ctx := context.Background()
	old, _ := st.CreateSession(ctx)

	fc.Advance(30 * time.Minute)
	fresh, _ := st.CreateSession(ctx)

	fc.Advance(30 * time.Minute)
	if n := st.SweepExpired(fc.Now(), time.Hour); n != 1 {
		t.Fatalf("swept=%d want=1", n)
	}

	a, _ := st.Get(ctx, old.ID)
	b, _ := st.Get(ctx, fresh.ID)
	if a.Status != StatusExpired || b.Status != StatusPending {
		t.Fatalf("old=%q fresh=%q", a.Status, b.Status)
	}

	c := st.Stats()
	if c.Pending != 1 || c.Expired != 1 || c.Verified != 0 {
		t.Fatalf("stats=%+v", c)
	}
}

func TestStore_ConcurrentVerifyAndSweep(t *testing.T) {
	t.Parallel()

	st, fc := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)
	_, _ = st.BindUser(ctx, s.ID, identity.User{ID: 9})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := st.MarkVerified(ctx, s.ID, 9); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			st.SweepExpired(fc.Now(), time.Hour)
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("transitions=%d want exactly 1", succeeded)
	}
}

func TestSessionSnapshotsDoNotAlias(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	s, _ := st.CreateSession(ctx)
	got, _ := st.BindUser(ctx, s.ID, identity.User{ID: 5, Username: "orig"})

	got.User.Username = "mutated"
	again, _ := st.Get(ctx, s.ID)
	if again.User.Username != "orig" {
		t.Fatalf("store state leaked through snapshot: %q", again.User.Username)
	}
}
