// Package verify drives the membership workflow that turns a pending login session
// into a verified one.
//
// The engine binds the messaging user to the session, asks the membership
// capability about every required group, and then asks the session store for the
// Pending -> Verified transition. No session lock is held while the capability is
// being called.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botgate/cmd/identity"
	"botgate/cmd/internal/ledger"
	"botgate/cmd/internal/session"
)

// Outcome is the definite result of a verification attempt.
type Outcome string

const (
	OutcomeVerified       Outcome = "verified"
	OutcomeDenied         Outcome = "denied"
	OutcomeInvalidSession Outcome = "invalid_session"
	OutcomeExpired        Outcome = "expired"
)

// StartOutcome is the result of a user opening the bot.
type StartOutcome string

const (
	StartNoSession       StartOutcome = "no_session"
	StartBound           StartOutcome = "bound"
	StartAlreadyVerified StartOutcome = "already_verified"
	StartInvalidSession  StartOutcome = "invalid_session"
	StartExpired         StartOutcome = "expired"
)

// SessionStore is the part of session.Store the engine relies on.
type SessionStore interface {
	Get(ctx context.Context, id string) (session.Session, error)
	BindUser(ctx context.Context, id string, user identity.User) (session.Session, error)
	MarkVerified(ctx context.Context, id string, userID int64) (session.Session, error)
}

// Ledger is the part of ledger.Ledger the engine relies on.
type Ledger interface {
	LogActivity(user identity.User, action, sessionID string) ledger.ActivityEntry
	LogLogin(user identity.User, sessionID string) ledger.LoginEntry
	LoginsFor(userID int64) []ledger.LoginEntry
}

// Recorder receives verification metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveVerification(outcome string, took time.Duration)
	ObserveGroupCheck(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVerification(string, time.Duration) {}
func (nopRecorder) ObserveGroupCheck(string)                  {}

// Report describes a verification attempt.
type Report struct {
	Outcome   Outcome
	SessionID string
	Groups    []GroupResult
}

// Missing lists the groups that did not confirm membership, in configured order.
func (r Report) Missing() []string {
	var out []string
	for _, g := range r.Groups {
		if g.Membership != MembershipMember {
			out = append(out, g.Group)
		}
	}
	return out
}

// Engine orchestrates session binding, membership checks and the verified transition.
type Engine struct {
	cfg     Config
	store   SessionStore
	ledger  Ledger
	checker MembershipChecker
	log     *slog.Logger
	rec     Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// NewEngine constructs an Engine. A nil checker fails closed (Unavailable).
func NewEngine(cfg Config, store SessionStore, l Ledger, checker MembershipChecker, opts ...Option) (*Engine, error) {
	if store == nil || l == nil {
		return nil, errors.New("verify: nil store or ledger")
	}
	if cfg.CheckTimeout <= 0 {
		return nil, ErrConfig
	}
	if checker == nil {
		checker = Unavailable{}
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		ledger:  l,
		checker: checker,
		log:     slog.Default(),
		rec:     nopRecorder{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e, nil
}

// Groups returns the required groups in configured order.
func (e *Engine) Groups() []string {
	return append([]string(nil), e.cfg.Groups...)
}

// Start handles a user opening the bot, optionally with a session id from the start link.
// The activity is always logged; the user is bound when the session accepts it.
func (e *Engine) Start(ctx context.Context, user identity.User, sessionID string) StartOutcome {
	e.ledger.LogActivity(user, ledger.ActionBotStarted, sessionID)

	if sessionID == "" {
		return StartNoSession
	}

	_, err := e.store.BindUser(ctx, sessionID, user)
	switch {
	case err == nil:
		e.log.Info("verify.start.bound", "session_id", sessionID, "user_id", user.ID)
		return StartBound
	case errors.Is(err, session.ErrExpired):
		return StartExpired
	case errors.Is(err, session.ErrAlreadyVerified):
		return StartAlreadyVerified
	default:
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrInvalidInput) {
			e.log.Error("verify.start.bind.fail", "session_id", sessionID, "err", err)
		}
		return StartInvalidSession
	}
}

// Verify runs the membership workflow for sessionID on behalf of user.
//
// It always resolves to a definite Outcome: capability failures become Denied,
// never errors. Re-running it is safe: a denied attempt never changes status and an
// already verified session is reported Verified without logging another login.
func (e *Engine) Verify(ctx context.Context, sessionID string, user identity.User) Report {
	start := time.Now()
	rep := e.verify(ctx, sessionID, user)
	e.rec.ObserveVerification(string(rep.Outcome), time.Since(start))
	return rep
}

func (e *Engine) verify(ctx context.Context, sessionID string, user identity.User) Report {
	rep := Report{SessionID: sessionID}

	if user.Validate() != nil {
		rep.Outcome = OutcomeInvalidSession
		return rep
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		rep.Outcome = e.outcomeForStoreErr("get", sessionID, err)
		return rep
	}
	switch sess.Status {
	case session.StatusExpired:
		rep.Outcome = OutcomeExpired
		return rep
	case session.StatusVerified:
		rep.Outcome = verifiedBy(sess, user)
		return rep
	}

	// Bind first so the attempt is attributable even when it is denied.
	sess, err = e.store.BindUser(ctx, sessionID, user)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyVerified) {
			rep.Outcome = verifiedBy(sess, user)
			return rep
		}
		rep.Outcome = e.outcomeForStoreErr("bind", sessionID, err)
		return rep
	}

	rep.Groups = e.checkGroups(ctx, user)

	if !e.passed(rep.Groups) {
		e.ledger.LogActivity(user, ledger.ActionVerificationFailed, sessionID)
		e.log.Info("verify.denied", "session_id", sessionID, "user_id", user.ID, "missing", rep.Missing())
		rep.Outcome = OutcomeDenied
		return rep
	}

	sess, err = e.store.MarkVerified(ctx, sessionID, user.ID)
	switch {
	case err == nil:
		e.ledger.LogLogin(user, sessionID)
		e.ledger.LogActivity(user, ledger.ActionVerificationSuccess, sessionID)
		e.log.Info("verify.verified", "session_id", sessionID, "user_id", user.ID)
		rep.Outcome = OutcomeVerified
	case errors.Is(err, session.ErrAlreadyVerified):
		// A concurrent attempt won the transition; it already logged the login.
		rep.Outcome = verifiedBy(sess, user)
	case errors.Is(err, session.ErrUserMismatch):
		// Another user rebound the session while this check was in flight.
		e.ledger.LogActivity(user, ledger.ActionVerificationFailed, sessionID)
		e.log.Warn("verify.session.rebound", "session_id", sessionID, "user_id", user.ID)
		rep.Outcome = OutcomeInvalidSession
	default:
		rep.Outcome = e.outcomeForStoreErr("mark_verified", sessionID, err)
	}
	return rep
}

// AccessFor returns the newest session through which userID logged in that is still Verified.
func (e *Engine) AccessFor(ctx context.Context, userID int64) (session.Session, bool) {
	for _, login := range e.ledger.LoginsFor(userID) {
		sess, err := e.store.Get(ctx, login.SessionID)
		if err != nil {
			continue
		}
		if sess.Status == session.StatusVerified && sess.User != nil && sess.User.ID == userID {
			return sess, true
		}
	}
	return session.Session{}, false
}

func (e *Engine) passed(groups []GroupResult) bool {
	for _, g := range groups {
		switch g.Membership {
		case MembershipMember:
		case MembershipUnverifiable:
			if !e.cfg.AllowUnverifiable {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// checkGroups queries every required group concurrently and keeps configured order.
func (e *Engine) checkGroups(ctx context.Context, user identity.User) []GroupResult {
	out := make([]GroupResult, len(e.cfg.Groups))

	var wg sync.WaitGroup
	for i, g := range e.cfg.Groups {
		wg.Add(1)
		go func(i int, g string) {
			defer wg.Done()
			out[i] = e.checkOne(ctx, user, g)
		}(i, g)
	}
	wg.Wait()

	for _, r := range out {
		e.rec.ObserveGroupCheck(r.Membership.String())
		if r.Membership == MembershipUnverifiable {
			e.log.Warn("verify.group.unverifiable", "group", r.Group, "user_id", user.ID, "err", r.Err)
		}
	}
	return out
}

// checkOne bounds a single capability call by CheckTimeout, even if the checker ignores ctx.
func (e *Engine) checkOne(parent context.Context, user identity.User, group string) GroupResult {
	ctx, cancel := context.WithTimeout(parent, e.cfg.CheckTimeout)
	defer cancel()

	type answer struct {
		m   Membership
		err error
	}
	ch := make(chan answer, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{m: MembershipUnverifiable, err: fmt.Errorf("%w: %v", ErrCheckPanic, r)}
			}
		}()
		m, err := e.checker.CheckMembership(ctx, user, group)
		ch <- answer{m: m, err: err}
	}()

	res := GroupResult{Group: group, Membership: MembershipUnverifiable}
	select {
	case a := <-ch:
		if a.err != nil {
			res.Err = a.err
			return res
		}
		switch a.m {
		case MembershipMember, MembershipNotMember:
			res.Membership = a.m
		}
		return res
	case <-ctx.Done():
		res.Err = fmt.Errorf("%w: %v", ErrCheckTimeout, ctx.Err())
		return res
	}
}

func (e *Engine) outcomeForStoreErr(step, sessionID string, err error) Outcome {
	switch {
	case errors.Is(err, session.ErrExpired):
		return OutcomeExpired
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrInvalidInput):
		return OutcomeInvalidSession
	default:
		e.log.Error("verify.store.fail", "step", step, "session_id", sessionID, "err", err)
		return OutcomeInvalidSession
	}
}

// verifiedBy reports Verified only to the user the session was verified for.
func verifiedBy(sess session.Session, user identity.User) Outcome {
	if sess.User != nil && sess.User.ID == user.ID {
		return OutcomeVerified
	}
	return OutcomeInvalidSession
}
