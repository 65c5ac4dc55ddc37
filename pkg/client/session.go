package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

// SessionState is where the session sits in its lifecycle.
type SessionState string

const (
	// SessionUninitialized means Initialize has not run yet.
	SessionUninitialized SessionState = "uninitialized"
	// SessionLoading means a stored token looked plausible and the principal
	// fetch is in flight.
	SessionLoading SessionState = "loading"
	// SessionAuthenticated means the principal is resolved and trusted.
	SessionAuthenticated SessionState = "authenticated"
	// SessionAnonymous means there is no usable credential.
	SessionAnonymous SessionState = "anonymous"
)

// Notice is a user-facing session event, surfaced through a callback rather
// than an error because the session still resolves to a well-defined state.
type Notice string

const (
	// NoticeSessionExpired fires when a previously valid credential has
	// aged out.
	NoticeSessionExpired Notice = "session_expired"
	// NoticeInvalidToken fires when a stored credential is unusable for any
	// other reason.
	NoticeInvalidToken Notice = "invalid_token"
)

// SessionSnapshot is an immutable view of the session for callers.
type SessionSnapshot struct {
	State     SessionState
	Principal *models.Principal
	ExpiresAt time.Time
}

// Session tracks the authenticated principal across calls. State moves
// uninitialized -> loading -> authenticated | anonymous; Logout and a dead
// credential both land back on anonymous.
type Session struct {
	client *Client
	logger *zap.Logger

	mu        sync.RWMutex
	state     SessionState
	principal *models.Principal
	expiresAt time.Time
	notify    func(SessionSnapshot)
	onNotice  func(Notice)
}

// NewSession wraps a Client with session state tracking.
func NewSession(c *Client, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		client: c,
		logger: logger,
		state:  SessionUninitialized,
	}
}

// OnChange registers a callback invoked after every state transition. The
// callback runs without the session lock held.
func (s *Session) OnChange(fn func(SessionSnapshot)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// OnNotice registers a callback for user-facing session events.
func (s *Session) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	s.onNotice = fn
	s.mu.Unlock()
}

func (s *Session) emit(notice Notice) {
	s.mu.RLock()
	fn := s.onNotice
	s.mu.RUnlock()
	if fn != nil {
		fn(notice)
	}
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{State: s.state, Principal: s.principal, ExpiresAt: s.expiresAt}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Principal returns the resolved principal, nil unless authenticated.
func (s *Session) Principal() *models.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

// Initialize restores the session from a stored token. A malformed or
// expired token is discarded without a network call; a plausible one moves
// the session to loading while the principal is fetched and verified
// server-side.
func (s *Session) Initialize(ctx context.Context) SessionSnapshot {
	raw := s.client.Tokens().Token()
	inspection := models.InspectToken(raw)

	switch inspection.State {
	case models.TokenValid:
		// Fall through to the principal fetch below.
	case models.TokenExpired:
		s.logger.Info("stored token expired, clearing session")
		s.client.Tokens().Clear()
		s.emit(NoticeSessionExpired)
		return s.transition(SessionAnonymous, nil, time.Time{})
	default:
		if raw != "" {
			s.logger.Warn("stored token malformed, clearing session")
			s.emit(NoticeInvalidToken)
		}
		s.client.Tokens().Clear()
		return s.transition(SessionAnonymous, nil, time.Time{})
	}

	s.transition(SessionLoading, nil, inspection.ExpiresAt)

	principal, err := s.client.Me(ctx)
	if err != nil {
		s.logger.Warn("principal fetch failed, session reverts to anonymous", zap.Error(err))
		s.client.Tokens().Clear()
		s.emit(NoticeInvalidToken)
		return s.transition(SessionAnonymous, nil, time.Time{})
	}

	principal = s.resolveAgentCommissariat(ctx, principal)
	return s.transition(SessionAuthenticated, principal, inspection.ExpiresAt)
}

// Login authenticates and moves the session to authenticated.
func (s *Session) Login(ctx context.Context, email, password string) (SessionSnapshot, error) {
	s.transition(SessionLoading, nil, time.Time{})

	res, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.transition(SessionAnonymous, nil, time.Time{})
		return s.Snapshot(), err
	}

	principal := s.resolveAgentCommissariat(ctx, &res.Principal)
	expiresAt := res.IssuedAt.Add(time.Duration(res.ExpiresIn) * time.Second)
	return s.transition(SessionAuthenticated, principal, expiresAt), nil
}

// Register creates a citizen account and moves the session to authenticated.
func (s *Session) Register(ctx context.Context, req models.RegisterRequest) (SessionSnapshot, error) {
	s.transition(SessionLoading, nil, time.Time{})

	res, err := s.client.Register(ctx, req)
	if err != nil {
		s.transition(SessionAnonymous, nil, time.Time{})
		return s.Snapshot(), err
	}

	expiresAt := res.IssuedAt.Add(time.Duration(res.ExpiresIn) * time.Second)
	return s.transition(SessionAuthenticated, &res.Principal, expiresAt), nil
}

// Logout discards the credential and returns to anonymous.
func (s *Session) Logout() SessionSnapshot {
	s.client.Tokens().Clear()
	return s.transition(SessionAnonymous, nil, time.Time{})
}

// expire handles a credential that aged out after authentication: same
// teardown as Logout, plus the session-expired notice.
func (s *Session) expire() SessionSnapshot {
	s.client.Tokens().Clear()
	s.emit(NoticeSessionExpired)
	return s.transition(SessionAnonymous, nil, time.Time{})
}

// resolveAgentCommissariat refetches the principal once when an agent comes
// back without a resolved commissariat. The server omits the block when the
// lookup transiently fails, so a single retry usually repairs it.
func (s *Session) resolveAgentCommissariat(ctx context.Context, principal *models.Principal) *models.Principal {
	if principal == nil || principal.Role != models.RoleAgent || principal.Commissariat != nil {
		return principal
	}

	s.logger.Info("agent principal missing commissariat, refetching",
		zap.String("user_id", principal.ID))
	refreshed, err := s.client.Me(ctx)
	if err != nil || refreshed == nil || refreshed.Commissariat == nil {
		s.logger.Warn("commissariat still unresolved after refetch",
			zap.String("user_id", principal.ID), zap.Error(err))
		return principal
	}
	return refreshed
}

func (s *Session) transition(state SessionState, principal *models.Principal, expiresAt time.Time) SessionSnapshot {
	s.mu.Lock()
	s.state = state
	s.principal = principal
	s.expiresAt = expiresAt
	snapshot := SessionSnapshot{State: state, Principal: principal, ExpiresAt: expiresAt}
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return snapshot
}
