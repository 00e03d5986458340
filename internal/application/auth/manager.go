// Package auth holds the session manager the transport layer talks to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryanwahyu/snapsense/internal/application"
	domain "github.com/bryanwahyu/snapsense/internal/domain/auth"
	"github.com/bryanwahyu/snapsense/internal/logging"
)

// Lifecycle of the manager: loading until Init settles, then ready or error.
type Lifecycle string

const (
	Loading Lifecycle = "loading"
	Ready   Lifecycle = "ready"
	Failed  Lifecycle = "error"
)

var ErrNotReady = errors.New("auth is not ready")

type EventKind string

const (
	EventSignedUp  EventKind = "signed_up"
	EventVerified  EventKind = "verified"
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event is delivered to subscribers whenever a session changes.
type Event struct {
	Kind      EventKind
	UserID    string
	Email     string
	SessionID string
	At        time.Time
}

// Manager wraps an auth provider with a lifecycle and change notifications.
// It is created once in main and passed to whoever needs it.
type Manager struct {
	provider domain.Provider
	clock    application.Clock
	log      logging.Logger

	mu      sync.RWMutex
	state   Lifecycle
	initErr error
	subs    map[int]func(Event)
	nextSub int
}

func NewManager(p domain.Provider, clock application.Clock, log logging.Logger) *Manager {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		provider: p,
		clock:    clock,
		log:      log,
		state:    Loading,
		subs:     make(map[int]func(Event)),
	}
}

// Init checks the provider and moves the manager to ready or error.
// It may be called again to recover from error.
func (m *Manager) Init(ctx context.Context) error {
	err := m.provider.Ready(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state, m.initErr = Failed, err
		return fmt.Errorf("auth init: %w", err)
	}
	m.state, m.initErr = Ready, nil
	return nil
}

// Status returns the lifecycle and, when it is Failed, the cause.
func (m *Manager) Status() (Lifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.initErr
}

func (m *Manager) ready() error {
	if st, _ := m.Status(); st != Ready {
		return ErrNotReady
	}
	return nil
}

// Subscribe registers fn for every future event. Call the returned func to stop.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) emit(e Event) {
	e.At = m.clock.Now()

	m.mu.RLock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *Manager) SignUp(ctx context.Context, email, password string) (*domain.User, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	u, err := m.provider.SignUp(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, err
	}
	m.emit(Event{Kind: EventSignedUp, UserID: u.ID, Email: u.Email})
	return u, nil
}

func (m *Manager) Verify(ctx context.Context, email, code string) (*domain.User, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	u, err := m.provider.Verify(ctx, normalizeEmail(email), strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	m.emit(Event{Kind: EventVerified, UserID: u.ID, Email: u.Email})
	return u, nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	s, err := m.provider.SignIn(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, err
	}
	m.log.Info(ctx, "signed in", "user_id", s.UserID)
	m.emit(Event{Kind: EventSignedIn, UserID: s.UserID, Email: s.Email, SessionID: s.ID})
	return s, nil
}

func (m *Manager) SignOut(ctx context.Context, s *domain.Session) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.provider.SignOut(ctx, s.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	m.emit(Event{Kind: EventSignedOut, UserID: s.UserID, Email: s.Email, SessionID: s.ID})
	return nil
}

// Resolve turns a bearer token into the current session.
func (m *Manager) Resolve(ctx context.Context, token string) (*domain.Session, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	s, err := m.provider.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.clock.Now()) {
		return nil, domain.ErrSessionExpired
	}
	return s, nil
}
