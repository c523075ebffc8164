// Package session holds the operator's console session: sign-in state,
// settings and the last-used approver name. A Session is opened once at
// startup and closed on shutdown; nothing in it is global.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

// ResetSettingsPrompt is the confirmation question for restoring defaults.
const ResetSettingsPrompt = "Reset all settings to defaults?"

// ErrClosed is returned by operations on a session that is not open.
var ErrClosed = errors.New("session: not open")

// LoginResult is returned by a successful sign-in.
type LoginResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      model.SessionUser `json:"user"`
}

// Session is the console's application session.
type Session struct {
	store   Store
	creds   Credentials
	tokens  *Tokens
	logger  *zap.Logger
	metrics *observability.Metrics

	mu         sync.RWMutex
	open       bool
	auth       model.SessionAuth
	settings   model.Settings
	approver   string
	onSettings []func(model.Settings)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New creates a closed session. Call Open before use.
func New(store Store, creds Credentials, tokens *Tokens, opts ...Option) *Session {
	s := &Session{
		store:    store,
		creds:    creds,
		tokens:   tokens,
		logger:   zap.NewNop(),
		settings: model.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSettingsChange registers fn to run after settings are loaded, saved or
// reset. Register before Open.
func (s *Session) OnSettingsChange(fn func(model.Settings)) {
	s.mu.Lock()
	s.onSettings = append(s.onSettings, fn)
	s.mu.Unlock()
}

// Open reads the persisted sign-in state, settings and approver name.
// Unreadable values fall back to their defaults.
func (s *Session) Open(ctx context.Context) error {
	var auth model.SessionAuth
	if _, err := s.loadJSON(ctx, KeyAuth, &auth); err != nil {
		return err
	}
	if !auth.IsAuthenticated || auth.User == nil || auth.SessionID == "" {
		auth = model.SessionAuth{}
	}

	settings := model.DefaultSettings()
	if _, err := s.loadJSON(ctx, KeySettings, &settings); err != nil {
		return err
	}
	if errs := settings.Validate(); len(errs) > 0 {
		s.logger.Warn("session: persisted settings out of range, using defaults",
			zap.Int("field_errors", len(errs)))
		settings = model.DefaultSettings()
	}

	approver, _, err := s.store.Load(ctx, KeyApprover)
	if err != nil {
		return fmt.Errorf("session: load approver: %w", err)
	}

	s.mu.Lock()
	s.open = true
	s.auth = auth
	s.settings = settings
	s.approver = string(approver)
	hooks := append([]func(model.Settings){}, s.onSettings...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(settings)
	}
	s.logger.Info("session opened", zap.Bool("authenticated", auth.IsAuthenticated))
	return nil
}

// loadJSON decodes key into out. A corrupt value is logged and ignored.
func (s *Session) loadJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, found, err := s.store.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("session: load %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("session: ignoring unreadable value", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *Session) saveJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	if err := s.store.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("session: save %s: %w", key, err)
	}
	return nil
}

// Close ends the in-process session. The persisted sign-in survives so the
// next Open restores it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.auth = model.SessionAuth{}
	s.approver = ""
	s.settings = model.DefaultSettings()
}

// IsOpen reports whether Open has run and Close has not.
func (s *Session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Auth returns the current sign-in state.
func (s *Session) Auth() model.SessionAuth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

// Login checks the operator credential and issues a session token. Signing in
// again while signed in keeps the current session.
func (s *Session) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, model.NewBadRequestError("username and password are required")
	}
	if !s.IsOpen() {
		return LoginResult{}, ErrClosed
	}
	if err := s.creds.Check(username, password); err != nil {
		s.metrics.RecordSessionLogin("failure")
		s.logger.Warn("session: sign-in rejected", zap.String("username", username))
		return LoginResult{}, model.NewUnauthorizedError("Invalid username or password")
	}

	s.mu.Lock()
	auth := s.auth
	if !auth.IsAuthenticated || auth.User == nil || auth.User.Username != username {
		auth = model.SessionAuth{
			IsAuthenticated: true,
			User:            &model.SessionUser{Username: username},
			SessionID:       uuid.NewString(),
		}
	}
	s.mu.Unlock()

	if err := s.saveJSON(ctx, KeyAuth, auth); err != nil {
		return LoginResult{}, err
	}
	token, exp, err := s.tokens.Issue(username, auth.SessionID)
	if err != nil {
		return LoginResult{}, err
	}

	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()

	s.metrics.RecordSessionLogin("success")
	s.logger.Info("operator signed in", zap.String("username", username), zap.String("session_id", auth.SessionID))
	return LoginResult{Token: token, ExpiresAt: exp, User: *auth.User}, nil
}

// Logout clears the sign-in state. Tokens issued for it stop verifying.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, KeyAuth); err != nil {
		return fmt.Errorf("session: delete %s: %w", KeyAuth, err)
	}
	s.mu.Lock()
	prev := s.auth
	s.auth = model.SessionAuth{}
	s.mu.Unlock()
	if prev.User != nil {
		s.logger.Info("operator signed out", zap.String("username", prev.User.Username))
	}
	return nil
}

// Authenticate verifies a session token against the current sign-in.
func (s *Session) Authenticate(token string) (*model.OperatorContext, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}
	s.mu.RLock()
	auth := s.auth
	open := s.open
	s.mu.RUnlock()
	if !open || !auth.IsAuthenticated || auth.SessionID != claims.SessionID ||
		auth.User == nil || auth.User.Username != claims.Username {
		return nil, model.NewUnauthorizedError("Session ended")
	}
	return &model.OperatorContext{Username: claims.Username, SessionID: claims.SessionID}, nil
}

// Settings returns the current settings.
func (s *Session) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SaveSettings validates and persists settings.
func (s *Session) SaveSettings(ctx context.Context, settings model.Settings) (model.Settings, error) {
	if errs := settings.Validate(); len(errs) > 0 {
		return model.Settings{}, model.NewValidationError(errs)
	}
	if err := s.saveJSON(ctx, KeySettings, settings); err != nil {
		return model.Settings{}, err
	}
	s.applySettings(settings)
	return settings, nil
}

// ResetSettings restores and persists the default settings after explicit
// confirmation.
func (s *Session) ResetSettings(ctx context.Context, confirmed bool) (model.Settings, error) {
	if !confirmed {
		return model.Settings{}, model.NewConfirmationRequiredError(ResetSettingsPrompt)
	}
	defaults := model.DefaultSettings()
	if err := s.saveJSON(ctx, KeySettings, defaults); err != nil {
		return model.Settings{}, err
	}
	s.applySettings(defaults)
	return defaults, nil
}

func (s *Session) applySettings(settings model.Settings) {
	s.mu.Lock()
	s.settings = settings
	hooks := append([]func(model.Settings){}, s.onSettings...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(settings)
	}
}

// Approver returns the last-used approver name.
func (s *Session) Approver() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approver
}

// SetApprover remembers name as the approver. Blank names are not persisted
// and leave the remembered name unchanged.
func (s *Session) SetApprover(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.Approver(), nil
	}
	if err := s.store.Save(ctx, KeyApprover, []byte(name)); err != nil {
		return "", fmt.Errorf("session: save %s: %w", KeyApprover, err)
	}
	s.mu.Lock()
	s.approver = name
	s.mu.Unlock()
	return name, nil
}

// HealthCheck reports whether the backing store is reachable.
func (s *Session) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
