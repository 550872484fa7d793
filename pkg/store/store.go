// Package store persists the endpoint configuration (server URL and security
// token) over a pluggable key-value backend. Absent values fall back to the
// built-in defaults.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/webshell-bridge/pkg/events"
)

const logPrefix = "store:store"

// Persisted keys.
const (
	KeyServerURL     = "server_url_preference"
	KeySecurityToken = "security_token_preference"
)

// EndpointConfig is the persisted endpoint configuration.
type EndpointConfig struct {
	ServerURL     string `json:"serverUrl"`
	SecurityToken string `json:"securityToken"`
}

// Backend is a string key-value store. Get reports ok=false for absent keys.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Store reads and writes EndpointConfig. Reads are served from a write-through
// cache after the first access so the owning session never waits on the backend
// for a read. Safe for concurrent use.
type Store struct {
	backend   Backend
	defaults  EndpointConfig
	publisher events.EventPublisher

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Store. A nil publisher disables change events.
func New(backend Backend, defaults EndpointConfig, publisher events.EventPublisher) *Store {
	if publisher == nil {
		publisher = events.NoOpPublisher{}
	}
	return &Store{
		backend:   backend,
		defaults:  defaults,
		publisher: publisher,
		cache:     make(map[string]string),
	}
}

// Defaults returns the built-in endpoint configuration.
func (s *Store) Defaults() EndpointConfig {
	return s.defaults
}

// Load returns the persisted configuration with defaults applied per field.
func (s *Store) Load(ctx context.Context) (EndpointConfig, error) {
	serverURL, err := s.get(ctx, KeyServerURL, s.defaults.ServerURL)
	if err != nil {
		return EndpointConfig{}, err
	}
	token, err := s.get(ctx, KeySecurityToken, s.defaults.SecurityToken)
	if err != nil {
		return EndpointConfig{}, err
	}
	return EndpointConfig{ServerURL: serverURL, SecurityToken: token}, nil
}

// ServerURL returns the persisted server URL or the default.
func (s *Store) ServerURL(ctx context.Context) (string, error) {
	return s.get(ctx, KeyServerURL, s.defaults.ServerURL)
}

// SecurityToken returns the persisted security token or the default.
func (s *Store) SecurityToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeySecurityToken, s.defaults.SecurityToken)
}

// SetServerURL persists a new server URL and publishes an EndpointChangedEvent.
func (s *Store) SetServerURL(ctx context.Context, serverURL string, reason events.ChangeReason) error {
	previous, err := s.ServerURL(ctx)
	if err != nil {
		return err
	}
	if err := s.put(ctx, KeyServerURL, serverURL); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Server URL set to %s (%s)", logPrefix, serverURL, reason))
	s.publish(ctx, events.NewEndpointChangedEvent(serverURL, previous, reason))
	return nil
}

// SetSecurityToken persists a new security token.
func (s *Store) SetSecurityToken(ctx context.Context, token string) error {
	if err := s.put(ctx, KeySecurityToken, token); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Security token updated", logPrefix))
	return nil
}

// ResetServerURL removes the persisted server URL so the default applies again.
func (s *Store) ResetServerURL(ctx context.Context) error {
	previous, err := s.ServerURL(ctx)
	if err != nil {
		return err
	}
	if err := s.delete(ctx, KeyServerURL); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Server URL reset to default %s", logPrefix, s.defaults.ServerURL))
	s.publish(ctx, events.NewEndpointChangedEvent(s.defaults.ServerURL, previous, events.ReasonReset))
	return nil
}

// ResetSecurityToken removes the persisted security token so the default applies again.
func (s *Store) ResetSecurityToken(ctx context.Context) error {
	if err := s.delete(ctx, KeySecurityToken); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Security token reset to default", logPrefix))
	return nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) get(ctx context.Context, key, def string) (string, error) {
	s.mu.RLock()
	v, cached := s.cache[key]
	s.mu.RUnlock()
	if !cached {
		stored, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("%s - failed to read %s: %w", logPrefix, key, err)
		}
		if !ok {
			stored = ""
		}
		s.mu.Lock()
		s.cache[key] = stored
		s.mu.Unlock()
		v = stored
	}
	if v == "" {
		return def, nil
	}
	return v, nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	if err := s.backend.Put(ctx, key, value); err != nil {
		return fmt.Errorf("%s - failed to write %s: %w", logPrefix, key, err)
	}
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("%s - failed to delete %s: %w", logPrefix, key, err)
	}
	s.mu.Lock()
	s.cache[key] = ""
	s.mu.Unlock()
	return nil
}

// publish logs instead of failing: the value is already persisted.
func (s *Store) publish(ctx context.Context, event *events.EndpointChangedEvent) {
	if err := s.publisher.PublishChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish endpoint change: %v", logPrefix, err))
	}
}
