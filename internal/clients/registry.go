// Package clients manages registered API clients: credential issuance,
// key lookup on the request path, and per-request usage accounting.
package clients

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/suifx/faucet/internal/store"
)

// ErrInvalidRegistration marks a registration rejected for bad input, as
// opposed to a persistence failure.
var ErrInvalidRegistration = errors.New("invalid registration")

// Credential shapes. The prefix makes leaked keys greppable and lets the
// auth middleware reject junk before touching the database.
const (
	credentialPrefix = "suifx_"
	clientIDHexLen   = 32
	apiKeyHexLen     = 48
	secretHexLen     = 64
)

// Registration input bounds.
const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// Registry issues and resolves API client credentials.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logger}
}

// NewClient describes a registration request.
type NewClient struct {
	Name              string
	Description       string
	HomepageURL       string
	CallbackURL       string
	RateLimitOverride *int
}

// Register mints credentials and persists the client. The returned record
// carries the plaintext key and secret; this is the only time they are
// available, handlers must not store them anywhere else.
func (r *Registry) Register(ctx context.Context, req NewClient) (*store.APIClient, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: client name must be 1-%d characters", ErrInvalidRegistration, maxNameLen)
	}
	desc := strings.TrimSpace(req.Description)
	if len(desc) > maxDescriptionLen {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRegistration, maxDescriptionLen)
	}
	homepage, err := normalizeURL(req.HomepageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: homepage_url %s", ErrInvalidRegistration, err)
	}
	callback, err := normalizeURL(req.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: callback_url %s", ErrInvalidRegistration, err)
	}

	client := store.APIClient{
		ClientID:          credentialPrefix + randomHex(clientIDHexLen),
		APIKey:            credentialPrefix + randomHex(apiKeyHexLen),
		ClientSecret:      randomHex(secretHexLen),
		Name:              name,
		Description:       desc,
		HomepageURL:       homepage,
		CallbackURL:       callback,
		IsActive:          true,
		RateLimitOverride: req.RateLimitOverride,
		CreatedAt:         time.Now().UTC(),
	}
	if err := r.store.CreateAPIClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to persist client: %w", err)
	}

	r.logger.Info("client_registered",
		slog.String("client_id", client.ClientID),
		slog.String("name", client.Name),
	)
	return &client, nil
}

// Authenticate resolves an API key to its client. A nil client with nil
// error means the key is unknown; inactive clients are returned so the
// caller can distinguish revoked from invalid.
func (r *Registry) Authenticate(ctx context.Context, apiKey string) (*store.APIClient, error) {
	if !strings.HasPrefix(apiKey, credentialPrefix) {
		return nil, nil
	}
	return r.store.FindAPIClientByKey(ctx, apiKey)
}

// Touch bumps the client's request counter. Failures are logged, never
// surfaced: accounting must not break the request.
func (r *Registry) Touch(ctx context.Context, clientID string) {
	if err := r.store.IncrementClientUsage(ctx, clientID, time.Now().UTC()); err != nil {
		r.logger.Warn("client_usage_increment_failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns one client by ID, nil when unknown.
func (r *Registry) Get(ctx context.Context, clientID string) (*store.APIClient, error) {
	return r.store.FindAPIClientByID(ctx, clientID)
}

// List pages through registered clients, newest first.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]store.APIClient, error) {
	return r.store.ListAPIClients(ctx, limit, offset)
}

// Deactivate revokes a client's access. store.ErrNotFound passes through
// for unknown IDs.
func (r *Registry) Deactivate(ctx context.Context, clientID string) error {
	if err := r.store.DeactivateAPIClient(ctx, clientID); err != nil {
		return err
	}
	r.logger.Info("client_deactivated", slog.String("client_id", clientID))
	return nil
}

// RotateKey replaces the client's API key and returns the new plaintext
// key. The old key stops resolving immediately.
func (r *Registry) RotateKey(ctx context.Context, clientID string) (string, error) {
	newKey := credentialPrefix + randomHex(apiKeyHexLen)
	if err := r.store.UpdateAPIClientKey(ctx, clientID, newKey); err != nil {
		return "", err
	}
	r.logger.Info("client_key_rotated", slog.String("client_id", clientID))
	return newKey, nil
}

// Usage returns the client's most recent request rows.
func (r *Registry) Usage(ctx context.Context, clientID string, limit int) ([]store.ClientUsage, error) {
	return r.store.ListClientUsage(ctx, clientID, limit)
}

// normalizeURL trims the input and, when non-empty, requires an absolute
// http or https URL.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("not a valid URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("must be an absolute http(s) URL")
	}
	return raw, nil
}

func randomHex(hexLen int) string {
	buf := make([]byte, hexLen/2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
