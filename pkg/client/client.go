// Package client is the Go SDK for the declaration API. It carries the same
// lifecycle and authorization rules as the server (via internal/models), so
// callers fail fast on invalid transitions instead of burning a round trip.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

// TokenStore holds the session credential between calls.
type TokenStore interface {
	Token() string
	SetToken(token string)
	Clear()
}

// MemoryTokenStore is the default in-process TokenStore.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// Token returns the stored credential.
func (s *MemoryTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores a credential.
func (s *MemoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear removes the stored credential.
func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithTokenStore overrides the credential store.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) { c.tokens = store }
}

// Client is an HTTP client for the declaration API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

// New constructs a Client for the given base URL, which should include the
// API prefix (e.g. "http://localhost:5000/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  &MemoryTokenStore{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens exposes the credential store, shared with the Session.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (*models.Pagination, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		if res.StatusCode >= 400 {
			return nil, appErrors.New(appErrors.ErrInternal.Code, res.StatusCode, "request failed")
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if env.Error != nil || res.StatusCode >= 400 {
		if res.StatusCode == http.StatusUnauthorized {
			// The credential is dead; stop presenting it.
			c.tokens.Clear()
		}
		if env.Error != nil && env.Error.Message != "" {
			return nil, env.Error
		}
		return nil, appErrors.New(appErrors.ErrInternal.Code, res.StatusCode, "request failed")
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode response data: %w", err)
		}
	}
	return env.Pagination, nil
}

// Login authenticates and stores the issued token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var res models.AuthResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	c.tokens.SetToken(res.Token)
	return &res, nil
}

// Register creates a citizen account and stores the issued token.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	var res models.AuthResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/register", req, &res); err != nil {
		return nil, err
	}
	c.tokens.SetToken(res.Token)
	return &res, nil
}

// Me returns the current principal.
func (c *Client) Me(ctx context.Context) (*models.Principal, error) {
	var principal models.Principal
	if _, err := c.do(ctx, http.MethodGet, "/auth/me", nil, &principal); err != nil {
		return nil, err
	}
	return &principal, nil
}

// Commissariats lists the public station directory.
func (c *Client) Commissariats(ctx context.Context) ([]models.Commissariat, error) {
	var commissariats []models.Commissariat
	if _, err := c.do(ctx, http.MethodGet, "/commissariats", nil, &commissariats); err != nil {
		return nil, err
	}
	return commissariats, nil
}

// MyDeclarations lists the caller's declarations.
func (c *Client) MyDeclarations(ctx context.Context) ([]models.Declaration, error) {
	var declarations []models.Declaration
	if _, err := c.do(ctx, http.MethodGet, "/declarations/my-declarations", nil, &declarations); err != nil {
		return nil, err
	}
	return declarations, nil
}

// CommissariatDeclarations lists declarations routed to a commissariat.
func (c *Client) CommissariatDeclarations(ctx context.Context, commissariatID string) ([]models.Declaration, error) {
	var declarations []models.Declaration
	if _, err := c.do(ctx, http.MethodGet, "/declarations/commissariat/"+commissariatID, nil, &declarations); err != nil {
		return nil, err
	}
	return declarations, nil
}

// Reject rejects a pending declaration. The reason is validated before any
// network traffic: an empty or blank reason never leaves the process.
func (c *Client) Reject(ctx context.Context, declarationID, reason string) (*models.Declaration, error) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reject reason is required")
	}

	var declaration models.Declaration
	payload := dto.UpdateStatusRequest{Status: models.StatusRejected, RejectReason: trimmed}
	if _, err := c.do(ctx, http.MethodPut, "/declarations/"+declarationID+"/status", payload, &declaration); err != nil {
		return nil, err
	}
	return &declaration, nil
}

// IssueReceipt issues the receipt for a pending declaration. Refused locally
// when issuance is already known to be impossible.
func (c *Client) IssueReceipt(ctx context.Context, declaration *models.Declaration) (*dto.ReceiptIssueResponse, error) {
	if declaration != nil && !models.CanIssueReceipt(declaration) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "receipt cannot be issued for this declaration")
	}
	id := ""
	if declaration != nil {
		id = declaration.ID
	}

	var res dto.ReceiptIssueResponse
	if _, err := c.do(ctx, http.MethodPost, "/declarations/"+id+"/receipt", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteDeclaration removes one of the caller's declarations.
func (c *Client) DeleteDeclaration(ctx context.Context, declarationID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/declarations/"+declarationID, nil, nil)
	return err
}

// PendingCount reads the commissariat's pending counter.
func (c *Client) PendingCount(ctx context.Context, commissariatID string) (*dto.PendingCountResponse, error) {
	var res dto.PendingCountResponse
	if _, err := c.do(ctx, http.MethodGet, "/declarations/commissariat/"+commissariatID+"/pending-count", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
