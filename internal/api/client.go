// Package api is the REST client for the token-data service. The ambient
// request path attaches the stored bearer credential and transparently
// refreshes it once on 401; the final-flush path carries the credential
// explicitly and performs its own refresh-retry so it stays usable during
// process teardown.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"token-tally/internal/auth"
	"token-tally/internal/model"
)

// ErrUnauthorized is returned when the service rejects the credential and a
// refresh did not help.
var ErrUnauthorized = errors.New("unauthorized")

// envelope is the service's uniform response wrapper.
type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Errors  map[string][]string `json:"errors"`
	Error   string              `json:"error"`
}

// User is the authenticated account as returned by /login and /me.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// SaveResult reports the outcome of a successful slot save.
type SaveResult struct {
	Created bool // true for HTTP 201 (new record), false for 200 (update)
	Message string
}

// ListParams are the optional filters for GET /token-data.
type ListParams struct {
	Page      int
	PerPage   int
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	TimeSlot  string // HH:MM
}

// ListResult is one page of flushed records.
type ListResult struct {
	Records    []model.Record `json:"data"`
	Page       int            `json:"current_page"`
	PerPage    int            `json:"per_page"`
	Total      int            `json:"total"`
	TotalPages int            `json:"last_page"`
}

// Client talks to the token-data service.
type Client struct {
	baseURL string
	store   *auth.Store
	http    *http.Client
	final   *http.Client
}

// New creates a Client for the given base URL using store for credentials.
func New(baseURL string, store *auth.Store) *Client {
	return &Client{
		baseURL: baseURL,
		store:   store,
		http:    &http.Client{Timeout: 30 * time.Second},
		// The final-flush client keeps a short deadline so shutdown is
		// never held hostage by a dead network.
		final: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// do sends one request with the given bearer and decodes the envelope.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path, bearer string, body []byte, query url.Values) (int, *envelope, error) {
	u := c.endpoint(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("api request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, &env, nil
}

// authed sends a request through the ambient path: attach the stored bearer,
// and on 401 refresh once and retry with the new credential. A failed
// refresh clears the stored credentials. A token known to be expired is
// refreshed up front to spare the round trip; if that fails the request is
// still attempted and the 401 path decides.
func (c *Client) authed(ctx context.Context, method, path string, body []byte, query url.Values) (int, *envelope, error) {
	tok, err := c.store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		tok = nil
	}
	if tok != nil && tok.RefreshToken != "" && !auth.Valid(tok, time.Now()) {
		if refreshed, err := c.refreshWith(ctx, c.http, tok); err == nil {
			tok = refreshed
		}
	}
	bearer, err := auth.Bearer(tok)
	if err != nil {
		return 0, nil, err
	}

	status, env, err := c.do(ctx, c.http, method, path, bearer, body, query)
	if err != nil {
		return status, env, err
	}
	if status != http.StatusUnauthorized {
		return status, env, nil
	}

	refreshed, err := c.refreshWith(ctx, c.http, tok)
	if err != nil {
		_ = c.store.Clear()
		return status, env, fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
	}
	return c.do(ctx, c.http, method, path, refreshed.AccessToken, body, query)
}

// refreshWith exchanges the refresh credential for a new token pair and
// persists it. Malformed token material in the response is rejected.
func (c *Client) refreshWith(ctx context.Context, hc *http.Client, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		return nil, auth.ErrNoCredentials
	}
	status, env, err := c.do(ctx, hc, http.MethodPost, "/refresh", tok.RefreshToken, []byte("{}"), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || env == nil || !env.Success {
		return nil, fmt.Errorf("refresh rejected (HTTP %d)", status)
	}

	var data struct {
		AccessToken  json.RawMessage `json:"access_token"`
		RefreshToken json.RawMessage `json:"refresh_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	access, err := auth.SanitizeToken(data.AccessToken, "access_token", true)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.SanitizeToken(data.RefreshToken, "refresh_token", false)
	if err != nil {
		return nil, err
	}
	if refresh == "" {
		refresh = tok.RefreshToken
	}

	next := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if err := c.store.Save(next); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save refreshed token: %v\n", err)
	}
	return next, nil
}

// Refresh forces a credential refresh using the stored pair.
func (c *Client) Refresh(ctx context.Context) error {
	tok, err := c.store.Load()
	if err != nil {
		return err
	}
	_, err = c.refreshWith(ctx, c.http, tok)
	return err
}

// Login authenticates and persists the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	status, env, err := c.do(ctx, c.http, http.MethodPost, "/login", "", body, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || env == nil || !env.Success {
		return nil, loginError(status, env)
	}

	var data struct {
		User         User            `json:"user"`
		AccessToken  json.RawMessage `json:"access_token"`
		RefreshToken json.RawMessage `json:"refresh_token"`
		ExpiresIn    int             `json:"expires_in"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	access, err := auth.SanitizeToken(data.AccessToken, "access_token", true)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.SanitizeToken(data.RefreshToken, "refresh_token", false)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if data.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(data.ExpiresIn) * time.Second)
	}
	if err := c.store.Save(tok); err != nil {
		return nil, err
	}
	return &data.User, nil
}

func loginError(status int, env *envelope) error {
	if env != nil && env.Message != "" {
		return fmt.Errorf("login failed (HTTP %d): %s", status, env.Message)
	}
	return fmt.Errorf("login failed (HTTP %d)", status)
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	status, env, err := c.authed(ctx, http.MethodGet, "/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || env == nil || !env.Success {
		return nil, fmt.Errorf("me failed (HTTP %d)", status)
	}
	var data struct {
		User User `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding me response: %w", err)
	}
	return &data.User, nil
}

// Logout invalidates the server session. Local credential clearing is the
// caller's responsibility so it also happens when the request fails.
func (c *Client) Logout(ctx context.Context) error {
	status, _, err := c.authed(ctx, http.MethodPost, "/logout", []byte("{}"), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("logout failed (HTTP %d)", status)
	}
	return nil
}

// Save posts one slot payload through the ambient path. Both 200 (record
// updated) and 201 (record created) are success.
func (c *Client) Save(ctx context.Context, p model.SlotPayload) (SaveResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshalling payload: %w", err)
	}
	status, env, err := c.authed(ctx, http.MethodPost, "/token-data", body, nil)
	if err != nil {
		return SaveResult{}, err
	}
	return saveOutcome(status, env)
}

// SaveFinal posts one slot payload through the teardown path: a bare
// short-deadline client, the credential set explicitly on the request, and
// an inline refresh-retry on 401. No ambient helper is involved so the call
// stays self-contained during shutdown.
func (c *Client) SaveFinal(ctx context.Context, p model.SlotPayload) (SaveResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshalling payload: %w", err)
	}
	tok, err := c.store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		tok = nil
	}
	bearer, err := auth.Bearer(tok)
	if err != nil {
		return SaveResult{}, err
	}

	status, env, err := c.do(ctx, c.final, http.MethodPost, "/token-data", bearer, body, nil)
	if err != nil {
		return SaveResult{}, err
	}
	if status == http.StatusUnauthorized {
		refreshed, rerr := c.refreshWith(ctx, c.final, tok)
		if rerr != nil {
			_ = c.store.Clear()
			return SaveResult{}, fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, rerr)
		}
		status, env, err = c.do(ctx, c.final, http.MethodPost, "/token-data", refreshed.AccessToken, body, nil)
		if err != nil {
			return SaveResult{}, err
		}
	}
	return saveOutcome(status, env)
}

func saveOutcome(status int, env *envelope) (SaveResult, error) {
	switch status {
	case http.StatusOK, http.StatusCreated:
		msg := ""
		if env != nil {
			msg = env.Message
		}
		return SaveResult{Created: status == http.StatusCreated, Message: msg}, nil
	case http.StatusUnauthorized:
		return SaveResult{}, ErrUnauthorized
	default:
		if env != nil && env.Message != "" {
			return SaveResult{}, fmt.Errorf("save failed (HTTP %d): %s", status, env.Message)
		}
		return SaveResult{}, fmt.Errorf("save failed (HTTP %d)", status)
	}
}

// Update replaces a flushed record's entries (manual correction).
func (c *Client) Update(ctx context.Context, id int64, entries []model.WireEntry) error {
	body, err := json.Marshal(map[string]any{"entries": entries})
	if err != nil {
		return fmt.Errorf("marshalling entries: %w", err)
	}
	status, env, err := c.authed(ctx, http.MethodPut, fmt.Sprintf("/token-data/%d", id), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK || env == nil || !env.Success {
		return fmt.Errorf("update failed (HTTP %d)", status)
	}
	return nil
}

// List fetches one page of flushed records with optional filters.
func (c *Client) List(ctx context.Context, p ListParams) (*ListResult, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.StartDate != "" {
		q.Set("start_date", p.StartDate)
	}
	if p.EndDate != "" {
		q.Set("end_date", p.EndDate)
	}
	if p.TimeSlot != "" {
		q.Set("time_slot", p.TimeSlot)
	}
	status, env, err := c.authed(ctx, http.MethodGet, "/token-data", nil, q)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || env == nil || !env.Success {
		return nil, fmt.Errorf("list failed (HTTP %d)", status)
	}
	var res ListResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	return &res, nil
}

// ByDate fetches the records flushed on one calendar date.
func (c *Client) ByDate(ctx context.Context, date string) ([]model.Record, error) {
	status, env, err := c.authed(ctx, http.MethodGet, "/token-data/date/"+date, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || env == nil || !env.Success {
		return nil, fmt.Errorf("fetch by date failed (HTTP %d)", status)
	}
	var recs []model.Record
	if err := json.Unmarshal(env.Data, &recs); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return recs, nil
}
