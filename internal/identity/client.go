package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for identity platform failures.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserExists          = errors.New("user already registered")
	ErrRejected            = errors.New("request rejected by identity platform")
	ErrPlatformUnavailable = errors.New("identity platform unavailable")
	ErrPlatformTimeout     = errors.New("identity platform timeout")
)

// Client issues and refreshes sessions on the external identity platform.
// The access pipeline never calls it; only the auth endpoints do.
type Client interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SetMembership(ctx context.Context, userID string, tenantID uuid.UUID, role string) error
	SignOut(ctx context.Context, accessToken string) error
	Ready(ctx context.Context) error
}

// Session is a token pair issued by the platform. AccessToken is empty when
// sign-up is waiting on email confirmation.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// HTTPClient implements Client against a GoTrue-compatible REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	serviceKey string
	client     *http.Client
}

// NewHTTPClient creates a new identity platform client. apiKey is the public
// project key; serviceKey authorizes admin calls.
func NewHTTPClient(baseURL, apiKey, serviceKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: timeout},
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", c.apiKey,
		credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return decodeSession(resp.Body)
}

func (c *HTTPClient) SignUp(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/signup", c.apiKey,
		credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		pe := readPlatformError(resp.Body)
		if resp.StatusCode == http.StatusConflict || pe.ErrorCode == "user_already_exists" ||
			strings.Contains(strings.ToLower(pe.message()), "already registered") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, pe.message())
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return decodeSession(resp.Body)
}

func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", c.apiKey,
		map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return decodeSession(resp.Body)
}

// SetMembership records the user's tenant and role in app metadata, which the
// platform copies into subsequently issued access tokens.
func (c *HTTPClient) SetMembership(ctx context.Context, userID string, tenantID uuid.UUID, role string) error {
	body := map[string]any{
		"app_metadata": map[string]string{
			"tenant_id": tenantID.String(),
			"role":      role,
		},
	}
	resp, err := c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(userID), c.serviceKey, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s", ErrRejected, readPlatformError(resp.Body).message())
	}
	return checkStatus(resp)
}

func (c *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidCredentials
	}
	return checkStatus(resp)
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/auth/v1/health", c.apiKey, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: not ready (status %d)", ErrPlatformUnavailable, resp.StatusCode)
	}
	return nil
}

// do sends a JSON request. bearer goes in the Authorization header; the
// project key always goes in apikey.
func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

type platformError struct {
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e platformError) message() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Error != "":
		return e.Error
	default:
		return "unknown error"
	}
}

func readPlatformError(r io.Reader) platformError {
	var pe platformError
	_ = json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&pe)
	return pe
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrPlatformUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
}

// decodeSession accepts both a session body and the bare user body returned
// when sign-up awaits confirmation.
func decodeSession(r io.Reader) (*Session, error) {
	var raw struct {
		Session
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding identity response: %w", err)
	}
	s := raw.Session
	if s.User.ID == "" {
		s.User = User{ID: raw.ID, Email: raw.Email}
	}
	return &s, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrPlatformTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrPlatformTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
}

var _ Client = (*HTTPClient)(nil)
