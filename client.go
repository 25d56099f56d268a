package scout

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
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "scout",
})

const (
	DefaultBaseURL = "https://api.scoutalarm.com"
	timeout        = 15 * time.Second
)

// ErrUnauthorized is returned when the API rejects the credentials or token.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the Scout API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	lock     sync.Mutex
	token    string
	memberID string
	expires  time.Time
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func New(email, password string, opts ...Option) *Client {
	cli := &Client{
		baseURL:    DefaultBaseURL,
		email:      email,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Token returns a valid session token, authenticating if the cached one is
// missing or expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.token != "" && (c.expires.IsZero() || time.Now().Before(c.expires)) {
		return c.token, nil
	}
	if c.token != "" {
		log.Info("session token expired")
	}

	log.Debug("requesting auth token")
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		JWT string `json:"jwt"`
	}
	if err := c.send(req, &result); err != nil {
		return "", fmt.Errorf("could not authenticate: %w", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(result.JWT, claims); err != nil {
		return "", fmt.Errorf("could not decode auth token: %w", err)
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return "", fmt.Errorf("auth token has no member id")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("could not decode auth token: %w", err)
	}

	c.token = result.JWT
	c.memberID = id
	c.expires = time.Time{}
	if exp != nil {
		c.expires = exp.Time
	}
	return c.token, nil
}

// MemberID returns the id of the authenticated member.
func (c *Client) MemberID(ctx context.Context) (string, error) {
	if _, err := c.Token(ctx); err != nil {
		return "", err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.memberID, nil
}

func (c *Client) Locations(ctx context.Context, memberID string) ([]Location, error) {
	var locations []Location
	if err := c.get(ctx, path("members", memberID, "locations"), &locations); err != nil {
		return nil, fmt.Errorf("could not get locations: %w", err)
	}
	return locations, nil
}

func (c *Client) Hub(ctx context.Context, locationID string) (Hub, error) {
	var hub Hub
	if err := c.get(ctx, path("locations", locationID, "hub"), &hub); err != nil {
		return Hub{}, fmt.Errorf("could not get hub: %w", err)
	}
	return hub, nil
}

func (c *Client) Devices(ctx context.Context, locationID string) ([]Device, error) {
	var devices []Device
	if err := c.get(ctx, path("locations", locationID, "devices"), &devices); err != nil {
		return nil, fmt.Errorf("could not get devices: %w", err)
	}
	return devices, nil
}

func (c *Client) Modes(ctx context.Context, locationID string) ([]Mode, error) {
	var modes []Mode
	if err := c.get(ctx, path("locations", locationID, "modes"), &modes); err != nil {
		return nil, fmt.Errorf("could not get modes: %w", err)
	}
	return modes, nil
}

// ToggleMode arms or disarms a mode. It is not retried.
func (c *Client) ToggleMode(ctx context.Context, modeID string, state ModeStateUpdate) error {
	log.Debug("toggle mode", "mode", modeID, "state", state)
	if err := c.call(ctx, http.MethodPost, path("modes", modeID), map[string]string{
		"state": string(state),
	}, nil); err != nil {
		return fmt.Errorf("could not %s mode %s: %w", state, modeID, err)
	}
	return nil
}

// Chirp makes the hub chirp once. It is not retried.
func (c *Client) Chirp(ctx context.Context, hubID string) error {
	log.Debug("chirp", "hub", hubID)
	if err := c.call(ctx, http.MethodPut, path("hubs", hubID, "chirp"), map[string]string{
		"type": "single",
	}, nil); err != nil {
		return fmt.Errorf("could not chirp hub %s: %w", hubID, err)
	}
	return nil
}

// PusherAuth signs a private channel subscription for the realtime listener.
func (c *Client) PusherAuth(ctx context.Context, socketID, channel string) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/pusher", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("could not create pusher auth request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result struct {
		Auth string `json:"auth"`
	}
	if err := c.send(req, &result); err != nil {
		return "", fmt.Errorf("could not authorize channel %s: %w", channel, err)
	}
	return result.Auth, nil
}

func (c *Client) get(ctx context.Context, p string, out any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 5
	bo.MaxElapsedTime = time.Minute

	return backoff.RetryNotify(func() error {
		err := c.call(ctx, http.MethodGet, p, nil, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		log.Warn("request failed, retrying", "path", p, "in", d, "err", err)
	})
}

func (c *Client) call(ctx context.Context, method, p string, in, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		bts, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		body = bytes.NewReader(bts)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+p, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	err = c.send(req, out)
	if errors.Is(err, ErrUnauthorized) {
		// forces a new token on the next call
		c.lock.Lock()
		c.token = ""
		c.lock.Unlock()
	}
	return err
}

func (c *Client) send(req *http.Request, out any) error {
	requestCounter.Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestErrorCounter.Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestErrorCounter.Inc()
		bts, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bts))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

func path(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}
