// Package cloud is the HTTP client for the depot dispatch API. It keeps the
// server session cookie and maps responses onto the error taxonomy the flow
// relies on: expired auth, server rejections and other failures.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agsys/depot-dispatch/internal/model"
)

const maxBodySize = 8 << 20

// Config holds API client configuration
type Config struct {
	BaseURL     string        // Server root (https://depot.example)
	HTTPTimeout time.Duration // Timeout for each request
	UserAgent   string
}

// DefaultConfig returns default API client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:5000",
		HTTPTimeout: 30 * time.Second,
		UserAgent:   "depot-dispatch/0.1",
	}
}

// Client talks to the dispatch API
type Client struct {
	config     Config
	base       *url.URL
	httpClient *http.Client
	jar        http.CookieJar
	log        *logrus.Logger
}

// New creates a new API client
func New(config Config, log *logrus.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid server base URL")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("server base URL %q must be absolute", config.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}

	return &Client{
		config: config,
		base:   base,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
			Jar:     jar,
		},
		jar: jar,
		log: log,
	}, nil
}

// Cookies returns the session cookies currently held for the server
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.base)
}

// SetCookies restores previously saved session cookies
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.jar.SetCookies(c.base, cookies)
}

func (c *Client) dropCookies() {
	var expired []*http.Cookie
	for _, ck := range c.jar.Cookies(c.base) {
		expired = append(expired, &http.Cookie{Name: ck.Name, Value: "", Path: "/", MaxAge: -1})
	}
	if len(expired) > 0 {
		c.jar.SetCookies(c.base, expired)
	}
}

// =============================================================================
// Session
// =============================================================================

// Login authenticates and stores the session cookie. Wrong credentials come
// back as a RejectedError, not ErrAuthExpired.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	var out LoginResult
	if err := c.call(ctx, http.MethodPost, "/api/login", req, &out, true); err != nil {
		return nil, err
	}
	if out.User == "" {
		out.User = req.Username
	}
	if out.Role == "" {
		out.Role = req.Role
	}
	return &out, nil
}

// Logout ends the server session and forgets the cookie
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, http.MethodPost, "/api/logout", nil, nil, true)
	c.dropCookies()
	return err
}

// AuthStatus probes the current cookie session
func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var out AuthStatus
	err := c.call(ctx, http.MethodGet, "/api/auth/status", nil, &out, false)
	if errors.Is(err, ErrAuthExpired) {
		return &AuthStatus{Authenticated: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// State
// =============================================================================

// FetchState downloads the full snapshot. The raw body is returned as well
// so it can be cached untouched.
func (c *Client) FetchState(ctx context.Context) (*model.Snapshot, []byte, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/api/state", nil, &raw, false); err != nil {
		return nil, nil, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, nil, errors.Wrap(err, "decode state")
	}
	return &snap, raw, nil
}

// SimulateDrain asks the server to lower tank levels (debug)
func (c *Client) SimulateDrain(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/simulate-drain", struct{}{}, nil, false)
}

// =============================================================================
// Route flow
// =============================================================================

// ClaimRoute activates the planned route assigned to the truck
func (c *Client) ClaimRoute(ctx context.Context, worker, truckID string) (*model.Route, error) {
	var out routeReply
	if err := c.call(ctx, http.MethodPost, "/api/routes/claim", ClaimRequest{Worker: worker, TruckID: truckID}, &out, false); err != nil {
		return nil, err
	}
	return out.Route, nil
}

// ArriveStop records arrival at the current stop
func (c *Client) ArriveStop(ctx context.Context, routeID string) (*model.Route, error) {
	var out routeReply
	payload := map[string]string{"route_id": routeID}
	if err := c.call(ctx, http.MethodPost, "/api/routes/arrive", payload, &out, false); err != nil {
		return nil, err
	}
	return out.Route, nil
}

// CompleteStop closes the current stop with the delivered liters
func (c *Client) CompleteStop(ctx context.Context, req CompleteStopRequest) (*model.Route, error) {
	var out routeReply
	if err := c.call(ctx, http.MethodPost, "/api/routes/complete-stop", req, &out, false); err != nil {
		return nil, err
	}
	return out.Route, nil
}

// ArriveWarehouse closes a returning route
func (c *Client) ArriveWarehouse(ctx context.Context, routeID string, success bool) (*model.Route, error) {
	var out routeReply
	payload := map[string]interface{}{"route_id": routeID, "success": success}
	if err := c.call(ctx, http.MethodPost, "/api/routes/arrive-warehouse", payload, &out, false); err != nil {
		return nil, err
	}
	return out.Route, nil
}

// =============================================================================
// Planning (admin)
// =============================================================================

// PlanRoute creates a route from a manual plan
func (c *Client) PlanRoute(ctx context.Context, req PlanRequest) (*model.Route, error) {
	var out routeReply
	if err := c.call(ctx, http.MethodPost, "/api/routes/plan", req, &out, false); err != nil {
		return nil, err
	}
	return out.Route, nil
}

// AutoPlan lets the server plan routes for urgent centers
func (c *Client) AutoPlan(ctx context.Context) (*AutoPlanResult, error) {
	var out AutoPlanResult
	if err := c.call(ctx, http.MethodPost, "/api/admin/auto-plan", struct{}{}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReassignRoute changes truck and/or worker of a route
func (c *Client) ReassignRoute(ctx context.Context, req ReassignRequest) error {
	return c.call(ctx, http.MethodPost, "/api/admin/reassign-route", req, nil, false)
}

// DeleteRoute removes a planned route
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	return c.call(ctx, http.MethodPost, "/api/admin/delete-route", map[string]string{"route_id": routeID}, nil, false)
}

// =============================================================================
// Transport
// =============================================================================

type envelope struct {
	OK      *bool  `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// call sends one request and decodes the reply into out. When
// unauthorizedIsRejection is set a 401 carries a login failure rather than
// an expired session.
func (c *Client) call(ctx context.Context, method, endpoint string, payload, out interface{}, unauthorizedIsRejection bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal payload")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+endpoint, body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrapf(err, "read %s response", endpoint)
	}

	c.log.WithFields(logrus.Fields{
		"method":     method,
		"endpoint":   endpoint,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"elapsed":    time.Since(start).Round(time.Millisecond),
	}).Debug("api call")

	var env envelope
	jsonErr := json.Unmarshal(data, &env)
	rejected := jsonErr == nil && env.OK != nil && !*env.OK

	if resp.StatusCode == http.StatusUnauthorized && !unauthorizedIsRejection {
		return ErrAuthExpired
	}
	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if rejected || resp.StatusCode == http.StatusUnauthorized {
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return &RejectedError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
		}
		if msg == "" && jsonErr != nil {
			msg = strings.TrimSpace(string(data))
			if len(msg) > 200 {
				msg = msg[:200]
			}
		}
		return &ServerError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
	}
	if rejected {
		msg := env.Error
		if msg == "" {
			msg = "request rejected"
		}
		return &RejectedError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	return nil
}
