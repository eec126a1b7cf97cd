package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/version"
)

// DefaultBaseURL is the vendor cloud API root.
const DefaultBaseURL = "https://cloud.myskybell.com/api/v3/"

// Token expiry is checked with this much slack so a request never goes out
// with a token that expires in flight.
const tokenExpirySkew = 30 * time.Second

var instanceCount atomic.Int64

// Options configures a Client.
type Options struct {
	BaseURL   string
	Username  string
	Password  string
	Timeout   time.Duration
	RateLimit float64 // requests per second, <= 0 disables limiting
	HTTP      *http.Client
}

// Client talks to the doorbell vendor cloud. Safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	appID    string
	clientID string
	instance int64
	requests atomic.Int64

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient creates a cloud API client. Login happens lazily on the first
// request.
func NewClient(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	httpClient := opts.HTTP
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		burst = max(1, int(opts.RateLimit))
	}

	return &Client{
		baseURL:    base,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logging.GetLogger("cloud"),
		appID:      uuid.NewString(),
		clientID:   uuid.NewString(),
		instance:   instanceCount.Add(1),
	}
}

// Login exchanges the configured credentials for an access token.
func (c *Client) Login(ctx context.Context) error {
	if c.username == "" {
		return ErrNotAuthenticated
	}

	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "login/", "", loginRequest{Username: c.username, Password: c.password}, &resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return ErrEmptyToken
	}

	expiresAt := tokenExpiry(resp.AccessToken)

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.logger.Info("Logged in to cloud", "user", c.username, "expires", expiresAt)
	return nil
}

// Logout invalidates the session on the server and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if c.token() == "" {
		return nil
	}
	err := c.request(ctx, http.MethodPost, "logout", logoutRequest{AppID: c.appID}, nil)

	c.mu.Lock()
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	return err
}

// ListDevices returns every device on the account.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.request(ctx, http.MethodGet, "devices/", nil, &devices); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// DeviceInfo returns wifi telemetry for a device.
func (c *Client) DeviceInfo(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	var info DeviceInfo
	if err := c.request(ctx, http.MethodGet, devicePath(deviceID, "info/"), nil, &info); err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}
	return &info, nil
}

// Activities returns the event history of a device, newest first.
func (c *Client) Activities(ctx context.Context, deviceID string) ([]Activity, error) {
	var activities []Activity
	if err := c.request(ctx, http.MethodGet, devicePath(deviceID, "activities/"), nil, &activities); err != nil {
		return nil, fmt.Errorf("device activities: %w", err)
	}
	return activities, nil
}

// ActivityVideoURL returns a download URL for a recorded activity.
func (c *Client) ActivityVideoURL(ctx context.Context, deviceID, activityID string) (string, error) {
	var resp videoURLResponse
	path := devicePath(deviceID, "activities/"+url.PathEscape(activityID)+"/video/")
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("activity video: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("activity video: no url for activity %s", activityID)
	}
	return resp.URL, nil
}

// StartCall asks the device to start a live call and returns the incoming
// stream endpoints.
func (c *Client) StartCall(ctx context.Context, deviceID string) (*CallEndpoints, error) {
	var endpoints CallEndpoints
	if err := c.request(ctx, http.MethodPost, devicePath(deviceID, "calls/"), nil, &endpoints); err != nil {
		return nil, fmt.Errorf("start call: %w", err)
	}
	return &endpoints, nil
}

// StopCall ends a live call.
func (c *Client) StopCall(ctx context.Context, deviceID string) error {
	if err := c.request(ctx, http.MethodDelete, devicePath(deviceID, "calls/"), nil, nil); err != nil {
		return fmt.Errorf("stop call: %w", err)
	}
	return nil
}

func devicePath(deviceID, suffix string) string {
	return "devices/" + url.PathEscape(deviceID) + "/" + suffix
}

// request issues an authenticated request, logging in first when there is
// no usable token and once more when the server rejects the token.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	if !c.tokenValid() {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	err := c.do(ctx, method, path, c.token(), body, out)
	if err == nil || !IsAuthError(err) {
		return err
	}

	c.logger.Debug("Access token rejected, logging in again", "path", path)
	if err := c.Login(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, c.token(), body, out)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("x-skybell-app-id", c.appID)
	req.Header.Set("x-skybell-client-id", c.clientID)

	reqID := fmt.Sprintf("%d-%d", c.instance, c.requests.Add(1))
	c.logger.Debug("Cloud API request", "request", reqID, "method", method, "path", "/"+path)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Cloud API request failed", "request", reqID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("%s /%s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Cloud API response", "request", reqID, "status", resp.Status, "duration", time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := resp.Status
		if len(bytes.TrimSpace(data)) > 0 {
			msg = errorMessage(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) tokenValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" {
		return false
	}
	return c.expiresAt.IsZero() || time.Now().Add(tokenExpirySkew).Before(c.expiresAt)
}

// tokenExpiry reads the exp claim without verifying the signature. Opaque
// tokens have no known expiry and are only refreshed when rejected.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
