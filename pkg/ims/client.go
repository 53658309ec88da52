package ims

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ssdims/ssdims/pkg/common"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/types"
)

const (
	// DefaultBaseURL is the production SSD IMS API.
	DefaultBaseURL = "https://ims.ssd.sk/api"

	loginPath       = "account/login"
	podsPath        = "consumption-production/profile-data/get-points-of-delivery"
	chartDataPath   = "consumption-production/profile-data/chart-data"
	meteringTimeFmt = "2006-01-02T15:04:05"
)

// errSessionExpired is returned by a single request attempt when the portal
// answered with its login page or a 401.
var errSessionExpired = errors.New("session expired")

// Client implements API against the SSD IMS portal. The portal keeps the
// session in cookies so the client owns its own cookie jar.
type Client struct {
	client  *http.Client
	baseURL string

	mu            sync.Mutex
	username      string
	password      string
	authenticated bool
	epoch         uint64
}

var _ API = (*Client)(nil)

// NewClient returns a client for the portal at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client:  common.SessionHTTPClient(timeout),
		baseURL: baseURL,
	}
}

// Authenticate implements API.
func (c *Client) Authenticate(ctx context.Context, username, password string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.login(ctx, username, password)
	if err != nil || !ok {
		return ok, err
	}
	c.username = username
	c.password = password
	return true, nil
}

// Login implements API.
func (c *Client) Login(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx, c.username, c.password)
}

// Authenticated implements API.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SessionEpoch implements API.
func (c *Client) SessionEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Logout forgets the session and the remembered credentials.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.username = ""
	c.password = ""
	c.authenticated = false
	if jar, err := cookiejar.New(nil); err == nil {
		c.client.Jar = jar
	}
	log.Ctx(ctx).DebugContext(ctx, "logged out of ssd ims")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResult struct {
	UserProfile struct {
		UserID   int    `json:"userId"`
		Username string `json:"username"`
	} `json:"userProfile"`
	PasswordExpirationDate string `json:"passwordExpirationDate"`
}

// login must be called with mu held.
func (c *Client) login(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	c.authenticated = false

	req, err := c.newPostJSONRequest(ctx, loginPath, loginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		log.Ctx(ctx).WarnContext(ctx, "ssd ims rejected credentials", slog.Int("status", resp.StatusCode))
		return false, nil
	default:
		return false, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var res loginResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, fmt.Errorf("failed to decode login response: %w", err)
	}

	c.authenticated = true
	c.epoch++
	log.Ctx(ctx).DebugContext(ctx, "ssd ims login success",
		slog.Int("userID", res.UserProfile.UserID),
		slog.Uint64("epoch", c.epoch),
	)
	return true, nil
}

// ListPointsOfDelivery implements API.
func (c *Client) ListPointsOfDelivery(ctx context.Context) ([]types.PointOfDeliveryEntry, error) {
	req, err := c.newGetRequest(ctx, podsPath)
	if err != nil {
		return nil, err
	}

	var entries []types.PointOfDeliveryEntry
	if err := c.doRequest(req, &entries, true); err != nil {
		return nil, fmt.Errorf("get-points-of-delivery failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "listed points of delivery", slog.Int("count", len(entries)))
	return entries, nil
}

type chartDataRequest struct {
	PointOfDeliveryID string `json:"pointOfDeliveryId"`
	ValidFromDate     string `json:"validFromDate"`
	ValidToDate       string `json:"validToDate"`
}

type chartDataResult struct {
	MeteringDatetime     []string   `json:"meteringDatetime"`
	ActualConsumption    []*float64 `json:"actualConsumption"`
	ActualSupply         []*float64 `json:"actualSupply"`
	IdleConsumption      []*float64 `json:"idleConsumption"`
	IdleSupply           []*float64 `json:"idleSupply"`
	SumActualConsumption *float64   `json:"sumActualConsumption"`
	SumActualSupply      *float64   `json:"sumActualSupply"`
}

// GetIntervalReadings implements API. The portal wants from as a local
// midnight with its offset and to rendered in UTC. The request is not replayed
// after a re-login because handle is tied to the old session; the caller gets
// ErrStaleHandle instead.
func (c *Client) GetIntervalReadings(ctx context.Context, handle string, from, to time.Time) (types.ReadingsResponse, error) {
	req, err := c.newPostJSONRequest(ctx, chartDataPath, chartDataRequest{
		PointOfDeliveryID: handle,
		ValidFromDate:     from.Format(time.RFC3339),
		ValidToDate:       to.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return types.ReadingsResponse{}, err
	}

	var res chartDataResult
	if err := c.doRequest(req, &res, false); err != nil {
		return types.ReadingsResponse{}, fmt.Errorf("chart-data failed: %w", err)
	}

	out := types.ReadingsResponse{
		Timestamps:           make([]time.Time, 0, len(res.MeteringDatetime)),
		Consumption:          res.ActualConsumption,
		Supply:               res.ActualSupply,
		PeriodSumConsumption: res.SumActualConsumption,
		PeriodSumSupply:      res.SumActualSupply,
	}
	for _, s := range res.MeteringDatetime {
		ts, err := parseMeteringTime(s)
		if err != nil {
			return types.ReadingsResponse{}, fmt.Errorf("invalid meteringDatetime %q: %w", s, err)
		}
		out.Timestamps = append(out.Timestamps, ts)
	}

	log.Ctx(ctx).DebugContext(ctx, "fetched chart data",
		slog.Time("from", from),
		slog.Time("to", to),
		slog.Int("intervals", len(out.Timestamps)),
	)
	return out, nil
}

// parseMeteringTime accepts RFC3339 with up to nanosecond fractions and falls
// back to a zone-less timestamp, which the portal uses for UTC.
func parseMeteringTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation(meteringTimeFmt, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func (c *Client) endpoint(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, path)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) newGetRequest(ctx context.Context, path string) (*http.Request, error) {
	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) newPostJSONRequest(ctx context.Context, path string, data interface{}) (*http.Request, error) {
	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// isSessionExpired reports whether the portal answered with its HTML login
// page instead of JSON.
func isSessionExpired(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "text/html"
}

// doRequest sends req and decodes the JSON response into dest. An expired
// session triggers one re-login with the remembered credentials. The request
// is then retried when replay is set, otherwise ErrStaleHandle is returned.
func (c *Client) doRequest(req *http.Request, dest interface{}, replay bool) error {
	ctx := req.Context()

	// we try up to 2 times because the session might have expired
	for i := 0; i < 2; i++ {
		if i > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			req.Body = body
		}

		err := c.doRequestOnce(req, dest)
		if !errors.Is(err, errSessionExpired) {
			return err
		}
		if i > 0 {
			break
		}

		log.Ctx(ctx).DebugContext(ctx, "ssd ims session expired")
		c.mu.Lock()
		ok, lerr := c.login(ctx, c.username, c.password)
		c.mu.Unlock()
		if lerr != nil {
			return fmt.Errorf("re-login failed: %w", lerr)
		}
		if !ok {
			return fmt.Errorf("re-login rejected: %w", types.ErrAuthentication)
		}
		if !replay {
			return fmt.Errorf("%w: %w", errSessionExpired, types.ErrStaleHandle)
		}
	}

	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
	return fmt.Errorf("session expired after re-login: %w", types.ErrAuthentication)
}

func (c *Client) doRequestOnce(req *http.Request, dest interface{}) error {
	ctx := req.Context()

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if isSessionExpired(resp) {
		return errSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode ssd ims response",
			slog.Any("error", err),
			slog.String("body", truncate(string(body), 512)),
		)
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
