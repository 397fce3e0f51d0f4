// Package kiwoomrest is a thin REST client and broker.Broker adapter for
// Kiwoom Securities' REST trading API, structured after the teacher's
// pkg/smartconnect client: a fixed route map, header-based auth, and a
// JSON request/response helper. Grounded on original_source's
// broker/kiwoom.py for the TR codes and account-query shape (that
// original talks to the Windows OCX control; this adapter targets the
// REST gateway Kiwoom offers as its non-Windows alternative), and on
// pkg/smartconnect/client.go for the REST client idiom itself.
package kiwoomrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// Config configures a Client.
type Config struct {
	AppKey    string
	AppSecret string
	AccountNo string

	// TOTPSecret generates the second factor presented at login, mirroring
	// the control manager's use of pquerna/otp for kill-switch deactivation.
	TOTPSecret string

	RootURL string // default: https://openapi.kiwoom.com
	Timeout time.Duration
}

const defaultRoot = "https://openapi.kiwoom.com"

var routes = map[string]string{
	"oauth.token": "/oauth2/token",

	"order.place":  "/uapi/domestic-stock/v1/trading/order-cash",
	"order.cancel": "/uapi/domestic-stock/v1/trading/order-rvsecncl",
	"order.amend":  "/uapi/domestic-stock/v1/trading/order-rvsecncl",
	"order.book":   "/uapi/domestic-stock/v1/trading/inquire-psbl-order",

	"account.balance":   "/uapi/domestic-stock/v1/trading/inquire-balance",
	"account.positions": "/uapi/domestic-stock/v1/trading/inquire-balance",

	"market.quote": "/uapi/domestic-stock/v1/quotations/inquire-price",
}

// Client is a minimal REST client for Kiwoom's trading API: token
// acquisition, a generic doRequest helper, and the TR-ID headers every
// endpoint requires.
type Client struct {
	cfg        Config
	httpClient *http.Client

	accessToken string
	tokenExpiry time.Time
}

// New constructs a Client. It does not contact Kiwoom until Login is
// called.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// currentTOTP returns the currently valid TOTP code for the configured
// secret, presented as the second login factor.
func (c *Client) currentTOTP() (string, error) {
	if c.cfg.TOTPSecret == "" {
		return "", nil
	}
	return totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
}

// Login exchanges the app key/secret (plus a TOTP code, if configured)
// for a bearer access token.
func (c *Client) Login(ctx context.Context) error {
	code, err := c.currentTOTP()
	if err != nil {
		return fmt.Errorf("kiwoomrest: generate totp: %w", err)
	}

	body := map[string]any{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.AppSecret,
	}
	if code != "" {
		body["totp"] = code
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.post(ctx, "oauth.token", nil, body, &resp); err != nil {
		return fmt.Errorf("kiwoomrest: login: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("kiwoomrest: login returned no access token")
	}

	c.accessToken = resp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return nil
}

func (c *Client) tokenValid() bool {
	return c.accessToken != "" && time.Now().Before(c.tokenExpiry)
}

func (c *Client) buildURL(route string, query url.Values) (string, error) {
	path, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("kiwoomrest: unknown route %q", route)
	}
	full := strings.TrimRight(c.cfg.RootURL, "/") + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full, nil
}

func (c *Client) headers(trID string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("authorization", "Bearer "+c.accessToken)
	h.Set("appkey", c.cfg.AppKey)
	h.Set("appsecret", c.cfg.AppSecret)
	h.Set("tr_id", trID)
	return h
}

// get issues an authenticated GET against route with the given TR ID and
// query parameters, decoding the JSON response into out.
func (c *Client) get(ctx context.Context, route, trID string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, route, trID, query, nil, out)
}

// post issues a POST with no TR ID; every route except the unauthenticated
// token endpoint carries the bearer/app-key headers.
func (c *Client) post(ctx context.Context, route string, query url.Values, body any, out any) error {
	return c.do(ctx, http.MethodPost, route, "", query, body, out)
}

func (c *Client) do(ctx context.Context, method, route, trID string, query url.Values, body any, out any) error {
	fullURL, err := c.buildURL(route, query)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kiwoomrest: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("kiwoomrest: build request: %w", err)
	}
	if trID != "" || route != "oauth.token" {
		req.Header = c.headers(trID)
	} else {
		req.Header = http.Header{"Content-Type": {"application/json; charset=utf-8"}}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kiwoomrest: request %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiwoomrest: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitedError{route: route}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("kiwoomrest: %s returned %d: %s", route, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("kiwoomrest: decode response from %s: %w", route, err)
		}
	}
	return nil
}

type rateLimitedError struct {
	route string
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("kiwoomrest: rate limited on %s", e.route)
}
