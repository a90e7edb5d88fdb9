// Package bridge proxies the IPU examination portal: it fetches captcha
// challenges, replays authenticated sessions, submits credentials hashed in
// the portal's scheme, and pulls raw result records, masking the portal's
// session semantics behind a stable API.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ipulse-dev/ipulse/internal/session"
)

// AllSemesters is the semester sentinel the portal uses for "all semesters".
const AllSemesters = "100"

// The portal blocks programmatic clients on headers; every request mimics a
// browser.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var jsessionPattern = regexp.MustCompile(`JSESSIONID=([^;]+)`)

// Captcha is a fetched challenge: a data-URL image plus the session token
// minted for it. Token may be empty if the portal sent no session cookie;
// login with an empty token fails with ErrSessionMissing.
type Captcha struct {
	ImageDataURL string
	Token        string
}

// LoginAttempt carries everything needed to submit a login. All four fields
// are required.
type LoginAttempt struct {
	Username       string
	HashedPassword string
	CaptchaAnswer  string
	SessionToken   string
}

// Client talks to the upstream examination portal. It is a single-shot
// proxy: nothing is retried automatically, since the portal is captcha-gated
// and blind retries risk account lockout.
type Client struct {
	baseURL string
	http    *http.Client
	store   session.Store
	ttl     time.Duration
}

// New creates a bridge client. Redirects are never auto-followed: the
// redirect target itself is the login success signal.
func New(baseURL string, store session.Store, ttl, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		store: store,
		ttl:   ttl,
	}
}

// FetchCaptcha retrieves a one-time captcha image and registers the session
// the portal minted for it.
func (c *Client) FetchCaptcha(ctx context.Context) (*Captcha, error) {
	// Cheap opportunistic cleanup before creating a new entry.
	if removed, err := c.store.Sweep(ctx); err != nil {
		slog.Warn("Session sweep before captcha fetch failed", "error", err)
	} else if removed > 0 {
		slog.Debug("Swept expired sessions", "count", removed)
	}

	// Cache-busting query parameter, same as a browser reload would send.
	reqURL := fmt.Sprintf("%s/CaptchaServlet?%d", c.baseURL, time.Now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError("captcha fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: captcha fetch returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError("captcha read", err)
	}

	captcha := &Captcha{
		ImageDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
	}

	if setCookie := resp.Header.Get("Set-Cookie"); setCookie != "" {
		if m := jsessionPattern.FindStringSubmatch(setCookie); m != nil {
			captcha.Token = m[1]
			if err := c.store.Put(ctx, captcha.Token, setCookie, c.ttl); err != nil {
				return nil, fmt.Errorf("store session: %w", err)
			}
		}
	}
	if captcha.Token == "" {
		// Degraded mode: the caller still gets the image, but login with
		// an empty token will fail with ErrSessionMissing.
		slog.Warn("Captcha response carried no session cookie")
	}

	return captcha, nil
}

// SubmitLogin replays the hashed credentials plus captcha answer against the
// portal's login endpoint. On success it returns the session token to use
// from now on; the portal may rotate the token post-login, in which case the
// returned token supersedes the one in the attempt.
func (c *Client) SubmitLogin(ctx context.Context, attempt LoginAttempt) (string, error) {
	switch {
	case attempt.Username == "":
		return "", fmt.Errorf("%w: username", ErrMissingField)
	case attempt.HashedPassword == "":
		return "", fmt.Errorf("%w: hashedPassword", ErrMissingField)
	case attempt.CaptchaAnswer == "":
		return "", fmt.Errorf("%w: captcha", ErrMissingField)
	case attempt.SessionToken == "":
		return "", fmt.Errorf("%w: sessionId", ErrMissingField)
	}

	cookie, err := c.store.Get(ctx, attempt.SessionToken)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("%w: token %q", ErrSessionMissing, attempt.SessionToken)
		}
		return "", fmt.Errorf("session lookup: %w", err)
	}

	form := url.Values{}
	form.Set("username", attempt.Username)
	form.Set("passwd", attempt.HashedPassword)
	form.Set("captcha", attempt.CaptchaAnswer)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", replayCookie(cookie))
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.transportError("login submit", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.transportError("login read", err)
	}

	outcome := classifyLogin(loginResponse{
		status:   resp.StatusCode,
		location: resp.Header.Get("Location"),
		body:     string(body),
	})

	switch outcome {
	case LoginSuccess:
		return c.adoptRotatedToken(ctx, attempt.SessionToken, cookie, resp.Header.Get("Set-Cookie"))
	case LoginInvalidCaptcha:
		return "", ErrInvalidCaptcha
	case LoginInvalidCredentials:
		return "", ErrInvalidCredentials
	default:
		return "", ErrLoginFailed
	}
}

// adoptRotatedToken records the post-login session. If the portal rotated
// the token, the new one supersedes the pre-login entry; either way the
// surviving entry gets a fresh TTL.
func (c *Client) adoptRotatedToken(ctx context.Context, oldToken, oldCookie, setCookie string) (string, error) {
	token, cookie := oldToken, oldCookie
	if m := jsessionPattern.FindStringSubmatch(setCookie); m != nil && m[1] != oldToken {
		token, cookie = m[1], setCookie
		if err := c.store.Delete(ctx, oldToken); err != nil {
			slog.Warn("Failed to delete superseded session", "error", err)
		}
		slog.Info("Portal rotated session token on login")
	}
	if err := c.store.Put(ctx, token, cookie, c.ttl); err != nil {
		return "", fmt.Errorf("store rotated session: %w", err)
	}
	return token, nil
}

// FetchResults pulls raw per-semester result records using an authenticated
// session. Records pass through unmodified; the bridge only checks that the
// body parses as JSON. An empty collection is a valid state (a student with
// no published results), not an error.
func (c *Client) FetchResults(ctx context.Context, token, semester string) ([]json.RawMessage, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: sessionId", ErrMissingField)
	}
	if semester == "" {
		semester = AllSemesters
	}

	cookie, err := c.store.Get(ctx, token)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: token %q", ErrSessionMissing, token)
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	reqURL := fmt.Sprintf("%s/StudentSearchProcess?flag=2&euno=%s", c.baseURL, url.QueryEscape(semester))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build results request: %w", err)
	}
	req.Header.Set("Cookie", replayCookie(cookie))
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", c.baseURL+"/student/studenthome.jsp")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError("results fetch", err)
	}
	defer resp.Body.Close()

	// Read as text first; the portal does not honor content-type and may
	// answer 200 with an HTML login page.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError("results read", err)
	}
	text := string(body)

	if isLoginPage(resp.StatusCode, text) {
		return nil, ErrSessionExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: results fetch returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		// Most often a login page in an unexpected shape.
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpstreamResponse, err)
	}

	return records, nil
}

// replayCookie reduces a stored Set-Cookie value to the name=value pair sent
// back on subsequent requests.
func replayCookie(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		return strings.TrimSpace(raw[:i])
	}
	return strings.TrimSpace(raw)
}

// transportError converts a transport-level failure into the bridge
// taxonomy: timeouts are distinguished from general unavailability.
func (c *Client) transportError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, op, err)
}
