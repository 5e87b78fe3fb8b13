package portal

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClient interface for testability
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds portal client configuration
type Config struct {
	BaseURL       string
	Credentials   Credentials
	ActionTimeout time.Duration // per-strategy attempt budget
	WaitBudget    time.Duration // total budget for paginated row collection
	RatePerSecond float64
	RateBurst     int
}

func (c *Config) applyDefaults() {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.WaitBudget <= 0 {
		c.WaitBudget = 90 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 4
	}
}

// HTTPPortalClient drives the billing portal over its JSON endpoints. The
// portal ships breaking endpoint changes without notice, so every operation
// carries fallback routes for the layouts seen in production.
type HTTPPortalClient struct {
	cfg          Config
	httpClient   HTTPClient
	limiter      *rate.Limiter
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewHTTPPortalClient creates a portal client for one worker's exclusive use.
func NewHTTPPortalClient(cfg Config, logger *zap.Logger) *HTTPPortalClient {
	cfg.applyDefaults()
	return &HTTPPortalClient{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.ActionTimeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		pollInterval: 500 * time.Millisecond,
		logger:       logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client (for testing).
func (c *HTTPPortalClient) SetHTTPClient(hc HTTPClient) { c.httpClient = hc }

// SetPollInterval shortens the lazy-load poll interval (for testing).
func (c *HTTPPortalClient) SetPollInterval(d time.Duration) { c.pollInterval = d }

// HTTPFactory builds one HTTPPortalClient per batch worker.
type HTTPFactory struct {
	cfg    Config
	logger *zap.Logger
}

// NewHTTPFactory creates a factory from shared configuration.
func NewHTTPFactory(cfg Config, logger *zap.Logger) *HTTPFactory {
	return &HTTPFactory{cfg: cfg, logger: logger}
}

// NewClient returns a fresh client with no shared mutable state.
func (f *HTTPFactory) NewClient() (Client, error) {
	return NewHTTPPortalClient(f.cfg, f.logger), nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"` // legacy endpoint field
	ExpiresIn   int64  `json:"expires_in"`
}

// Login authenticates the shared account. A credential rejection is
// reported as *AuthenticationError and is never retried.
func (c *HTTPPortalClient) Login(ctx context.Context) (*Session, error) {
	var sess *Session

	attempt := func(path string) func(context.Context) error {
		return func(ctx context.Context) error {
			body, status, err := c.postJSON(ctx, path, nil, map[string]string{
				"email":    c.cfg.Credentials.Email,
				"password": c.cfg.Credentials.Password,
			})
			if err != nil {
				return err
			}
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return &AuthenticationError{Cause: fmt.Errorf("portal rejected credentials (status %d)", status)}
			}
			if status != http.StatusOK && status != http.StatusCreated {
				return fmt.Errorf("login returned status %d", status)
			}

			var resp loginResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse login response: %w", err)
			}
			token := resp.AccessToken
			if token == "" {
				token = resp.Token
			}
			if token == "" {
				return &AuthenticationError{Cause: fmt.Errorf("login response carried no token")}
			}

			expiry := time.Now().Add(time.Hour)
			if resp.ExpiresIn > 0 {
				expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
			}
			sess = &Session{Token: token, ExpiresAt: expiry}
			return nil
		}
	}

	err := runStrategies(ctx, "login", c.cfg.ActionTimeout, c.logger, []strategy{
		{name: "v1 auth endpoint", run: attempt("/api/v1/auth/login")},
		{name: "legacy sign-in endpoint", run: attempt("/api/auth/sign-in")},
	})
	if err != nil {
		if IsAuthenticationError(err) {
			return nil, err
		}
		// Endpoint exhaustion during login still gates the whole batch.
		return nil, &AuthenticationError{Cause: err}
	}

	c.logger.Info("Portal login succeeded", zap.Time("session_expires", sess.ExpiresAt))
	return sess, nil
}

// SetDateRange applies an explicit start/end filter. The portal also offers
// relative presets ("last month") but those cannot express arbitrary billing
// windows, so only the custom range endpoints are used.
func (c *HTTPPortalClient) SetDateRange(ctx context.Context, sess *Session, start, end time.Time) error {
	payload := map[string]string{
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
		"preset":     "custom",
	}

	attempt := func(method, path string) func(context.Context) error {
		return func(ctx context.Context) error {
			_, status, err := c.doJSON(ctx, method, path, sess, payload)
			if err != nil {
				return err
			}
			if status == http.StatusUnauthorized {
				return &AuthenticationError{Cause: fmt.Errorf("session expired while setting date range")}
			}
			if status != http.StatusOK && status != http.StatusNoContent {
				return fmt.Errorf("date range returned status %d", status)
			}
			return nil
		}
	}

	return runStrategies(ctx, "set_date_range", c.cfg.ActionTimeout, c.logger, []strategy{
		{name: "v1 report filter", run: attempt(http.MethodPut, "/api/v1/report/date-range")},
		{name: "legacy filter endpoint", run: attempt(http.MethodPost, "/api/filters/date-range")},
	})
}

type invoiceListResponse struct {
	Rows     []RawInvoiceRow `json:"rows"`
	Data     []RawInvoiceRow `json:"data"` // legacy endpoint field
	Total    int             `json:"total"`
	HasMore  bool            `json:"has_more"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// SearchProperty collects every invoice row for the named property. The
// listing is paginated and lazily materialized server-side, so collection
// loops page fetches with short poll waits, all bounded by the wait budget.
// Name matching tolerates diacritics and minor variants; rows for other
// assets are dropped.
func (c *HTTPPortalClient) SearchProperty(ctx context.Context, sess *Session, name string) ([]RawInvoiceRow, error) {
	var rows []RawInvoiceRow

	collect := func(path, queryParam string) func(context.Context) error {
		return func(ctx context.Context) error {
			deadline := time.Now().Add(c.cfg.WaitBudget)
			collected := make([]RawInvoiceRow, 0, 32)
			page := 1

			for {
				if time.Now().After(deadline) {
					break
				}

				q := url.Values{}
				q.Set(queryParam, name)
				q.Set("page", fmt.Sprintf("%d", page))

				body, status, err := c.doJSON(ctx, http.MethodGet, path+"?"+q.Encode(), sess, nil)
				if err != nil {
					return err
				}
				if status == http.StatusUnauthorized {
					return &AuthenticationError{Cause: fmt.Errorf("session expired during property search")}
				}
				if status != http.StatusOK {
					return fmt.Errorf("invoice listing returned status %d", status)
				}

				var resp invoiceListResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					return fmt.Errorf("failed to parse invoice listing: %w", err)
				}
				pageRows := resp.Rows
				if pageRows == nil {
					pageRows = resp.Data
				}
				collected = append(collected, pageRows...)

				if resp.HasMore || (resp.Total > 0 && len(collected) < resp.Total) {
					if len(pageRows) == 0 {
						// The portal reports more rows than it has rendered;
						// give its backend a moment and poll the same page.
						if err := sleepCtx(ctx, c.pollInterval); err != nil {
							return err
						}
						continue
					}
					page++
					continue
				}
				break
			}

			rows = filterRowsByName(collected, name)
			return nil
		}
	}

	err := runStrategies(ctx, "search_property", c.cfg.WaitBudget, c.logger, []strategy{
		{name: "v1 invoice listing", run: collect("/api/v1/invoices", "search")},
		{name: "legacy invoice search", run: collect("/api/invoices/search", "q")},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("property %q: %w", name, ErrEmptyResult)
	}

	c.logger.Debug("Collected invoice rows",
		zap.String("property", name),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// DownloadInvoiceFile fetches one invoice document's bytes.
func (c *HTTPPortalClient) DownloadInvoiceFile(ctx context.Context, sess *Session, ref InvoiceRef) ([]byte, error) {
	var content []byte

	attempt := func(pathFormat string) func(context.Context) error {
		return func(ctx context.Context) error {
			path := fmt.Sprintf(pathFormat, url.PathEscape(ref.DownloadRef))
			body, status, err := c.doJSON(ctx, http.MethodGet, path, sess, nil)
			if err != nil {
				return err
			}
			if status == http.StatusUnauthorized {
				return &AuthenticationError{Cause: fmt.Errorf("session expired during download")}
			}
			if status != http.StatusOK {
				return fmt.Errorf("document endpoint returned status %d", status)
			}
			if len(body) == 0 {
				return fmt.Errorf("document endpoint returned an empty body")
			}
			content = body
			return nil
		}
	}

	err := runStrategies(ctx, "download_invoice", c.cfg.ActionTimeout, c.logger, []strategy{
		{name: "v1 document endpoint", run: attempt("/api/v1/invoices/%s/document")},
		{name: "legacy document endpoint", run: attempt("/api/documents/%s")},
	})
	if err != nil {
		if IsAuthenticationError(err) {
			return nil, err
		}
		return nil, &DownloadError{InvoiceNumber: ref.InvoiceNumber, Cause: err}
	}
	return content, nil
}

// Close releases client resources. The HTTP client holds no portal-side
// state; sessions simply expire.
func (c *HTTPPortalClient) Close() error { return nil }

func (c *HTTPPortalClient) postJSON(ctx context.Context, path string, sess *Session, payload any) ([]byte, int, error) {
	return c.doJSON(ctx, http.MethodPost, path, sess, payload)
}

func (c *HTTPPortalClient) doJSON(ctx context.Context, method, path string, sess *Session, payload any) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func filterRowsByName(rows []RawInvoiceRow, name string) []RawInvoiceRow {
	matched := make([]RawInvoiceRow, 0, len(rows))
	for _, row := range rows {
		if NamesMatch(name, row.Asset) {
			matched = append(matched, row)
		}
	}
	return matched
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
