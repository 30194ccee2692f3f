// Package lookup is the scan client's side of the barcode lookup contract.
//
// Resolve validates the barcode locally, so a missing or malformed code is never sent, then
// performs exactly one GET /lookupProduct and maps the answer onto Result or a sentinel error.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/purescanapp/purescan-server/internal/barcode"
	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/ratelimit"
	"github.com/purescanapp/purescan-server/internal/safety"
)

const (
	// Rate limit: 5 requests per second per host, burst of 5
	defaultRPS   = 5.0
	defaultBurst = 5

	defaultTimeout = 10 * time.Second

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 1 << 20

	lookupPath = "/lookupProduct"
)

// Status is the success variant of a lookup.
type Status string

// Lookup statuses.
const (
	StatusExisting Status = "existing"
	StatusNew      Status = "new"
	statusNotFound Status = "not_found"
)

// Result is a resolved barcode. Existing and new products share the same shape.
type Result struct {
	Status    Status
	ProductID string
	Product   *domain.Product
}

// IsNew reports whether the lookup created the product.
func (r *Result) IsNew() bool {
	return r.Status == StatusNew
}

// Preview returns the score to display for the product. A stored score wins; otherwise it is
// derived locally from the given ingredients with the same formula the server uses.
func (r *Result) Preview(ingredients []*domain.Ingredient) safety.Score {
	if s, ok := r.Product.Score(); ok {
		return s
	}
	return safety.Compute(ingredients)
}

// Options configures a Client.
type Options struct {
	BaseURL    string       // Server base URL, e.g. http://localhost:8080
	HTTPClient *http.Client // Defaults to a client with a 10s timeout
	Logger     *slog.Logger // Uses discard if nil
	RPS        float64      // Outbound requests per second per host (default 5)
	Burst      int          // Outbound burst per host (default 5)
}

// Client is a rate-limited lookup client.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// New creates a lookup client for the server at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		base:    base,
		http:    httpClient,
		limiter: ratelimit.New(rps, burst),
		logger:  logger.OrDiscard(opts.Logger),
	}, nil
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

// lookupBody is the wire shape of every lookup answer. Product fields sit next to status.
type lookupBody struct {
	domain.Product
	Status  Status `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Resolve looks up a barcode, provisioning it server side when it is unknown.
// Twelve-digit UPC-A input is converted to its EAN-13 form before sending.
func (c *Client) Resolve(ctx context.Context, raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, wrapError("resolve", "", ErrMissingBarcode)
	}
	code, ok := barcode.Canonical(raw)
	if !ok {
		return nil, wrapError("resolve", raw, ErrInvalidBarcode)
	}

	body, err := c.doRequest(ctx, code)
	if err != nil {
		return nil, wrapError("resolve", code, err)
	}

	switch body.Status {
	case StatusExisting, StatusNew:
		p := body.Product
		if p.ID == "" {
			return nil, wrapError("resolve", code, errors.New("response without product id"))
		}
		return &Result{Status: body.Status, ProductID: p.ID, Product: &p}, nil
	case statusNotFound:
		return nil, wrapError("resolve", code, &serverMessageError{sentinel: ErrNotFound, message: body.Message})
	default:
		return nil, wrapError("resolve", code, fmt.Errorf("unexpected status %q", body.Status))
	}
}

// doRequest executes the lookup with rate limiting and maps HTTP failures to sentinels.
func (c *Client) doRequest(ctx context.Context, code string) (*lookupBody, error) {
	// Wait for rate limit
	if err := c.limiter.Wait(ctx, c.base.Host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := *c.base
	u.Path = c.base.Path + lookupPath
	u.RawQuery = url.Values{"barcode": {code}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "PureScan/1.0")

	c.logger.Debug("lookup request", "barcode", code, "host", c.base.Host)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var body lookupBody
	decodeErr := json.Unmarshal(data, &body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if decodeErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		return &body, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &serverMessageError{sentinel: ErrBadRequest, message: body.Error}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &serverMessageError{sentinel: ErrNotFound, message: body.Error}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, &serverMessageError{sentinel: ErrServer, message: body.Error}
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
}
