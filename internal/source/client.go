package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/types"
)

const (
	directoryPath = "/api/reader/directory/detail"
	batchPath     = "/reading/reader/batch_full/v"

	firstPartyAID = "1967"
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"

	maxPayloadBytes = 32 << 20
	maxMediaBytes   = 10 << 20
)

// Config configures a Client.
type Config struct {
	// Endpoints are base URLs. The first-party backend uses exactly one;
	// third-party mirrors are rotated on transient failures.
	Endpoints []string

	// FirstParty adds the fixed client parameters of the official API.
	FirstParty bool

	// Timeout bounds each request. Default 15s.
	Timeout time.Duration

	// RequestsPerSecond paces all requests made through this client.
	// Zero disables pacing.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the HTTP implementation of Source.
type Client struct {
	endpoints  []string
	firstParty bool
	timeout    time.Duration
	limiter    *rate.Limiter
	next       atomic.Uint32
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new source client.
func NewClient(cfg Config) (*Client, error) {
	if err := loadSchemas(); err != nil {
		return nil, fmt.Errorf("failed to compile payload schemas: %w", err)
	}

	endpoints := make([]string, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		if e = strings.TrimRight(strings.TrimSpace(e), "/?&"); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no source endpoints configured")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoints:  endpoints,
		firstParty: cfg.FirstParty,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, burst),
		httpClient: httpClient,
		logger:     logger.With("component", "source"),
	}, nil
}

// NewFromConfig builds a Client for the backend selected by cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	endpoints := cfg.APIEndpoints
	if cfg.UseOfficialAPI {
		endpoints = []string{cfg.OfficialAPIURL}
	}
	return NewClient(Config{
		Endpoints:         endpoints,
		FirstParty:        cfg.UseOfficialAPI,
		Timeout:           cfg.Timeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
}

// Directory returns the ordered chapter list and metadata for a book.
func (c *Client) Directory(ctx context.Context, bookID string) (*types.Directory, error) {
	raw, err := c.get(ctx, directoryPath, "bookId="+bookID)
	if err != nil {
		return nil, err
	}

	var resp directoryResponse
	if err := decodeValidated(directorySchema, raw, &resp); err != nil {
		return nil, err
	}
	if err := c.checkEnvelope(resp.envelope); err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.ItemDataList) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDirectory, bookID)
	}

	dir := resp.toDirectory(bookID)
	if len(dir.Chapters) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDirectory, bookID)
	}
	return dir, nil
}

// Batch fetches up to MaxBatchSize chapter bodies keyed by chapter id.
func (c *Client) Batch(ctx context.Context, ids []string) (map[string]Body, error) {
	if len(ids) == 0 {
		return map[string]Body{}, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(ids))
	}

	// item_ids stays comma separated and unescaped
	query := "item_ids=" + strings.Join(ids, ",")
	if c.firstParty {
		query += "&update_version_code=0&aid=" + firstPartyAID + "&key_register_ts=0&device_platform=android&iid=0&epub=0"
	}

	raw, err := c.get(ctx, batchPath, query)
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := decodeValidated(batchSchema, raw, &resp); err != nil {
		return nil, err
	}
	if err := c.checkEnvelope(resp.envelope); err != nil {
		return nil, err
	}

	out := make(map[string]Body, len(resp.Data))
	for id, item := range resp.Data {
		if item == nil || strings.TrimSpace(item.Content) == "" {
			continue
		}
		out[id] = Body{Title: strings.TrimSpace(item.Title), Content: ToText(item.Content)}
	}
	return out, nil
}

// Cover downloads a cover image, returning its bytes and media type.
func (c *Client) Media(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", errors.New("empty media url")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media request failed (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return data, mediaType, nil
}

// get performs one paced GET against the current endpoint. A transient
// failure advances the rotation so the next attempt uses another mirror.
func (c *Client) get(ctx context.Context, path, query string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	base := c.endpoint()
	raw, err := c.do(ctx, base+path+"?"+query)
	if err != nil && IsTransient(err) && len(c.endpoints) > 1 {
		c.next.Add(1)
		c.logger.Debug("rotating endpoint after transient failure", "endpoint", base, "error", err)
	}
	return raw, err
}

func (c *Client) endpoint() string {
	return c.endpoints[int(c.next.Load())%len(c.endpoints)]
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &CooldownError{
			Message:    "remote rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrBookNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("remote error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func (c *Client) checkEnvelope(env envelope) error {
	if env.ok() {
		return nil
	}
	switch {
	case isCooldownMessage(env.Message) || isCooldownMessage(string(env.Code)):
		return &CooldownError{Message: "remote cooldown: " + env.Message}
	case isNotFoundMessage(env.Message):
		return fmt.Errorf("%w: %s", ErrBookNotFound, env.Message)
	default:
		return fmt.Errorf("remote error (code %s): %s", env.Code, env.Message)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Source = (*Client)(nil)
