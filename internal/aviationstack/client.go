package aviationstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
)

var (
	// ErrAuthentication is returned when the API rejects the access key.
	// It aborts the run before anything is written.
	ErrAuthentication = errors.New("aviationstack: authentication failed")

	errRateLimited = errors.New("aviationstack: rate limited")
)

// Page is one page of the paginated flights endpoint. Records are kept raw:
// flattening is the transformer's job and must tolerate any shape.
type Page struct {
	Limit  int
	Offset int
	Count  int
	Total  int
	Data   []json.RawMessage
}

type pageEnvelope struct {
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Count  int `json:"count"`
		Total  int `json:"total"`
	} `json:"pagination"`
	Data []json.RawMessage `json:"data"`
}

// Client talks to an AviationStack-compatible flights endpoint.
type Client struct {
	log        logger.Logger
	httpClient *http.Client

	config struct {
		baseURL        string
		apiKey         string
		limit          int
		pageDelay      time.Duration
		maxRateRetries uint64
	}
}

// New creates a flights API client. Transient HTTP failures (5xx, transport
// errors) are retried with exponential backoff by the underlying client;
// authentication failures are never retried.
func New(conf *config.Config, log logger.Logger) *Client {
	c := &Client{
		log: log.Child("aviationstack"),
	}
	c.config.baseURL = conf.GetString("AVIATIONSTACK_BASE_URL", "http://api.aviationstack.com/v1/flights")
	c.config.apiKey = conf.GetString("AVIATIONSTACK_API_KEY", "")
	c.config.limit = conf.GetInt("ETL_LIMIT", 100)
	c.config.pageDelay = conf.GetDuration("ETL_PAGE_DELAY", 1, time.Second)
	c.config.maxRateRetries = uint64(conf.GetInt("ETL_RATE_LIMIT_RETRIES", 3))

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Timeout: conf.GetDuration("AVIATIONSTACK_TIMEOUT", 30, time.Second),
	}
	client.Logger = nil
	client.RetryWaitMin = conf.GetDuration("AVIATIONSTACK_RETRY_WAIT_MIN", 1, time.Second)
	client.RetryWaitMax = conf.GetDuration("AVIATIONSTACK_RETRY_WAIT_MAX", 30, time.Second)
	client.RetryMax = conf.GetInt("AVIATIONSTACK_RETRY_MAX", 4)
	c.httpClient = client.StandardClient()

	return c
}

// Limit returns the configured page size.
func (c *Client) Limit() int {
	return c.config.limit
}

// FetchAirline pages through the flights endpoint for one airline IATA code
// until the API returns a short page or maxPages is reached. Pagination is
// strictly sequential to respect the provider's rate limits.
func (c *Client) FetchAirline(ctx context.Context, airlineIATA string, maxPages int) ([]json.RawMessage, error) {
	if c.config.apiKey == "" {
		return nil, fmt.Errorf("%w: AVIATIONSTACK_API_KEY not set", ErrAuthentication)
	}

	var records []json.RawMessage
	offset := 0

	for page := 0; page < maxPages; page++ {
		p, err := c.fetchPage(ctx, airlineIATA, offset)
		if err != nil {
			return nil, err
		}

		records = append(records, p.Data...)
		c.log.Infof("airline %s page %d: %d records (offset=%d)", airlineIATA, page+1, p.Count, offset)

		if p.Count < c.config.limit {
			break
		}
		offset += c.config.limit

		if page < maxPages-1 && c.config.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.pageDelay):
			}
		}
	}
	return records, nil
}

// fetchPage issues one paginated request. The provider sometimes reports rate
// limiting inside a 2xx error envelope, so that case is retried here with its
// own backoff rather than by the HTTP client.
func (c *Client) fetchPage(ctx context.Context, airlineIATA string, offset int) (*Page, error) {
	var p *Page

	op := func() error {
		var err error
		p, err = c.doFetchPage(ctx, airlineIATA, offset)
		if err != nil && !errors.Is(err, errRateLimited) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.maxRateRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) doFetchPage(ctx context.Context, airlineIATA string, offset int) (*Page, error) {
	params := url.Values{}
	params.Set("access_key", c.config.apiKey)
	params.Set("limit", strconv.Itoa(c.config.limit))
	params.Set("offset", strconv.Itoa(offset))
	if airlineIATA != "" {
		params.Set("airline_iata", airlineIATA)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting flights page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, apiErrorMessage(body))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("flights endpoint returned %d: %s", resp.StatusCode, apiErrorMessage(body))
	}

	// Error envelopes can arrive with a 2xx transport status.
	if apiErr := gjson.GetBytes(body, "error"); apiErr.Exists() {
		code := apiErr.Get("code").String()
		switch code {
		case "invalid_access_key", "missing_access_key", "inactive_user":
			return nil, fmt.Errorf("%w: %s", ErrAuthentication, apiErrorMessage(body))
		case "rate_limit_reached", "usage_limit_reached":
			return nil, fmt.Errorf("%w: %s", errRateLimited, apiErrorMessage(body))
		default:
			return nil, fmt.Errorf("flights endpoint error %q: %s", code, apiErrorMessage(body))
		}
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding flights page: %w", err)
	}

	return &Page{
		Limit:  envelope.Pagination.Limit,
		Offset: envelope.Pagination.Offset,
		Count:  envelope.Pagination.Count,
		Total:  envelope.Pagination.Total,
		Data:   envelope.Data,
	}, nil
}

func apiErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
