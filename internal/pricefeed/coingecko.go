package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	simplePricePath = "/simple/price"

	// DefaultBaseURL is the public CoinGecko v3 API.
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	// DefaultCoinID is CoinGecko's identifier for POL.
	DefaultCoinID = "polygon-ecosystem-token"
	// DefaultTimeout bounds a single quote request.
	DefaultTimeout = 5 * time.Second
)

// Source retrieves a live USD price for the volatile asset.
type Source interface {
	FetchUSD(ctx context.Context) (decimal.Decimal, error)
}

// CoinGeckoOptions parameterise the CoinGecko source.
type CoinGeckoOptions struct {
	BaseURL   string
	CoinID    string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// CoinGecko fetches spot prices from the simple/price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko source.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(opts.CoinID) == "" {
		opts.CoinID = DefaultCoinID
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchUSD returns the coin's USD price. Every failure is a *FetchError.
func (c *CoinGecko) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", c.opts.CoinID)
	query.Set("vs_currencies", "usd")
	endpoint := c.baseURL + simplePricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, &FetchError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "time26-oracle/1.0")
	}
	if key := strings.TrimSpace(c.opts.APIKey); key != "" {
		req.Header.Set("x-cg-demo-api-key", key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, &FetchError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Decimal{}, &FetchError{Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Decimal{}, &FetchError{Kind: KindStatus, Status: resp.StatusCode, Err: parseHTTPError(resp.StatusCode, payload)}
	}

	var body map[string]struct {
		USD *decimal.Decimal `json:"usd"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, &FetchError{Kind: KindDecode, Err: err}
	}

	entry, ok := body[c.opts.CoinID]
	if !ok || entry.USD == nil {
		return decimal.Decimal{}, &FetchError{Kind: KindMissing, Err: fmt.Errorf("no usd price for %q", c.opts.CoinID)}
	}
	if !entry.USD.IsPositive() {
		return decimal.Decimal{}, &FetchError{Kind: KindInvalid, Err: fmt.Errorf("non-positive price %s", entry.USD.String())}
	}

	c.logger.Debug().Str("coin", c.opts.CoinID).Str("usd", entry.USD.String()).Msg("price fetched")
	return *entry.USD, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ Source = (*CoinGecko)(nil)
