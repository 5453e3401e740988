package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultCoinGeckoURL is the simple-price endpoint for SOL in USD.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"

// CoinGecko fetches the SOL/USD rate from the CoinGecko simple-price API.
type CoinGecko struct {
	url    string
	client *http.Client
}

// NewCoinGecko creates a CoinGecko fetcher. An empty url selects DefaultCoinGeckoURL.
func NewCoinGecko(url string, client *http.Client) *CoinGecko {
	if url == "" {
		url = DefaultCoinGeckoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoinGecko{url: url, client: client}
}

// Fetch returns the current SOL price in USD.
func (c *CoinGecko) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	price := gjson.GetBytes(body, "solana.usd")
	if !price.Exists() || price.Type != gjson.Number {
		return 0, fmt.Errorf("price missing from response: %s", string(body))
	}
	if price.Float() <= 0 {
		return 0, fmt.Errorf("invalid price %v", price.Float())
	}
	return price.Float(), nil
}
