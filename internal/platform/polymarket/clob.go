package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/rest"
)

const (
	// DefaultClobURL is the production CLOB API root.
	DefaultClobURL = "https://clob.polymarket.com"

	// CLOB /book allows 500 req/10s; stay at 60% of it.
	booksRatePerSec = 30
	booksBurst      = 5
)

// ClobClient reads public order books from the Polymarket CLOB REST API.
// It is used to re-seed books that went quiet on the websocket.
type ClobClient struct {
	rest *rest.Client
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, logger *slog.Logger) *ClobClient {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	return &ClobClient{
		rest: rest.New(rest.Options{
			BaseURL:    baseURL,
			RatePerSec: booksRatePerSec,
			Burst:      booksBurst,
		}, logger),
	}
}

// GetBook returns the current book of one token as a snapshot event.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (domain.BookSnapshotEvent, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.rest.Get(ctx, "/book", params)
	if err != nil {
		return domain.BookSnapshotEvent{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book BookMessage
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.BookSnapshotEvent{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return BookToEvent(&book, time.Now()), nil
}
