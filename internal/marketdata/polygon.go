package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
)

// DefaultPolygonURL is the Polygon REST endpoint.
const DefaultPolygonURL = "https://api.polygon.io"

// PolygonOptions configures a PolygonChain.
type PolygonOptions struct {
	BaseURL   string
	PageDelay time.Duration // pause between paginated listing requests
	PageLimit int           // results per listing page
	Client    *http.Client
}

// PolygonChain lists option contracts and option daily aggregates through
// the Polygon REST API. Every request takes the next credential from the
// key ring.
type PolygonChain struct {
	keys      *KeyRing
	baseURL   string
	pageDelay time.Duration
	pageLimit int
	http      *http.Client
	log       *slog.Logger
}

// NewPolygonChain creates a PolygonChain rotating over keys.
func NewPolygonChain(keys *KeyRing, opts PolygonOptions) *PolygonChain {
	p := &PolygonChain{
		keys:      keys,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		pageDelay: opts.PageDelay,
		pageLimit: opts.PageLimit,
		http:      opts.Client,
		log:       slog.Default().With("component", "polygon"),
	}
	if p.baseURL == "" {
		p.baseURL = DefaultPolygonURL
	}
	if p.pageLimit <= 0 {
		p.pageLimit = 1000
	}
	if p.http == nil {
		p.http = &http.Client{Timeout: 30 * time.Second}
	}
	return p
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type polygonContract struct {
	Ticker            string  `json:"ticker"`
	UnderlyingTicker  string  `json:"underlying_ticker"`
	ContractType      string  `json:"contract_type"`
	ExpirationDate    string  `json:"expiration_date"`
	StrikePrice       float64 `json:"strike_price"`
	SharesPerContract int     `json:"shares_per_contract"`
}

type polygonContractsResponse struct {
	Status  string            `json:"status"`
	Results []polygonContract `json:"results"`
	NextURL string            `json:"next_url"`
}

type polygonAgg struct {
	Volume    float64 `json:"v"`
	VWAP      float64 `json:"vw"`
	Open      float64 `json:"o"`
	Close     float64 `json:"c"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Timestamp int64   `json:"t"`
}

type polygonAggsResponse struct {
	Status       string       `json:"status"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonAgg `json:"results"`
}

type polygonError struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// ListOptionContracts returns every contract matching q, following
// pagination. Expired contracts are included. A failed page does not fail
// the call: the contracts read so far are returned with Partial set. Only
// context cancellation is returned as an error.
func (p *PolygonChain) ListOptionContracts(ctx context.Context, q ContractQuery) (ContractListing, error) {
	cred := p.keys.NextClient()

	v := url.Values{}
	v.Set("underlying_ticker", strings.ToUpper(q.Underlying))
	if q.Type != "" {
		v.Set("contract_type", string(q.Type))
	}
	v.Set("expiration_date.gte", calendar.Format(q.ExpirationGTE))
	v.Set("expiration_date.lte", calendar.Format(q.ExpirationLTE))
	v.Set("strike_price.gte", q.StrikeGTE.String())
	v.Set("strike_price.lte", q.StrikeLTE.String())
	v.Set("expired", "true")
	v.Set("limit", fmt.Sprintf("%d", p.pageLimit))
	next := p.baseURL + "/v3/reference/options/contracts?" + v.Encode()

	var listing ContractListing
	for page := 0; next != ""; page++ {
		if page > 0 && p.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return listing, ctx.Err()
			case <-time.After(p.pageDelay):
			}
		}

		var resp polygonContractsResponse
		if err := p.getJSON(ctx, cred, next, &resp); err != nil {
			if ctx.Err() != nil {
				return listing, ctx.Err()
			}
			listing.Partial = fmt.Errorf("listing page %d: %w", page+1, err)
			p.log.Warn("option contract listing failed", "underlying", q.Underlying, "page", page+1, "read", len(listing.Contracts), "error", err)
			return listing, nil
		}

		for _, c := range resp.Results {
			oc, err := c.toDomain()
			if err != nil {
				p.log.Warn("skipping malformed contract", "ticker", c.Ticker, "error", err)
				continue
			}
			listing.Contracts = append(listing.Contracts, oc)
		}
		next = resp.NextURL
	}
	return listing, nil
}

func (c polygonContract) toDomain() (domain.OptionContract, error) {
	exp, err := calendar.ParseDate(c.ExpirationDate)
	if err != nil {
		return domain.OptionContract{}, err
	}
	return domain.OptionContract{
		Ticker:            c.Ticker,
		Underlying:        c.UnderlyingTicker,
		ExpirationDate:    exp,
		StrikePrice:       decimal.NewFromFloat(c.StrikePrice),
		ContractType:      domain.ContractType(c.ContractType),
		SharesPerContract: c.SharesPerContract,
	}, nil
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

// OptionDailyBar returns the daily aggregate for optionTicker on day.
func (p *PolygonChain) OptionDailyBar(ctx context.Context, optionTicker string, day time.Time) (domain.OptionBar, error) {
	cred := p.keys.NextClient()
	d := calendar.Format(day)
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&limit=1",
		p.baseURL, url.PathEscape(optionTicker), d, d)

	var resp polygonAggsResponse
	if err := p.getJSON(ctx, cred, u, &resp); err != nil {
		return domain.OptionBar{}, fmt.Errorf("option aggregates for %s on %s: %w", optionTicker, d, err)
	}
	if len(resp.Results) == 0 {
		return domain.OptionBar{}, fmt.Errorf("option aggregates for %s on %s: %w", optionTicker, d, ErrDataUnavailable)
	}

	a := resp.Results[0]
	return domain.OptionBar{
		Ticker:    optionTicker,
		Timestamp: time.UnixMilli(a.Timestamp).UTC(),
		Open:      a.Open,
		High:      a.High,
		Low:       a.Low,
		Close:     a.Close,
		Volume:    a.Volume,
		VWAP:      a.VWAP,
	}, nil
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func (p *PolygonChain) getJSON(ctx context.Context, cred *Credential, rawURL string, out any) error {
	if err := cred.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Key)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var pe polygonError
		_ = json.Unmarshal(body, &pe)
		msg := pe.Error
		if msg == "" {
			msg = pe.Message
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("polygon: HTTP %d: %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
