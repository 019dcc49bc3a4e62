package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"lendpool/observability"
)

// PriceScale is the fixed-point unit prices are denominated in: a price of
// 1e18 means one asset unit is worth exactly one unit of account.
var PriceScale = big.NewInt(1_000_000_000_000_000_000)

// PriceQuote captures a feed observation along with the timestamp reported by
// the upstream oracle and the oracle identifier. Price is carried as reported,
// sign included; validation against non-positive values happens in the risk
// engine so the failure surfaces as an invalid-price error rather than being
// silently dropped here.
type PriceQuote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Source resolves the latest price for the provided feed identifier.
type Source interface {
	LatestPrice(feedID string) (PriceQuote, error)
}

// ErrNoFreshQuote indicates that no source produced a quote within the
// configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// ErrFeedNotFound indicates the feed identifier is unknown to the source.
var ErrFeedNotFound = errors.New("oracle: feed not found")

// FeedHealth captures metadata about the last observation per feed.
type FeedHealth struct {
	FeedID       string
	LastObserved time.Time
	Source       string
}

// Aggregator consults a list of registered sources in priority order until a
// fresh quote is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
	maxAge   time.Duration
	observed map[string]PriceQuote
}

// NewAggregator constructs a new aggregator with the provided priority and
// freshness window. When priority is nil a zero-length slice is initialised so
// that Register can safely append identifiers without additional checks.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := append([]string{}, priority...)
	return &Aggregator{
		priority: prio,
		sources:  make(map[string]Source),
		maxAge:   maxAge,
		observed: make(map[string]PriceQuote),
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a source under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent regardless
// of configuration casing.
func (a *Aggregator) Register(name string, source Source) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// LatestPrice fetches a quote from the configured sources respecting the
// priority ordering. Quotes older than the freshness window are skipped; the
// returned quote is a defensive copy.
func (a *Aggregator) LatestPrice(feedID string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("oracle aggregator not configured")
	}
	feed := NormalizeFeedID(feedID)
	if feed == "" {
		return PriceQuote{}, fmt.Errorf("oracle: feed id required")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	a.mu.RUnlock()

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[strings.ToLower(name)]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		quote, err := source.LatestPrice(feed)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil {
			lastErr = fmt.Errorf("oracle %s returned empty price for %s", name, feed)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		a.recordObservation(feed, result)
		observability.Oracle().RecordQuote(feed, time.Since(result.Timestamp), nil)
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	observability.Oracle().RecordQuote(feed, 0, lastErr)
	return PriceQuote{}, lastErr
}

func (a *Aggregator) recordObservation(feed string, quote PriceQuote) {
	a.mu.Lock()
	if a.observed == nil {
		a.observed = make(map[string]PriceQuote)
	}
	a.observed[feed] = quote.Clone()
	a.mu.Unlock()
}

// Health reports the last observation per feed, sorted by feed id. The
// information is safe for concurrent access.
func (a *Aggregator) Health() []FeedHealth {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	feeds := make([]FeedHealth, 0, len(a.observed))
	for feed, quote := range a.observed {
		feeds = append(feeds, FeedHealth{FeedID: feed, LastObserved: quote.Timestamp, Source: quote.Source})
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].FeedID < feeds[j].FeedID })
	return feeds
}

// ManualOracle provides an in-memory source implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

// Set stores the provided fixed-point price for the feed.
func (m *ManualOracle) Set(feedID string, price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	feed := NormalizeFeedID(feedID)
	if feed == "" {
		return
	}
	m.mu.Lock()
	m.quotes[feed] = PriceQuote{Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal records the supplied decimal price (in units of account per asset
// unit) for the feed, converting to the fixed-point scale.
func (m *ManualOracle) SetDecimal(feedID, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid price %q", price)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(PriceScale))
	m.Set(feedID, new(big.Int).Quo(scaled.Num(), scaled.Denom()), ts)
	return nil
}

// LatestPrice retrieves the stored price for the feed.
func (m *ManualOracle) LatestPrice(feedID string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	feed := NormalizeFeedID(feedID)
	m.mu.RLock()
	stored, ok := m.quotes[feed]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feed)
	}
	return stored.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOracle fetches price data from a JSON quote endpoint. The endpoint is
// expected to answer GET <endpoint>?feed=<id> with a body of the form
// {"price":"<integer, 1e18 scale>","timestamp":<unix seconds>}.
type HTTPOracle struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPOracle constructs an HTTP oracle adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPOracle(client HTTPDoer, endpoint, apiKey string) *HTTPOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (o *HTTPOracle) LatestPrice(feedID string) (PriceQuote, error) {
	if o == nil || o.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("http oracle not configured")
	}
	feed := NormalizeFeedID(feedID)
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("feed", feed)
	req.URL.RawQuery = values.Encode()
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feed)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("http oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("http oracle: decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed == "" {
		return PriceQuote{}, fmt.Errorf("http oracle: empty price")
	}
	price, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return PriceQuote{}, fmt.Errorf("http oracle: invalid price %q", payload.Price)
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	return PriceQuote{Price: price, Timestamp: ts, Source: "http"}, nil
}

// NormalizeFeedID canonicalises feed identifiers for map lookups.
func NormalizeFeedID(feedID string) string {
	return strings.ToUpper(strings.TrimSpace(feedID))
}
