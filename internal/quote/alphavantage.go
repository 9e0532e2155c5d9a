package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
)

const alphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantage fetches quotes from the Alpha Vantage REST API.
type AlphaVantage struct {
	apiKey     string
	baseURL    string
	httpClient HTTPClient
}

// AlphaVantageOption is a configuration option for the Alpha Vantage client.
type AlphaVantageOption func(*AlphaVantage)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) AlphaVantageOption {
	return func(a *AlphaVantage) {
		if baseURL != "" {
			a.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) AlphaVantageOption {
	return func(a *AlphaVantage) {
		a.httpClient = httpClient
	}
}

// NewAlphaVantage creates a new Alpha Vantage provider.
func NewAlphaVantage(apiKey string, options ...AlphaVantageOption) *AlphaVantage {
	a := &AlphaVantage{
		apiKey:     apiKey,
		baseURL:    alphaVantageURL,
		httpClient: http.DefaultClient,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *AlphaVantage) Name() string { return "alpha_vantage" }

func (a *AlphaVantage) Ready() bool { return a.apiKey != "" }

// Fetch returns the global quote plus best-effort fundamentals.
func (a *AlphaVantage) Fetch(ctx context.Context, ticker string) (*models.Quote, error) {
	if !a.Ready() {
		return nil, failure(a.Name(), ticker, apperrors.KindAuthMissing, "ALPHA_VANTAGE_KEY not set", nil)
	}

	var gq struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := a.get(ctx, ticker, "GLOBAL_QUOTE", &gq); err != nil {
		return nil, err
	}

	raw := gq.GlobalQuote
	if len(raw) == 0 || (raw["05. price"] == "" && raw["08. previous close"] == "") {
		return nil, failure(a.Name(), ticker, apperrors.KindNotFound, "empty quote", nil)
	}

	price := parseOptFloat(raw["05. price"])
	if price == nil {
		return nil, failure(a.Name(), ticker, apperrors.KindParse, fmt.Sprintf("unparseable price %q", raw["05. price"]), nil)
	}

	q := &models.Quote{
		Symbol:           ticker,
		Price:            *price,
		Open:             parseOptFloat(raw["02. open"]),
		High:             parseOptFloat(raw["03. high"]),
		Low:              parseOptFloat(raw["04. low"]),
		PrevClose:        parseOptFloat(raw["08. previous close"]),
		Volume:           parseOptInt(raw["06. volume"]),
		LatestTradingDay: raw["07. latest trading day"],
		Source:           a.Name(),
	}
	if s := raw["01. symbol"]; s != "" {
		q.Symbol = models.NormalizeTicker(s)
	}

	// Fundamentals never fail the fetch.
	var ov map[string]string
	if err := a.get(ctx, ticker, "OVERVIEW", &ov); err == nil && len(ov) > 0 {
		applyOverview(q, ov)
	}

	return q, nil
}

func (a *AlphaVantage) get(ctx context.Context, ticker, function string, target interface{}) error {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return failure(a.Name(), ticker, apperrors.KindNetwork, "invalid base url", err)
	}
	query := u.Query()
	query.Set("function", function)
	query.Set("symbol", ticker)
	query.Set("apikey", a.apiKey)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return failure(a.Name(), ticker, apperrors.KindNetwork, "creating request", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return failure(a.Name(), ticker, apperrors.KindNetwork, function+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return failure(a.Name(), ticker, apperrors.KindRateLimited, "HTTP 429", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return failure(a.Name(), ticker, apperrors.KindNetwork, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return failure(a.Name(), ticker, apperrors.KindParse, "decoding "+function, err)
	}

	// Throttling responses carry a Note or Information message instead of data.
	if msg, ok := body["Note"]; ok {
		return failure(a.Name(), ticker, apperrors.KindRateLimited, unquote(msg), nil)
	}
	if msg, ok := body["Information"]; ok {
		return failure(a.Name(), ticker, apperrors.KindRateLimited, unquote(msg), nil)
	}
	if msg, ok := body["Error Message"]; ok {
		return failure(a.Name(), ticker, apperrors.KindNotFound, unquote(msg), nil)
	}

	encoded, _ := json.Marshal(body)
	if err := json.Unmarshal(encoded, target); err != nil {
		return failure(a.Name(), ticker, apperrors.KindParse, "decoding "+function, err)
	}
	return nil
}

func applyOverview(q *models.Quote, ov map[string]string) {
	if v := parseOptInt(ov["MarketCapitalization"]); v != nil {
		q.MarketCap = v
	}
	q.PERatio = parseOptFloat(ov["PERatio"])
	if dy := parseOptFloat(ov["DividendYield"]); dy != nil {
		q.DividendYieldPercent = models.Float(*dy * 100)
	}
	q.FiftyTwoWeekHigh = parseOptFloat(ov["52WeekHigh"])
	q.FiftyTwoWeekLow = parseOptFloat(ov["52WeekLow"])
	if dps := parseOptFloat(ov["DividendPerShare"]); dps != nil {
		q.QuarterlyDividendAmount = models.Float(*dps / 4)
	}
	q.Description = shortDescription(ov)
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// firstSentence returns the first sentence of text, terminated with a period
// when it has no punctuation of its own.
func firstSentence(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	if loc := sentenceEnd.FindStringIndex(t); loc != nil {
		t = t[:loc[0]+1]
	}
	t = strings.TrimSpace(t)
	if !strings.ContainsAny(t[len(t)-1:], ".!?") {
		t += "."
	}
	return t
}

func shortDescription(ov map[string]string) string {
	if d := firstSentence(ov["Description"]); d != "" {
		return d
	}
	industry := strings.TrimSpace(ov["Industry"])
	sector := strings.TrimSpace(ov["Sector"])
	switch {
	case industry != "" && sector != "":
		return fmt.Sprintf("%s business in the %s sector.", industry, sector)
	case industry != "":
		return industry + " business."
	case sector != "":
		return fmt.Sprintf("Operates in the %s sector.", sector)
	}
	return ""
}

func parseOptFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseOptInt(s string) *int64 {
	f := parseOptFloat(s)
	if f == nil {
		return nil
	}
	v := int64(*f)
	return &v
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
