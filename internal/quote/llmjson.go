package quote

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
)

// quoteSchema is the JSON object the LLM providers are asked to return.
const quoteSchema = `{"symbol":"<TICKER>",` +
	`"price":<number or null>,"prev_close":<number or null>,` +
	`"open":<number or null>,"high":<number or null>,"low":<number or null>,` +
	`"volume":<integer or null>,"latest_trading_day":<YYYY-MM-DD or null>,` +
	`"next_earning_day":<YYYY-MM-DD or null>,` +
	`"change":<number or null>,"change_percent":<string or null>,` +
	`"market_cap":<integer or null>,"pe_ratio":<number or null>,` +
	`"dividend_yield_percent":<number or null>,` +
	`"fifty_two_week_high":<number or null>,"fifty_two_week_low":<number or null>,` +
	`"quarterly_dividend_amount":<number or null>,` +
	`"description":<string or null>,"error":<null or short error string>}`

const extractorInstruction = "You are a finance quote extractor. Use web search to fetch a current price " +
	"and basic fundamentals for the given US stock ticker from reputable finance sites " +
	"(exchange site, Nasdaq, Yahoo Finance, company IR). Return ONLY one JSON object with the exact " +
	"schema given. If you cannot verify fresh data, set all numeric fields to null and " +
	"error='no_realtime_access'. Description: one concise sentence on the business. " +
	"Include the next scheduled earnings date as next_earning_day when announced. " +
	"Never guess or fabricate numbers. No markdown, code fences or commentary."

func quotePrompt(ticker string) string {
	return fmt.Sprintf("Ticker: %s\nReturn ONLY this JSON object:\n%s",
		ticker, strings.ReplaceAll(quoteSchema, "<TICKER>", ticker))
}

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// stripFences removes markdown code fences around a JSON payload.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if m := fencedBlock.FindStringSubmatch(t); m != nil {
		return strings.TrimSpace(m[1])
	}
	if i := strings.Index(t, "```"); i > 0 {
		return strings.TrimSpace(t[:i])
	}
	if strings.HasPrefix(t, "```") {
		if nl := strings.IndexByte(t, '\n'); nl >= 0 {
			t = t[nl+1:]
		} else {
			t = strings.TrimPrefix(t, "```")
		}
	}
	return strings.TrimSpace(t)
}

// firstJSONObject returns the first balanced {...} in s, honoring strings and
// escapes.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var magnitudes = map[byte]float64{'K': 1e3, 'M': 1e6, 'B': 1e9, 'T': 1e12}

// coerceFloat converts a JSON value into a float. Strings may carry a
// percent sign, a currency prefix, thousands separators or a K/M/B/T suffix.
func coerceFloat(v interface{}) *float64 {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return &x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimPrefix(s, "$")
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return nil
		}
		mult := 1.0
		if m, ok := magnitudes[strings.ToUpper(s[len(s)-1:])[0]]; ok {
			mult = m
			s = strings.TrimSpace(s[:len(s)-1])
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		f *= mult
		return &f
	}
	return nil
}

func coerceInt(v interface{}) *int64 {
	f := coerceFloat(v)
	if f == nil {
		return nil
	}
	i := int64(math.Round(*f))
	return &i
}

func coerceString(v interface{}) string {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "null") {
			return ""
		}
		return s
	}
	return ""
}

// errorKind maps a model-reported error string to a failure kind.
// no_realtime_access means the model could not verify fresh numbers and is
// treated as an unusable response.
func errorKind(s string) apperrors.FailureKind {
	e := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(e, "rate") && strings.Contains(e, "limit"):
		return apperrors.KindRateLimited
	case strings.Contains(e, "key_missing"), strings.Contains(e, "api key"),
		strings.Contains(e, "no_api_key"), strings.Contains(e, "unauth"):
		return apperrors.KindAuthMissing
	case strings.Contains(e, "invalid_symbol"), strings.Contains(e, "bad_symbol"),
		strings.Contains(e, "not found"), strings.Contains(e, "empty"):
		return apperrors.KindNotFound
	case strings.Contains(e, "network"):
		return apperrors.KindNetwork
	case strings.Contains(e, "market_closed"):
		return apperrors.KindMarketClosed
	default:
		return apperrors.KindParse
	}
}

// decodeLLMQuote turns a model response into a quote.
func decodeLLMQuote(provider, ticker, text string) (*models.Quote, error) {
	cleaned := stripFences(text)
	candidate, ok := firstJSONObject(cleaned)
	if !ok {
		candidate = cleaned
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, failure(provider, ticker, apperrors.KindParse, "response is not a JSON object", err)
	}

	price := coerceFloat(data["price"])
	prevClose := coerceFloat(data["prev_close"])

	if msg := coerceString(data["error"]); msg != "" {
		return nil, failure(provider, ticker, errorKind(msg), msg, nil)
	}
	if price == nil && prevClose == nil {
		return nil, failure(provider, ticker, apperrors.KindNotFound, "empty quote", nil)
	}
	if price == nil {
		return nil, failure(provider, ticker, apperrors.KindParse, "missing price", nil)
	}

	q := &models.Quote{
		Symbol:                  ticker,
		Price:                   *price,
		PrevClose:               prevClose,
		Open:                    coerceFloat(data["open"]),
		High:                    coerceFloat(data["high"]),
		Low:                     coerceFloat(data["low"]),
		Volume:                  coerceInt(data["volume"]),
		Change:                  coerceFloat(data["change"]),
		ChangePercent:           coerceFloat(data["change_percent"]),
		MarketCap:               coerceInt(data["market_cap"]),
		PERatio:                 coerceFloat(data["pe_ratio"]),
		DividendYieldPercent:    coerceFloat(data["dividend_yield_percent"]),
		FiftyTwoWeekHigh:        coerceFloat(data["fifty_two_week_high"]),
		FiftyTwoWeekLow:         coerceFloat(data["fifty_two_week_low"]),
		QuarterlyDividendAmount: coerceFloat(data["quarterly_dividend_amount"]),
		Description:             coerceString(data["description"]),
		NextEarningsDay:         coerceString(data["next_earning_day"]),
		LatestTradingDay:        coerceString(data["latest_trading_day"]),
		Source:                  provider,
	}
	return q, nil
}
