// Package news fetches asset headlines from Alpaca, Google News RSS and
// CryptoPanic, scores them and stores them for the sentiment gates.
package news

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// Article is a single news article from any source.
type Article struct {
	Time     time.Time
	Source   string
	Headline string
	Content  string
}

// Source fetches articles about one symbol within [start, end].
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Article, error)
}

// --- HTTP client ---

var httpClient = &http.Client{Timeout: 10 * time.Second}

func get(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return resp, nil
}

// --- Alpaca ---

type newsClient interface {
	GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error)
}

// AlpacaSource reads the Alpaca news API. Crypto symbols are queried as
// "<SYM>USD", the form Alpaca tags crypto news with.
type AlpacaSource struct {
	client newsClient
	crypto bool
}

// NewAlpacaSource creates an AlpacaSource from API credentials.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, crypto bool) *AlpacaSource {
	opts := marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaSource{client: marketdata.NewClient(opts), crypto: crypto}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// Fetch returns up to 50 articles, oldest first.
func (s *AlpacaSource) Fetch(_ context.Context, symbol string, start, end time.Time) ([]Article, error) {
	query := symbol
	if s.crypto && !strings.HasSuffix(query, "USD") {
		query += "USD"
	}
	alpacaNews, err := s.client.GetNews(marketdata.GetNewsRequest{
		Symbols:            []string{query},
		Start:              start,
		End:                end,
		TotalLimit:         50,
		IncludeContent:     true,
		ExcludeContentless: false,
		Sort:               marketdata.SortAsc,
	})
	if err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(alpacaNews))
	for _, a := range alpacaNews {
		body := ""
		if a.Content != "" {
			body = ExtractSymbolContent(a.Content, symbol)
		} else if a.Summary != "" {
			body = a.Summary
		}
		articles = append(articles, Article{
			Time:     a.CreatedAt,
			Source:   "alpaca",
			Headline: a.Headline,
			Content:  body,
		})
	}
	return articles, nil
}

// --- Google News RSS ---

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

// GoogleNewsSource searches Google News RSS for "<query> <suffix>".
type GoogleNewsSource struct {
	baseURL string
	suffix  string
	aliases map[string]string
	client  *http.Client
}

// NewGoogleNewsSource creates a GoogleNewsSource. suffix is appended to each
// query, e.g. "stock" or "crypto". Symbols present in aliases are searched by
// their alias.
func NewGoogleNewsSource(suffix string, aliases map[string]string) *GoogleNewsSource {
	return &GoogleNewsSource{
		baseURL: "https://news.google.com/rss/search",
		suffix:  suffix,
		aliases: aliases,
		client:  httpClient,
	}
}

// Name returns "google".
func (s *GoogleNewsSource) Name() string { return "google" }

// Fetch returns feed items published within [start, end].
func (s *GoogleNewsSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Article, error) {
	term := symbol
	if alias, ok := s.aliases[symbol]; ok {
		term = alias
	}
	q := strings.TrimSpace(term + " " + s.suffix)
	u := s.baseURL + "?q=" + url.QueryEscape(q) + "&hl=en-US&gl=US&ceid=US:en"

	resp, err := get(ctx, s.client, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, err
	}

	var articles []Article
	for _, item := range rss.Channel.Items {
		t, ok := parsePubDate(item.PubDate)
		if !ok {
			continue
		}
		if t.Before(start) || t.After(end) {
			continue
		}
		headline := item.Title
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		articles = append(articles, Article{
			Time:     t.UTC(),
			Source:   "google",
			Headline: headline,
			Content:  StripHTML(item.Desc),
		})
	}
	return articles, nil
}

var pubDateLayouts = []string{
	"Mon, 02 Jan 2006 15:04 MST",
	time.RFC1123Z,
	time.RFC1123,
}

func parsePubDate(s string) (time.Time, bool) {
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// --- CryptoPanic ---

type cryptoPanicResponse struct {
	Results []struct {
		Title       string    `json:"title"`
		PublishedAt time.Time `json:"published_at"`
	} `json:"results"`
}

// CryptoPanicSource reads the CryptoPanic posts feed. The feed is not
// filtered by symbol; a post is attributed to a symbol when its title
// mentions the symbol's alias (e.g. "bitcoin" for BTC) or the ticker itself.
type CryptoPanicSource struct {
	baseURL string
	token   string
	aliases map[string]string
	client  *http.Client
}

// DefaultCryptoAliases maps tickers to the names headlines use.
var DefaultCryptoAliases = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
}

// NewCryptoPanicSource creates a CryptoPanicSource. A nil aliases map uses
// DefaultCryptoAliases.
func NewCryptoPanicSource(token string, aliases map[string]string) *CryptoPanicSource {
	if aliases == nil {
		aliases = DefaultCryptoAliases
	}
	return &CryptoPanicSource{
		baseURL: "https://cryptopanic.com/api/developer/v2/posts/",
		token:   token,
		aliases: aliases,
		client:  httpClient,
	}
}

// Name returns "cryptopanic".
func (s *CryptoPanicSource) Name() string { return "cryptopanic" }

// Fetch returns posts within [start, end] that mention symbol.
func (s *CryptoPanicSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Article, error) {
	if s.token == "" {
		return nil, nil
	}
	params := url.Values{
		"auth_token": {s.token},
		"kind":       {"news"},
		"filter":     {"rising|hot|bullish|bearish"},
		"public":     {"true"},
	}
	resp, err := get(ctx, s.client, s.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cp cryptoPanicResponse
	if err := json.NewDecoder(resp.Body).Decode(&cp); err != nil {
		return nil, fmt.Errorf("decoding cryptopanic: %w", err)
	}

	var articles []Article
	for _, it := range cp.Results {
		if it.PublishedAt.Before(start) || it.PublishedAt.After(end) {
			continue
		}
		if !s.mentions(it.Title, symbol) {
			continue
		}
		articles = append(articles, Article{
			Time:     it.PublishedAt.UTC(),
			Source:   "cryptopanic",
			Headline: it.Title,
		})
	}
	return articles, nil
}

func (s *CryptoPanicSource) mentions(title, symbol string) bool {
	lower := strings.ToLower(title)
	if alias, ok := s.aliases[symbol]; ok && strings.Contains(lower, alias) {
		return true
	}
	for _, w := range strings.FieldsFunc(title, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '$')
	}) {
		if strings.TrimPrefix(w, "$") == symbol {
			return true
		}
	}
	return false
}

// --- HTML helpers ---

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)
var htmlParaRe = regexp.MustCompile(`(?i)</?(p|br|div|li|h[1-6])\b[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// ExtractSymbolContent extracts paragraphs mentioning the symbol from HTML content.
// Falls back to full stripped HTML if no paragraphs mention the symbol.
func ExtractSymbolContent(rawHTML, symbol string) string {
	chunks := htmlParaRe.Split(rawHTML, -1)
	var matched []string
	upper := strings.ToUpper(symbol)
	for _, chunk := range chunks {
		plain := StripHTML(chunk)
		if plain == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(plain), upper) {
			matched = append(matched, plain)
		}
	}
	if len(matched) > 0 {
		return strings.Join(matched, " ")
	}
	return StripHTML(rawHTML)
}
