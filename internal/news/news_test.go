package news

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"polyagents/internal/store"
)

func TestLexiconScore(t *testing.T) {
	l := NewLexicon()

	if s := l.Score("Bitcoin surges to record highs"); s <= 0 {
		t.Errorf("positive headline scored %v", s)
	}
	if s := l.Score("Exchange hacked, ether plunges"); s >= 0 {
		t.Errorf("negative headline scored %v", s)
	}
	if s := l.Score("ETF filing scheduled for Tuesday"); s != 0 {
		t.Errorf("neutral headline scored %v", s)
	}

	plain := l.Score("Bitcoin gains")
	negated := l.Score("Bitcoin fails to hold gains")
	if negated >= 0 || plain <= 0 {
		t.Errorf("negation: plain=%v negated=%v", plain, negated)
	}

	boosted := l.Score("Bitcoin sharply gains")
	if boosted <= plain {
		t.Errorf("booster did not intensify: %v <= %v", boosted, plain)
	}

	for _, text := range []string{
		"great great great great great great great great great great success",
		"crash crash crash collapse fraud bankruptcy worst panic",
	} {
		if s := l.Score(text); math.Abs(s) >= 1 {
			t.Errorf("score %v out of (-1, 1) for %q", s, text)
		}
	}
}

func TestStripHTMLAndExtract(t *testing.T) {
	if got := StripHTML("<p>Hello&nbsp;<b>world</b></p>\n  again"); got != "Hello world again" {
		t.Errorf("StripHTML = %q", got)
	}

	raw := "<p>Markets were quiet.</p><p>BTC rallied 5%.</p><p>Gold flat.</p>"
	if got := ExtractSymbolContent(raw, "btc"); got != "BTC rallied 5%." {
		t.Errorf("ExtractSymbolContent = %q", got)
	}
	if got := ExtractSymbolContent(raw, "SOL"); got != "Markets were quiet. BTC rallied 5%. Gold flat." {
		t.Errorf("fallback = %q", got)
	}
}

type fakeNews struct {
	got marketdata.GetNewsRequest
}

func (f *fakeNews) GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error) {
	f.got = req
	return []marketdata.News{
		{Headline: "ETH rallies", CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Summary: "summary"},
		{Headline: "ETH slips", CreatedAt: time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), Content: "<p>ETH slipped.</p><p>Other.</p>"},
	}, nil
}

func TestAlpacaSource(t *testing.T) {
	fc := &fakeNews{}
	src := &AlpacaSource{client: fc, crypto: true}

	arts, err := src.Fetch(context.Background(), "ETH", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fc.got.Symbols[0] != "ETHUSD" {
		t.Errorf("queried %v, want ETHUSD", fc.got.Symbols)
	}
	if len(arts) != 2 || arts[0].Content != "summary" || arts[1].Content != "ETH slipped." {
		t.Errorf("unexpected articles %+v", arts)
	}

	src.crypto = false
	src.Fetch(context.Background(), "SPY", time.Time{}, time.Now())
	if fc.got.Symbols[0] != "SPY" {
		t.Errorf("queried %v, want SPY", fc.got.Symbols)
	}
}

const rssBody = `<?xml version="1.0"?>
<rss><channel>
<item><title>Bitcoin soars past 70k - Example News</title><pubDate>Fri, 01 Mar 2024 12:00:00 +0000</pubDate><description>&lt;b&gt;big&lt;/b&gt; day</description></item>
<item><title>Bitcoin miners steady - Wire</title><pubDate>Thu, 15 Feb 2024 09:30 GMT</pubDate></item>
<item><title>Old story - Example</title><pubDate>Mon, 01 Jan 2024 12:00:00 +0000</pubDate></item>
<item><title>Bad date</title><pubDate>yesterday</pubDate></item>
</channel></rss>`

func TestGoogleNewsSource(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		fmt.Fprint(w, rssBody)
	}))
	defer ts.Close()

	src := NewGoogleNewsSource("crypto", DefaultCryptoAliases)
	src.baseURL = ts.URL
	src.client = ts.Client()

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	arts, err := src.Fetch(context.Background(), "BTC", start, start.AddDate(0, 1, 1))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if query != "bitcoin crypto" {
		t.Errorf("query = %q", query)
	}
	if len(arts) != 2 {
		t.Fatalf("got %d articles, want 2", len(arts))
	}
	if arts[0].Headline != "Bitcoin soars past 70k" || arts[0].Content != "big day" {
		t.Errorf("unexpected article %+v", arts[0])
	}
	if want := time.Date(2024, 2, 15, 9, 30, 0, 0, time.UTC); arts[1].Headline != "Bitcoin miners steady" || !arts[1].Time.Equal(want) {
		t.Errorf("short pubDate article = %+v", arts[1])
	}
}

func TestParsePubDate(t *testing.T) {
	for _, in := range []string{
		"Fri, 01 Mar 2024 12:00 GMT",
		"Fri, 01 Mar 2024 12:00:00 +0000",
		"Fri, 01 Mar 2024 12:00:00 GMT",
	} {
		got, ok := parsePubDate(in)
		if !ok || !got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("parsePubDate(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := parsePubDate("yesterday"); ok {
		t.Error("parsed an invalid pubDate")
	}
}

func TestGoogleNewsSourceHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	src := NewGoogleNewsSource("stock", nil)
	src.baseURL = ts.URL
	if _, err := src.Fetch(context.Background(), "SPY", time.Time{}, time.Now()); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestCryptoPanicSource(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("auth_token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"results":[
			{"title":"Ethereum upgrade approved","published_at":"2024-03-01T10:00:00Z"},
			{"title":"Bitcoin miners capitulate","published_at":"2024-03-01T11:00:00Z"},
			{"title":"$ETH whales accumulate","published_at":"2024-03-01T12:00:00Z"},
			{"title":"Ethereum old news","published_at":"2023-03-01T12:00:00Z"}
		]}`)
	}))
	defer ts.Close()

	src := NewCryptoPanicSource("tok", nil)
	src.baseURL = ts.URL
	src.client = ts.Client()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	arts, err := src.Fetch(context.Background(), "ETH", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("got %d articles, want 2: %+v", len(arts), arts)
	}
	if arts[0].Headline != "Ethereum upgrade approved" || arts[1].Headline != "$ETH whales accumulate" {
		t.Errorf("unexpected articles %+v", arts)
	}

	none, err := NewCryptoPanicSource("", nil).Fetch(context.Background(), "ETH", start, start)
	if err != nil || none != nil {
		t.Errorf("tokenless fetch = %v, %v", none, err)
	}
}

// ---------------------------------------------------------------------------
// Gatherer
// ---------------------------------------------------------------------------

type stubSource struct {
	name     string
	articles map[string][]Article
	err      error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, symbol string, _, _ time.Time) ([]Article, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.articles[symbol], nil
}

func TestHeadlineGathererRun(t *testing.T) {
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	ps := store.NewParquetStore(t.TempDir())

	good := &stubSource{name: "stub", articles: map[string][]Article{
		"BTC": {
			{Time: now.Add(-2 * time.Hour), Headline: "Bitcoin surges"},
			{Time: now.Add(-time.Hour), Headline: "Bitcoin plunges"},
			{Time: now.Add(-100 * time.Hour), Headline: "outside the window"},
			{Time: now.Add(-time.Hour), Headline: ""},
		},
	}}
	broken := &stubSource{name: "broken", err: errors.New("upstream down")}

	g := NewHeadlineGatherer([]Source{good, broken}, nil, ps, HeadlineOptions{
		Symbols:    []string{"BTC", "ETH"},
		Lookback:   72 * time.Hour,
		MaxWorkers: 2,
	}, nil)
	g.backoff = time.Millisecond
	g.now = func() time.Time { return now }

	if g.Name() != "headlines" {
		t.Errorf("Name = %q", g.Name())
	}
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := ps.ReadHeadlines(context.Background(), "BTC", now.Add(-72*time.Hour), now)
	if err != nil {
		t.Fatalf("ReadHeadlines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("stored %d headlines, want 2", len(got))
	}
	if got[0].Title != "Bitcoin surges" || got[0].Score <= 0 || got[1].Score >= 0 {
		t.Errorf("unexpected headlines %+v", got)
	}

	// A second pass over the same window does not duplicate rows.
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	again, _ := ps.ReadHeadlines(context.Background(), "BTC", now.Add(-72*time.Hour), now)
	if len(again) != 2 {
		t.Errorf("after rerun stored %d headlines, want 2", len(again))
	}
}

func TestHeadlineGathererAllFailing(t *testing.T) {
	g := NewHeadlineGatherer([]Source{&stubSource{name: "broken", err: errors.New("down")}}, nil,
		store.NewParquetStore(t.TempDir()), HeadlineOptions{Symbols: []string{"BTC"}}, nil)
	g.backoff = time.Millisecond

	err := g.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "all 1 fetches failed") {
		t.Fatalf("expected total failure, got %v", err)
	}
}

func TestHeadlineGathererConfigErrors(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	if err := NewHeadlineGatherer([]Source{&stubSource{}}, nil, ps, HeadlineOptions{}, nil).Run(context.Background()); err == nil {
		t.Error("expected error without symbols")
	}
	if err := NewHeadlineGatherer(nil, nil, ps, HeadlineOptions{Symbols: []string{"BTC"}}, nil).Run(context.Background()); err == nil {
		t.Error("expected error without sources")
	}
}
