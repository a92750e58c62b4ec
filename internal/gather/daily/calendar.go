package daily

import (
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Calendar returns US market sessions.
type Calendar interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewAlpacaCalendar returns the Alpaca trading API client, which implements
// Calendar.
func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// LatestFinishedTradingDay returns the most recent trading day whose market
// session has ended as of now (after 20:05 ET to account for extended hours
// data settling).
func LatestFinishedTradingDay(cal Calendar, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := cal.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return time.Time{}, errors.New("no trading days returned from calendar")
	}

	today := now.Format(time.DateOnly)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(days) - 1; i >= 0; i-- {
		day := days[i]
		if day.Date == today && !now.After(cutoff) {
			continue
		}
		d, err := time.Parse(time.DateOnly, day.Date)
		if err != nil {
			continue
		}
		if day.Date == today || d.Before(now) {
			return d, nil
		}
	}

	return time.Time{}, errors.New("could not determine latest finished trading day")
}

// LatestFinishedCryptoDay returns the previous UTC calendar day. Crypto
// trades around the clock, so a daily bar is final once its UTC day ends.
func LatestFinishedCryptoDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
