package calendar

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrEmptyRange is returned when start is after end.
var ErrEmptyRange = fmt.Errorf("calendar: start date is after end date")

// UnknownVenueError is returned for venues without a rules dataset.
type UnknownVenueError struct {
	Venue string
}

func (e *UnknownVenueError) Error() string {
	return fmt.Sprintf("calendar: unknown venue %q", e.Venue)
}

const dateLayout = "2006-01-02"

// Provider produces the canonical set of trading days for a venue. Results
// are deterministic and cached per (venue, start, end); no I/O is involved.
type Provider struct {
	mu    sync.Mutex
	cache map[string][]string
}

// NewProvider creates an empty calendar provider.
func NewProvider() *Provider {
	return &Provider{cache: make(map[string][]string)}
}

// TradingDays returns the ordered, deduplicated trading days for venue over
// the inclusive window [start, end]. Dates are naive YYYY-MM-DD strings.
func (p *Provider) TradingDays(venue, start, end string) ([]string, error) {
	v := normalizeVenue(venue)
	if v == "" {
		return nil, &UnknownVenueError{Venue: venue}
	}

	startDay, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("calendar: bad start date %q: %w", start, err)
	}
	endDay, err := time.Parse(dateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("calendar: bad end date %q: %w", end, err)
	}
	if startDay.After(endDay) {
		return nil, ErrEmptyRange
	}

	key := v + "|" + start + "|" + end
	p.mu.Lock()
	if days, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return days, nil
	}
	p.mu.Unlock()

	days := make([]string, 0, int(endDay.Sub(startDay).Hours()/24)+1)
	holidays := map[int]map[string]bool{}
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		year := d.Year()
		if _, ok := holidays[year]; !ok {
			holidays[year] = nyseHolidays(year)
		}
		day := d.Format(dateLayout)
		if holidays[year][day] {
			continue
		}
		days = append(days, day)
	}

	p.mu.Lock()
	p.cache[key] = days
	p.mu.Unlock()
	return days, nil
}

// normalizeVenue maps recognized venue tags onto the internal rule set name.
func normalizeVenue(venue string) string {
	switch strings.ToUpper(strings.TrimSpace(venue)) {
	case "NYSE", "XNYS", "NASDAQ", "XNAS":
		return "nyse"
	default:
		return ""
	}
}

// nyseHolidays returns the full-day market holidays for one year, with
// weekend holidays shifted to their observed weekday.
func nyseHolidays(year int) map[string]bool {
	h := make(map[string]bool, 10)
	add := func(d time.Time) { h[d.Format(dateLayout)] = true }

	// New Year's Day. When it falls on Saturday the observance rolls into the
	// prior year and is not an exchange holiday in this one.
	ny := observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
	if ny.Year() == year {
		add(ny)
	}

	add(nthWeekday(year, time.January, time.Monday, 3))  // Martin Luther King Jr. Day
	add(nthWeekday(year, time.February, time.Monday, 3)) // Washington's Birthday
	add(easterSunday(year).AddDate(0, 0, -2))            // Good Friday
	add(lastWeekday(year, time.May, time.Monday))        // Memorial Day
	if year >= 2022 {
		add(observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC))) // Juneteenth
	}
	add(observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC))) // Independence Day
	add(nthWeekday(year, time.September, time.Monday, 1))              // Labor Day
	add(nthWeekday(year, time.November, time.Thursday, 4))             // Thanksgiving
	add(observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)))

	return h
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

// nthWeekday returns the nth given weekday of a month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// easterSunday computes Gregorian Easter via the anonymous computus.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
