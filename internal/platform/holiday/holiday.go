// Package holiday resolves whether a calendar date is a recognized holiday,
// caching per-year lookups so grace computation stays cheap.
package holiday

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Provider fetches the holiday dates for one year, keyed YYYY-MM-DD.
type Provider interface {
	Holidays(ctx context.Context, year int) (map[string]bool, error)
}

const (
	cacheTTL     = 24 * time.Hour
	fetchTimeout = 5 * time.Second
)

// Calendar caches provider lookups. A fetch failure is treated as
// "not a holiday" so grace computation never blocks on the provider.
type Calendar struct {
	provider Provider
	cache    *gocache.Cache
	log      zerolog.Logger
}

func NewCalendar(provider Provider, log zerolog.Logger) *Calendar {
	return &Calendar{
		provider: provider,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		log:      log,
	}
}

func (c *Calendar) IsHoliday(date time.Time) bool {
	year := date.Year()
	key := strconv.Itoa(year)

	var days map[string]bool
	if cached, ok := c.cache.Get(key); ok {
		days = cached.(map[string]bool)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		fetched, err := c.provider.Holidays(ctx, year)
		if err != nil {
			c.log.Warn().Err(err).Int("year", year).Msg("holiday lookup failed")
			return false
		}
		days = fetched
		c.cache.Set(key, days, gocache.DefaultExpiration)
	}
	return days[date.Format("2006-01-02")]
}

// StaticProvider serves a fixed date set, used in tests and deployments
// without an upstream holiday feed.
type StaticProvider struct {
	Dates map[string]bool
}

func (p *StaticProvider) Holidays(_ context.Context, year int) (map[string]bool, error) {
	prefix := strconv.Itoa(year) + "-"
	out := make(map[string]bool)
	for d := range p.Dates {
		if len(d) >= len(prefix) && d[:len(prefix)] == prefix {
			out[d] = true
		}
	}
	return out, nil
}
