// Package surprise joins articles to nearby economic calendar events and
// scores how far the actual print deviated from the forecast.
package surprise

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"storyline/internal/core"
	"storyline/internal/logger"
)

const (
	// eventWindow is how far around publication time matching events are
	// searched, on each side.
	eventWindow = 48 * time.Hour
	// denominatorFloor prevents division blow-ups when the forecast is
	// zero or near zero; scores saturate at 1.0 instead.
	denominatorFloor = 1e-3
)

// stopwords are generic event-type fragments that carry no matching signal.
var stopwords = map[string]struct{}{
	"data":         {},
	"report":       {},
	"announcement": {},
	"event":        {},
}

// synonyms expands an event-type keyword into the phrases providers use in
// calendar event names.
var synonyms = map[string][]string{
	"inflation":  {"inflation", "cpi", "consumer price"},
	"employment": {"employment", "nonfarm", "payroll", "unemployment", "jobless"},
	"rate":       {"rate", "interest"},
	"gdp":        {"gdp", "growth"},
	"central":    {"central bank", "policy"},
	"bank":       {"central bank", "policy"},
}

// EventFinder is the persistence surface the calculator needs.
type EventFinder interface {
	FindEvents(ctx context.Context, start, end time.Time, keywords []string) ([]core.EconomicEvent, error)
}

// Calculator computes normalized actual-vs-forecast surprise scores.
type Calculator struct {
	events EventFinder
	log    *slog.Logger
}

// NewCalculator creates a calculator over the event store.
func NewCalculator(events EventFinder) *Calculator {
	return &Calculator{events: events, log: logger.Get()}
}

// Score finds the economic event nearest to publishedAt that matches the
// event type's keywords and returns min(1, |actual-forecast| / max(|forecast|, 1e-3)).
// It returns nil when no matching event with both values exists.
func (c *Calculator) Score(ctx context.Context, eventType string, publishedAt *time.Time) (*float64, error) {
	if eventType == "" || publishedAt == nil {
		return nil, nil
	}

	keywords := ExpandKeywords(eventType)
	if len(keywords) == 0 {
		return nil, nil
	}

	start := publishedAt.Add(-eventWindow)
	end := publishedAt.Add(eventWindow)
	events, err := c.events.FindEvents(ctx, start, end, keywords)
	if err != nil {
		return nil, err
	}

	event := nearestEvent(events, *publishedAt)
	if event == nil {
		return nil, nil
	}
	if event.ActualValue == nil || event.ForecastValue == nil {
		c.log.Debug("Nearest economic event lacks actual or forecast", "event", event.EventName)
		return nil, nil
	}

	score := computeScore(*event.ActualValue, *event.ForecastValue)
	return &score, nil
}

// ExpandKeywords splits an event type on separators, drops stopwords, and
// expands each remaining keyword through the synonym table.
func ExpandKeywords(eventType string) []string {
	lowered := strings.ToLower(eventType)
	lowered = strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(lowered)

	seen := make(map[string]struct{})
	var keywords []string
	add := func(kw string) {
		if _, dup := seen[kw]; dup {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, token := range strings.Fields(lowered) {
		if _, stop := stopwords[token]; stop {
			continue
		}
		if expansions, ok := synonyms[token]; ok {
			for _, exp := range expansions {
				add(exp)
			}
			continue
		}
		add(token)
	}
	return keywords
}

func nearestEvent(events []core.EconomicEvent, at time.Time) *core.EconomicEvent {
	var best *core.EconomicEvent
	var bestDelta time.Duration
	for i := range events {
		delta := events[i].EventTime.Sub(at)
		if delta < 0 {
			delta = -delta
		}
		if best == nil || delta < bestDelta {
			best = &events[i]
			bestDelta = delta
		}
	}
	return best
}

func computeScore(actual, forecast float64) float64 {
	denom := math.Abs(forecast)
	if denom < denominatorFloor {
		denom = denominatorFloor
	}
	return math.Min(1.0, math.Abs(actual-forecast)/denom)
}
