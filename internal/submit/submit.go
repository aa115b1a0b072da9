// Package submit posts the aggregate batch result to the downstream
// application server.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"storyline/internal/core"
	"storyline/internal/logger"
)

const defaultTimeout = 30 * time.Second

// Categories is the fixed enum downstream consumers understand.
var Categories = []string{
	"monetary_policy",
	"macro_data",
	"energy",
	"geopolitics",
	"corporate",
	"markets",
}

// AnalyzedStory is one story entry in the downstream payload.
type AnalyzedStory struct {
	StoryTitle      string   `json:"story_title"`
	RelatedNewsIDs  []string `json:"related_news_ids"`
	AnalysisSummary string   `json:"analysis_summary"`
	MainCategories  []string `json:"main_categories"`
}

// Submission is the aggregate batch payload.
type Submission struct {
	AnalyzedStories  []AnalyzedStory `json:"analyzed_stories"`
	UngroupedNewsIDs []string        `json:"ungrouped_news_ids"`
}

// Sender posts submissions to the configured downstream URL.
// Failures are logged and returned, never retried.
type Sender struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewSender creates a sender. An empty URL disables submission.
func NewSender(url string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    logger.Get(),
	}
}

// Send posts the payload as JSON. Any non-2xx status is an error.
func (s *Sender) Send(ctx context.Context, submission Submission) error {
	if s.url == "" {
		s.log.Debug("No downstream URL configured, skipping submission")
		return nil
	}

	body, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Error("Downstream submission failed", err, "url", s.url)
		return fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("downstream returned status %d", resp.StatusCode)
		logger.Error("Downstream submission rejected", err, "url", s.url)
		return err
	}

	s.log.Info("Batch submitted downstream",
		"stories", len(submission.AnalyzedStories),
		"ungrouped", len(submission.UngroupedNewsIDs))
	return nil
}

// BuildStory converts a persisted story into its payload entry.
func BuildStory(story core.Story, eventTypes []string) AnalyzedStory {
	ids := make([]string, len(story.ArticleIDs))
	for i, id := range story.ArticleIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return AnalyzedStory{
		StoryTitle:      story.Title,
		RelatedNewsIDs:  ids,
		AnalysisSummary: story.AnalysisSummary,
		MainCategories:  DeriveCategories(story.AffectedAssets, eventTypes),
	}
}

// FormatIDs converts article ids to the payload's string form.
func FormatIDs(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// DeriveCategories maps the story's assets and event types onto the fixed
// category enum. Unmappable stories fall back to "markets".
func DeriveCategories(assets []string, eventTypes []string) []string {
	seen := make(map[string]struct{})
	add := func(category string) { seen[category] = struct{}{} }

	for _, et := range eventTypes {
		switch strings.ToUpper(et) {
		case "CENTRAL_BANK_DECISION", "RATE_DECISION":
			add("monetary_policy")
		case "INFLATION_DATA", "EMPLOYMENT_DATA", "GDP_DATA", "TRADE_BALANCE":
			add("macro_data")
		case "ENERGY_SUPPLY", "COMMODITY_SHOCK":
			add("energy")
		case "GEOPOLITICAL_CONFLICT", "SANCTIONS":
			add("geopolitics")
		case "EARNINGS_RELEASE", "MERGER_ACQUISITION", "REGULATORY_ACTION":
			add("corporate")
		}
	}
	for _, asset := range assets {
		upper := strings.ToUpper(asset)
		if strings.Contains(upper, "BRENT") || strings.Contains(upper, "WTI") || strings.Contains(upper, "GAS") {
			add("energy")
		}
	}

	if len(seen) == 0 {
		add("markets")
	}

	var categories []string
	for _, category := range Categories {
		if _, ok := seen[category]; ok {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)
	return categories
}
