package llm

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrGenerationUnavailable is returned by services that cannot write free text
var ErrGenerationUnavailable = errors.New("text generation unavailable")

// FallbackService classifies questions with keyword rules when no model is
// reachable. It reads table names from instruction lines of the form
// "table <name>: ..." and answers with the same JSON shape a model would.
type FallbackService struct{}

// NewFallbackService creates a new fallback service
func NewFallbackService() *FallbackService {
	return &FallbackService{}
}

func (f *FallbackService) Name() string { return ProviderFallback }

func (f *FallbackService) IsAvailable(_ context.Context) bool { return true }

// Generate has no rule-based equivalent
func (f *FallbackService) Generate(_ context.Context, _ string) (string, error) {
	return "", ErrGenerationUnavailable
}

var (
	tableLinePattern = regexp.MustCompile(`(?m)^table ([A-Za-z_][A-Za-z0-9_]*):`)
	wordPattern      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	locationPattern  = regexp.MustCompile(`\b(?:in|to|from)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)*)`)
	topNPattern      = regexp.MustCompile(`(?i)\b(?:top|first|last)\s+(\d+)\b`)
)

// windowPhrases maps phrases to named windows, longest phrases first
var windowPhrases = []struct{ phrase, window string }{
	{"last 24 hours", "last_24h"},
	{"past 24 hours", "last_24h"},
	{"last quarter", "last_quarter"},
	{"last month", "last_month"},
	{"past month", "last_month"},
	{"last week", "last_week"},
	{"past week", "last_week"},
	{"last year", "last_year"},
	{"this week", "this_week"},
	{"this month", "this_month"},
	{"this year", "this_year"},
	{"yesterday", "yesterday"},
	{"today", "today"},
}

var aggregateWords = map[string]string{
	"average": "AVG", "avg": "AVG", "mean": "AVG",
	"total": "SUM", "sum": "SUM",
	"minimum": "MIN", "min": "MIN", "lowest": "MIN", "smallest": "MIN",
	"maximum": "MAX", "max": "MAX", "highest": "MAX", "largest": "MAX",
}

type fallbackIntent struct {
	Kind         string              `json:"kind"`
	Entities     []string            `json:"entities"`
	Filters      []map[string]any    `json:"filters,omitempty"`
	Aggregations []map[string]string `json:"aggregations,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
}

// Classify builds an intent from keywords in text
func (f *FallbackService) Classify(_ context.Context, text, instructions string, _ []Example) (string, error) {
	tables := map[string]string{}
	for _, m := range tableLinePattern.FindAllStringSubmatch(instructions, -1) {
		name := strings.ToLower(m[1])
		tables[name] = m[1]
		tables[strings.TrimSuffix(name, "s")] = m[1]
	}

	lower := strings.ToLower(text)
	words := wordPattern.FindAllString(lower, -1)

	out := fallbackIntent{Kind: f.kind(lower)}

	seen := map[string]bool{}

	for _, w := range words {
		if t, ok := tables[w]; ok && !seen[t] {
			seen[t] = true
			out.Entities = append(out.Entities, t)
		}
	}

	for i, w := range words {
		fn, ok := aggregateWords[w]
		if !ok {
			continue
		}

		agg := map[string]string{"func": fn}
		if i+1 < len(words) && tables[words[i+1]] == "" {
			agg["column"] = words[i+1]
		}

		out.Aggregations = append(out.Aggregations, agg)
		out.Kind = "aggregate"

		break
	}

	for _, wp := range windowPhrases {
		if strings.Contains(lower, wp.phrase) {
			out.Filters = append(out.Filters, map[string]any{"key": "time_range", "value": wp.window})
			break
		}
	}

	var locations []any
	for _, m := range locationPattern.FindAllStringSubmatch(text, -1) {
		locations = append(locations, m[1])
	}

	if len(locations) > 0 {
		out.Filters = append(out.Filters, map[string]any{"key": "locations", "op": "in", "values": locations})
	}

	if m := topNPattern.FindStringSubmatch(text); m != nil {
		out.Limit, _ = strconv.Atoi(m[1])
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (f *FallbackService) kind(lower string) string {
	switch {
	case strings.Contains(lower, "how many") || strings.Contains(lower, "count") || strings.Contains(lower, "number of"):
		return "count"
	case strings.Contains(lower, "compare") || strings.Contains(lower, " versus ") || strings.Contains(lower, " vs ") ||
		strings.Contains(lower, " per ") || strings.Contains(lower, " by country"):
		return "compare"
	case strings.HasPrefix(lower, "what is") || strings.HasPrefix(lower, "who ") || strings.Contains(lower, "details"):
		return "lookup"
	default:
		return "list"
	}
}
