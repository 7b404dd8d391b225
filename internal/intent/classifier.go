package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
)

// Request is one question to classify
type Request struct {
	Text   string
	UserID string
	// Context holds a few recent conversation turns, oldest first
	Context []string
}

// Classifier turns questions into validated intents through an llm.Service
type Classifier struct {
	service llm.Service
	timeout time.Duration
	logger  *logging.Logger
}

// NewClassifier creates a classifier; timeout bounds each model call
func NewClassifier(service llm.Service, timeout time.Duration) *Classifier {
	return &Classifier{
		service: service,
		timeout: timeout,
		logger:  logging.GetLogger().WithField("component", "intent"),
	}
}

const baseInstructions = `You convert analytic questions about a relational database into a JSON intent.
Respond with a single JSON object and nothing else. Fields:
- kind: one of count, list, aggregate, compare, lookup
- entities: table names from the catalog below, most relevant first
- filters: list of {key, op, value | values | from, to}; op is eq, in or range
  - key "time_range" takes a named window (today, yesterday, last_24h, last_week,
    last_month, last_quarter, last_year, this_week, this_month, this_year) or from/to dates
  - key "locations" takes values, a list of place names
  - any other key is a column name
- aggregations: list of {func, column}; func is COUNT, SUM, AVG, MIN or MAX
- group_by: list of column names
- limit: a positive integer when the question asks for a specific number of rows
Never write SQL. Use only tables and columns listed in the catalog.
`

const strictSuffix = `
Your previous answer could not be used. Output ONLY the JSON object, with no prose,
no code fences and no fields other than those listed above. "entities" must not be empty.
`

var fewShot = []llm.Example{
	{
		Input:  "How many orders shipped to Brazil last week?",
		Output: `{"kind":"count","entities":["orders"],"filters":[{"key":"time_range","value":"last_week"},{"key":"locations","op":"in","values":["Brazil"]}]}`,
	},
	{
		Input:  "What is the average order total by status this year?",
		Output: `{"kind":"aggregate","entities":["orders"],"filters":[{"key":"time_range","value":"this_year"}],"aggregations":[{"func":"AVG","column":"total"}],"group_by":["status"]}`,
	},
	{
		Input:  "Show my 5 most recent orders",
		Output: `{"kind":"list","entities":["orders"],"limit":5}`,
	},
}

// Instructions renders the fixed template followed by the catalog
func Instructions(snap *catalog.Snapshot, strict bool) string {
	var sb strings.Builder
	sb.WriteString(baseInstructions)

	if snap != nil {
		sb.WriteString("\nCatalog:\n")

		for _, t := range snap.Tables() {
			fmt.Fprintf(&sb, "table %s: %s\n", t.Name, t.Summary)

			cols := make([]string, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = c.Name + " (" + string(c.Type) + ")"
			}

			sb.WriteString("  columns: " + strings.Join(cols, ", ") + "\n")
		}
	}

	if strict {
		sb.WriteString(strictSuffix)
	}

	return sb.String()
}

// Classify asks the model for an intent, retrying once with stricter
// instructions. The result is stamped with the caller's identity; a request
// without a user id is never user scoped.
func (c *Classifier) Classify(ctx context.Context, req Request, snap *catalog.Snapshot) (StructuredIntent, error) {
	if strings.TrimSpace(req.Text) == "" {
		return StructuredIntent{}, errors.New(errors.ErrTypeIntentClassificationFailed, "empty question")
	}

	text := req.Text
	if len(req.Context) > 0 {
		text = "Conversation so far:\n" + strings.Join(req.Context, "\n") + "\n\nQuestion: " + req.Text
	}

	var lastErr error

	for attempt, strict := range []bool{false, true} {
		in, err := c.attempt(ctx, text, Instructions(snap, strict))
		if err == nil {
			if req.UserID != "" {
				in.UserID = req.UserID
				in.UserScoped = true
			}

			return in, nil
		}

		if ctx.Err() != nil {
			return StructuredIntent{}, errors.Wrap(ctx.Err(), errors.ErrTypeCanceled, "classification canceled")
		}

		lastErr = err
		c.logger.WithField("attempt", attempt+1).WithError(err).Warn("Intent classification attempt failed")
	}

	return StructuredIntent{}, errors.Wrap(lastErr, errors.ErrTypeIntentClassificationFailed, "could not classify question").
		WithSuggestion("Rephrase the question to name what should be counted or listed")
}

func (c *Classifier) attempt(ctx context.Context, text, instructions string) (StructuredIntent, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.service.Classify(callCtx, text, instructions, fewShot)
	if err != nil {
		return StructuredIntent{}, err
	}

	obj, ok := extractJSON(raw)
	if !ok {
		return StructuredIntent{}, fmt.Errorf("no JSON object in model output")
	}

	return Parse([]byte(obj))
}

// extractJSON returns the outermost {...} span, tolerating prose and fences
func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")

	if start < 0 || end <= start {
		return "", false
	}

	return raw[start : end+1], true
}
