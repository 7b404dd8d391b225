package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/vectorstore"
)

// RetrieveRequest is one similarity lookup. Without a UserID only shared
// documents are searched.
type RetrieveRequest struct {
	UserID        string
	Question      string
	Tables        []string
	TopK          int
	IncludeShared bool
}

// Item is one ranked piece of context
type Item struct {
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	SourceTable string  `json:"source_table"`
}

// DataRetrievalContext is what consumers read. It never exposes statements
// or raw rows.
type DataRetrievalContext struct {
	Items   []Item `json:"items"`
	Summary string `json:"summary,omitempty"`
}

// Retrieve embeds the question and returns the closest documents the caller
// may read
func (p *Pipeline) Retrieve(ctx context.Context, req RetrieveRequest) (*DataRetrievalContext, error) {
	run := newRun(uuid.NewString(), p.opts.Clock)

	out, err := p.retrieve(ctx, run, req)
	if err != nil {
		run.fail(err)
		p.logger.WithField("run_id", run.ID).WithError(err).Warn("Retrieve failed")

		return nil, err
	}

	run.done()

	return out, nil
}

func (p *Pipeline) retrieve(ctx context.Context, run *Run, req RetrieveRequest) (*DataRetrievalContext, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question is required")
	}

	if req.UserID == vectorstore.SharedOwner {
		return nil, errors.Newf(errors.ErrTypeValidation, "%q is reserved", vectorstore.SharedOwner)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}

	run.enter(StateEmbedding, "")

	vector, err := p.deps.Generator.EmbedText(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	run.enter(StateRetrieving, "")

	matches, err := p.deps.Store.Query(ctx, vector, vectorstore.Filter{
		OwnerID:       req.UserID,
		IncludeShared: req.IncludeShared || req.UserID == "",
		Tables:        req.Tables,
		Model:         p.deps.Generator.Model(),
	}, topK)
	if err != nil {
		return nil, err
	}

	out := &DataRetrievalContext{Items: make([]Item, 0, len(matches))}
	for _, m := range matches {
		out.Items = append(out.Items, Item{
			Text:        m.Document.Text,
			Score:       m.Score,
			SourceTable: m.Document.SourceTable,
		})
	}

	out.Summary = p.summarize(ctx, req.Question, out.Items)

	return out, nil
}

const summaryPrompt = `Answer the question using only the records below. Be brief and do not
mention tables, columns or queries.

Question: %s

Records:
%s`

// summarize asks the language model for a short answer and falls back to a
// fixed sentence when it is disabled or fails
func (p *Pipeline) summarize(ctx context.Context, question string, items []Item) string {
	if len(items) == 0 {
		return "No matching data found."
	}

	if p.opts.SummaryEnabled && p.deps.Summarizer != nil {
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = "- " + it.Text
		}

		summary, err := p.deps.Summarizer.Generate(ctx, fmt.Sprintf(summaryPrompt, question, strings.Join(texts, "\n")))
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}

		if err != nil {
			p.logger.WithError(err).Debug("Summary generation failed, using fallback")
		}
	}

	return fallbackSummary(items)
}

func fallbackSummary(items []Item) string {
	seen := make(map[string]bool)

	var tables []string

	for _, it := range items {
		if !seen[it.SourceTable] {
			seen[it.SourceTable] = true
			tables = append(tables, it.SourceTable)
		}
	}

	sort.Strings(tables)

	noun := "records"
	if len(items) == 1 {
		noun = "record"
	}

	return fmt.Sprintf("Found %d relevant %s from %s.", len(items), noun, strings.Join(tables, ", "))
}

// Delete removes every document and freshness entry of userID. Once it
// returns, Retrieve for the user finds nothing until the next ingest.
func (p *Pipeline) Delete(ctx context.Context, userID string) (int, error) {
	if userID == "" || userID == vectorstore.SharedOwner {
		return 0, errors.Newf(errors.ErrTypeValidation, "cannot delete owner %q", userID)
	}

	n, err := p.deps.Store.Delete(ctx, userID, func(ctx context.Context) error {
		if err := p.deps.Ledger.Reset(ctx, userID); err != nil {
			return errors.Wrap(err, errors.ErrTypeDatabase, "failed to reset freshness ledger")
		}

		return nil
	})
	if err != nil {
		return n, err
	}

	p.logger.WithFields(map[string]interface{}{
		"owner":     userID,
		"documents": n,
	}).Info("Deleted owner data")

	return n, nil
}
