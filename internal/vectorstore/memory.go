package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in a map and ranks by brute-force cosine
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
	now  func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document), now: time.Now}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Upsert(ctx context.Context, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		doc.Vector = append([]float32(nil), doc.Vector...)
		doc.SupersededAt = nil
		s.docs[doc.ID] = doc
	}

	return nil
}

func (s *MemoryStore) Supersede(ctx context.Context, owner, table, model, runID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	marked := 0

	for id, doc := range s.docs {
		if doc.OwnerID != owner || doc.SourceTable != table || doc.Model != model {
			continue
		}

		if doc.RunID == runID || doc.SupersededAt != nil {
			continue
		}

		doc.SupersededAt = &now
		s.docs[id] = doc
		marked++
	}

	return marked, nil
}

func (s *MemoryStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match

	for _, doc := range s.docs {
		if !filter.Allows(doc) || len(doc.Vector) != len(vector) {
			continue
		}

		matches = append(matches, Match{Document: doc, Score: cosineSimilarity(vector, doc.Vector)})
	}

	sortMatches(matches)

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (s *MemoryStore) DeleteOwner(ctx context.Context, owner string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0

	for id, doc := range s.docs {
		if doc.OwnerID == owner {
			delete(s.docs, id)
			deleted++
		}
	}

	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

// sortMatches orders by score, breaking ties by id so results are stable
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}

		return matches[i].Document.ID < matches[j].Document.ID
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
