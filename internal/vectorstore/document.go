// Package vectorstore indexes embedded chunks per owner and answers
// similarity queries without ever mixing one owner's documents into
// another's results.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// SharedOwner owns documents that every user may read
const SharedOwner = "shared"

// Document is one indexed chunk
type Document struct {
	ID           string
	OwnerID      string
	SourceTable  string
	Text         string
	ContentHash  string
	Model        string
	Vector       []float32
	RunID        string
	GeneratedAt  time.Time
	SupersededAt *time.Time
}

// DocumentID derives the stable id of a document. The same content indexed
// twice for the same owner, table and model maps to the same id.
func DocumentID(owner, table, model, contentHash string) string {
	sum := sha256.Sum256([]byte(owner + "\x00" + table + "\x00" + model + "\x00" + contentHash))
	return hex.EncodeToString(sum[:16])
}

// Filter restricts a query. Documents are eligible when they belong to
// OwnerID, or to SharedOwner when IncludeShared is set.
type Filter struct {
	OwnerID       string
	IncludeShared bool
	Tables        []string
	Model         string
}

// Owners lists the owner ids a query may read
func (f Filter) Owners() []string {
	var owners []string

	if f.OwnerID != "" {
		owners = append(owners, f.OwnerID)
	}

	if f.IncludeShared && f.OwnerID != SharedOwner {
		owners = append(owners, SharedOwner)
	}

	return owners
}

// Allows reports whether doc satisfies every filter condition
func (f Filter) Allows(doc Document) bool {
	if doc.SupersededAt != nil {
		return false
	}

	if f.Model != "" && doc.Model != f.Model {
		return false
	}

	owned := false

	for _, owner := range f.Owners() {
		if doc.OwnerID == owner {
			owned = true
			break
		}
	}

	if !owned {
		return false
	}

	if len(f.Tables) == 0 {
		return true
	}

	for _, t := range f.Tables {
		if t == doc.SourceTable {
			return true
		}
	}

	return false
}

// Match is a ranked query result
type Match struct {
	Document Document
	Score    float64
}

// Store is the backend capability the adapter writes through
type Store interface {
	// Upsert inserts documents; an existing id is refreshed in place
	Upsert(ctx context.Context, docs []Document) error
	// Supersede marks live documents for (owner, table, model) written by
	// any run other than runID and returns how many were marked
	Supersede(ctx context.Context, owner, table, model, runID string) (int, error)
	// Query ranks live documents allowed by filter by cosine similarity.
	// Filtering happens before ranking.
	Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error)
	// DeleteOwner removes every document of owner
	DeleteOwner(ctx context.Context, owner string) (int, error)
	Name() string
	Close() error
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validTableName(name string) (string, error) {
	if name == "" {
		return "vector_documents", nil
	}

	if !identifier.MatchString(name) {
		return "", fmt.Errorf("invalid vector table name %q", name)
	}

	return name, nil
}
