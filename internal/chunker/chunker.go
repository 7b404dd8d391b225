// Package chunker turns executed query results into bounded text units for
// embedding: one schema chunk per table and greedily packed data chunks that
// never split a row.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/executor"
	"github.com/kyleking/askdb/internal/types"
)

// DefaultMaxChars is used when a Chunker is created with a non-positive size
const DefaultMaxChars = 1200

// Kind distinguishes schema explanations from row data
type Kind string

const (
	KindSchema Kind = "schema"
	KindData   Kind = "data"
)

// Chunk is a bounded unit of normalized text. RowEnd is exclusive; schema
// chunks cover no rows.
type Chunk struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Text        string `json:"text"`
	SourceTable string `json:"source_table"`
	RowStart    int    `json:"row_start"`
	RowEnd      int    `json:"row_end"`
	ContentHash string `json:"content_hash"`
}

// Rows returns the number of rows the chunk represents
func (c Chunk) Rows() int { return c.RowEnd - c.RowStart }

// Chunker is scoped to one pipeline run; it describes each table once
type Chunker struct {
	MaxChars int

	mu        sync.Mutex
	described map[string]bool
}

// New creates a chunker for one run
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	return &Chunker{MaxChars: maxChars, described: make(map[string]bool)}
}

// Chunk converts result into schema chunks for tables not yet described in
// this run, followed by data chunks in row order
func (c *Chunker) Chunk(result *executor.ExecutionResult, snap *catalog.Snapshot) ([]Chunk, error) {
	if result == nil || result.Spec == nil {
		return nil, errors.New(errors.ErrTypeValidation, "execution result has no query spec")
	}

	if snap == nil {
		return nil, errors.New(errors.ErrTypeStaleSchema, "no catalog snapshot")
	}

	primary := result.Spec.PrimaryTable

	var chunks []Chunk

	for _, name := range result.Spec.Tables {
		table, ok := snap.Table(name)
		if !ok {
			return nil, errors.Newf(errors.ErrTypeStaleSchema, "table %s left the catalog", name)
		}

		if c.markDescribed(table.Name) {
			chunks = append(chunks, schemaChunk(table))
		}
	}

	typeOf := columnTypes(result.Spec.Tables, primary, snap)

	var (
		lines []string
		size  int
		start int
	)

	flush := func(end int) {
		if len(lines) == 0 {
			return
		}

		chunks = append(chunks, dataChunk(primary, lines, start, end))
		lines, size, start = nil, 0, end
	}

	for i, row := range result.Rows {
		line := RenderRow(primary, row, typeOf)

		if len(lines) > 0 && size+1+len(line) > c.MaxChars {
			flush(i)
		}

		if len(lines) > 0 {
			size++
		}

		lines = append(lines, line)
		size += len(line)
	}

	flush(len(result.Rows))

	return chunks, nil
}

// Reset forgets which tables were described, starting a new run
func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.described = make(map[string]bool)
}

func (c *Chunker) markDescribed(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.described == nil {
		c.described = make(map[string]bool)
	}

	if c.described[table] {
		return false
	}

	c.described[table] = true

	return true
}

// DescribeTable renders a table descriptor as prose
func DescribeTable(t *types.SchemaDescriptor) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Table %s", t.Name)

	if t.Summary != "" {
		fmt.Fprintf(&sb, ": %s", strings.TrimSuffix(t.Summary, "."))
	}

	sb.WriteString(". Columns: ")

	for i, col := range t.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString(col.Name + " (" + string(col.Type))

		if col.Nullable {
			sb.WriteString(", nullable")
		}

		sb.WriteString(")")
	}

	sb.WriteString(".")

	for _, rel := range t.Relationships {
		fmt.Fprintf(&sb, " %s references %s.%s.", rel.Column, rel.RefTable, rel.RefColumn)
	}

	return sb.String()
}

// RenderRow renders a row as a self-contained record sentence
func RenderRow(table string, row executor.Row, typeOf func(column string) types.SemanticType) string {
	parts := make([]string, len(row.Columns))

	for i, col := range row.Columns {
		var t types.SemanticType
		if typeOf != nil {
			t = typeOf(col)
		}

		parts[i] = col + "=" + FormatValue(row.Values[col], t)
	}

	return table + " record: " + strings.Join(parts, "; ") + "."
}

// FormatValue normalizes a scalar: timestamps as RFC 3339 UTC, decimals with
// two places, integers base 10, nil as null. Identifiers are kept verbatim.
func FormatValue(v any, t types.SemanticType) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case int64:
		return formatInt(val, t)
	case int:
		return formatInt(int64(val), t)
	case int32:
		return formatInt(int64(val), t)
	case float32:
		return formatFloat(float64(val), t)
	case float64:
		return formatFloat(val, t)
	default:
		return fmt.Sprint(val)
	}
}

func formatInt(v int64, t types.SemanticType) string {
	if t == types.SemanticDecimal {
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	}

	return strconv.FormatInt(v, 10)
}

func formatFloat(v float64, t types.SemanticType) string {
	if (t == types.SemanticInteger || t == types.SemanticIdentifier) && v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return strconv.FormatInt(int64(v), 10)
	}

	return strconv.FormatFloat(v, 'f', 2, 64)
}

// columnTypes resolves result columns ("col" on the primary table or
// "table.col" for joined ones) to semantic types
func columnTypes(tables []string, primary string, snap *catalog.Snapshot) func(string) types.SemanticType {
	descriptors := make(map[string]*types.SchemaDescriptor, len(tables))

	for _, name := range tables {
		if d, ok := snap.Table(name); ok {
			descriptors[d.Name] = d
		}
	}

	return func(column string) types.SemanticType {
		table, name := primary, column
		if i := strings.IndexByte(column, '.'); i > 0 {
			table, name = column[:i], column[i+1:]
		}

		if d, ok := descriptors[table]; ok {
			if col, ok := d.Column(name); ok {
				return col.Type
			}
		}

		return ""
	}
}

func schemaChunk(t *types.SchemaDescriptor) Chunk {
	text := DescribeTable(t)
	hash := Hash(text)

	return Chunk{
		ID:          t.Name + ":schema:" + hash[:12],
		Kind:        KindSchema,
		Text:        text,
		SourceTable: t.Name,
		ContentHash: hash,
	}
}

func dataChunk(table string, lines []string, start, end int) Chunk {
	text := strings.Join(lines, "\n")
	hash := Hash(text)

	return Chunk{
		ID:          fmt.Sprintf("%s:data:%d-%d:%s", table, start, end, hash[:12]),
		Kind:        KindData,
		Text:        text,
		SourceTable: table,
		RowStart:    start,
		RowEnd:      end,
		ContentHash: hash,
	}
}

// Hash returns the hex SHA-256 of normalized text
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Range is a half-open row interval
type Range struct {
	Start int
	End   int
}

// RowRanges collects data chunk row ranges per table, in chunk order
func RowRanges(chunks []Chunk) map[string][]Range {
	out := make(map[string][]Range)

	for _, c := range chunks {
		if c.Kind != KindData {
			continue
		}

		out[c.SourceTable] = append(out[c.SourceTable], Range{Start: c.RowStart, End: c.RowEnd})
	}

	return out
}
