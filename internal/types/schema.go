package types

import (
	"fmt"
	"strings"
)

// SemanticType is the pipeline's view of a column's value domain, independent
// of the storage engine's native type name
type SemanticType string

const (
	SemanticText       SemanticType = "text"
	SemanticInteger    SemanticType = "integer"
	SemanticDecimal    SemanticType = "decimal"
	SemanticTimestamp  SemanticType = "timestamp"
	SemanticBoolean    SemanticType = "boolean"
	SemanticIdentifier SemanticType = "identifier"
)

// Valid reports whether t is one of the known semantic types
func (t SemanticType) Valid() bool {
	switch t {
	case SemanticText, SemanticInteger, SemanticDecimal, SemanticTimestamp, SemanticBoolean, SemanticIdentifier:
		return true
	default:
		return false
	}
}

// Numeric reports whether aggregate functions other than COUNT apply
func (t SemanticType) Numeric() bool {
	return t == SemanticInteger || t == SemanticDecimal
}

// Column represents a queryable column
type Column struct {
	Name     string       `json:"name"     yaml:"name"`
	Type     SemanticType `json:"type"     yaml:"type"`
	Nullable bool         `json:"nullable" yaml:"nullable"`
}

// Relationship is a foreign-key-like reference from Column to RefTable.RefColumn
type Relationship struct {
	Column    string `json:"column"     yaml:"column"`
	RefTable  string `json:"ref_table"  yaml:"ref_table"`
	RefColumn string `json:"ref_column" yaml:"ref_column"`
}

// SchemaDescriptor describes one queryable table
type SchemaDescriptor struct {
	Name          string         `json:"name"                      yaml:"name"`
	Columns       []Column       `json:"columns"                   yaml:"columns"`
	Relationships []Relationship `json:"relationships,omitempty"   yaml:"relationships,omitempty"`
	Summary       string         `json:"summary,omitempty"         yaml:"summary,omitempty"`

	// Role columns; inferred by Normalize when left empty
	UserColumn     string `json:"user_column,omitempty"     yaml:"user_column,omitempty"`
	TimeColumn     string `json:"time_column,omitempty"     yaml:"time_column,omitempty"`
	LocationColumn string `json:"location_column,omitempty" yaml:"location_column,omitempty"`
}

var (
	userColumnCandidates     = []string{"user_id", "owner_id", "customer_id", "account_id"}
	locationColumnCandidates = []string{"country", "location", "region", "city", "ship_country"}
)

// Column looks up a column by name (case-insensitive)
func (s *SchemaDescriptor) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}

	return Column{}, false
}

// HasColumn reports whether the table has the named column
func (s *SchemaDescriptor) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// NumericColumns returns columns that SUM/AVG/MIN/MAX accept, in declaration order
func (s *SchemaDescriptor) NumericColumns() []Column {
	var out []Column

	for _, c := range s.Columns {
		if c.Type.Numeric() {
			out = append(out, c)
		}
	}

	return out
}

// ColumnNames returns column names in declaration order
func (s *SchemaDescriptor) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}

	return names
}

// Validate checks structural consistency of the descriptor
func (s *SchemaDescriptor) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("table name is required")
	}

	if len(s.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", s.Name)
	}

	seen := make(map[string]bool, len(s.Columns))

	for _, c := range s.Columns {
		key := strings.ToLower(c.Name)
		if c.Name == "" {
			return fmt.Errorf("table %s has a column without a name", s.Name)
		}

		if seen[key] {
			return fmt.Errorf("table %s declares column %s twice", s.Name, c.Name)
		}

		seen[key] = true

		if !c.Type.Valid() {
			return fmt.Errorf("table %s column %s has unknown semantic type %q", s.Name, c.Name, c.Type)
		}
	}

	for _, r := range s.Relationships {
		if !seen[strings.ToLower(r.Column)] {
			return fmt.Errorf("table %s relationship references unknown column %s", s.Name, r.Column)
		}

		if r.RefTable == "" || r.RefColumn == "" {
			return fmt.Errorf("table %s relationship on %s has no target", s.Name, r.Column)
		}
	}

	for role, col := range map[string]string{
		"user":     s.UserColumn,
		"time":     s.TimeColumn,
		"location": s.LocationColumn,
	} {
		if col != "" && !seen[strings.ToLower(col)] {
			return fmt.Errorf("table %s %s column %s does not exist", s.Name, role, col)
		}
	}

	return nil
}

// Normalize fills empty role columns from naming and type heuristics
func (s *SchemaDescriptor) Normalize() {
	if s.UserColumn == "" {
		for _, candidate := range userColumnCandidates {
			if c, ok := s.Column(candidate); ok && c.Type != SemanticTimestamp && c.Type != SemanticBoolean {
				s.UserColumn = c.Name
				break
			}
		}
	}

	if s.TimeColumn == "" {
		for _, c := range s.Columns {
			if c.Type == SemanticTimestamp {
				s.TimeColumn = c.Name
				break
			}
		}
	}

	if s.LocationColumn == "" {
		for _, candidate := range locationColumnCandidates {
			if c, ok := s.Column(candidate); ok && c.Type == SemanticText {
				s.LocationColumn = c.Name
				break
			}
		}
	}
}

// Clone returns a deep copy so snapshots never share slices with loaders
func (s *SchemaDescriptor) Clone() *SchemaDescriptor {
	out := *s
	out.Columns = append([]Column(nil), s.Columns...)
	out.Relationships = append([]Relationship(nil), s.Relationships...)

	return &out
}

// SemanticTypeFromNative maps an engine type name (DuckDB or Postgres) to a semantic type
func SemanticTypeFromNative(native string) SemanticType {
	n := strings.ToUpper(strings.TrimSpace(native))

	switch {
	case n == "UUID":
		return SemanticIdentifier
	case strings.Contains(n, "TIMESTAMP"), n == "DATE", strings.HasPrefix(n, "TIME"):
		return SemanticTimestamp
	case n == "BOOLEAN", n == "BOOL":
		return SemanticBoolean
	case strings.HasPrefix(n, "DECIMAL"), strings.HasPrefix(n, "NUMERIC"),
		n == "DOUBLE", n == "DOUBLE PRECISION", n == "REAL", n == "FLOAT", n == "FLOAT4", n == "FLOAT8":
		return SemanticDecimal
	case strings.Contains(n, "INT"), n == "SERIAL", n == "BIGSERIAL":
		return SemanticInteger
	default:
		return SemanticText
	}
}
