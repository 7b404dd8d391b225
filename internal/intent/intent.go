package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kyleking/askdb/internal/errors"
)

// Kind is the shape of answer the user asked for
type Kind string

const (
	KindCount     Kind = "count"
	KindList      Kind = "list"
	KindAggregate Kind = "aggregate"
	KindCompare   Kind = "compare"
	KindLookup    Kind = "lookup"
)

// Valid reports whether k is a known intent kind
func (k Kind) Valid() bool {
	switch k {
	case KindCount, KindList, KindAggregate, KindCompare, KindLookup:
		return true
	}

	return false
}

// Filter operators
const (
	OpEq    = "eq"
	OpIn    = "in"
	OpRange = "range"
)

// Reserved filter keys
const (
	KeyTimeRange = "time_range"
	KeyLocations = "locations"
)

// Filter is one constraint extracted from the question. Value holds the
// operand for eq, Values for in, From/To for range.
type Filter struct {
	Key    string `json:"key"`
	Op     string `json:"op,omitempty"`
	Value  any    `json:"value,omitempty"`
	Values []any  `json:"values,omitempty"`
	From   any    `json:"from,omitempty"`
	To     any    `json:"to,omitempty"`
}

// Aggregation functions
const (
	AggCount = "COUNT"
	AggSum   = "SUM"
	AggAvg   = "AVG"
	AggMin   = "MIN"
	AggMax   = "MAX"
)

// Aggregation is a single aggregate over an optional column
type Aggregation struct {
	Func   string `json:"func"`
	Column string `json:"column,omitempty"`
}

// StructuredIntent is the validated machine-readable form of a question. It is
// a value: copy it, don't share and mutate it.
type StructuredIntent struct {
	Kind         Kind          `json:"kind"`
	Entities     []string      `json:"entities"`
	Filters      []Filter      `json:"filters,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty"`
	GroupBy      []string      `json:"group_by,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	UserScoped   bool          `json:"user_scoped"`
	UserID       string        `json:"user_id,omitempty"`
}

// NewStructuredIntent builds and validates an intent
func NewStructuredIntent(kind Kind, entities []string, opts ...Option) (StructuredIntent, error) {
	in := StructuredIntent{Kind: kind, Entities: append([]string(nil), entities...)}
	for _, opt := range opts {
		opt(&in)
	}

	if err := in.Validate(); err != nil {
		return StructuredIntent{}, err
	}

	return in, nil
}

// Option configures an intent under construction
type Option func(*StructuredIntent)

// WithFilter appends a filter
func WithFilter(f Filter) Option {
	return func(in *StructuredIntent) { in.Filters = append(in.Filters, f) }
}

// WithTimeRange appends a named time window filter such as "last_week"
func WithTimeRange(window string) Option {
	return WithFilter(Filter{Key: KeyTimeRange, Op: OpEq, Value: window})
}

// WithLocations appends a location filter
func WithLocations(locations ...string) Option {
	values := make([]any, len(locations))
	for i, l := range locations {
		values[i] = l
	}

	return WithFilter(Filter{Key: KeyLocations, Op: OpIn, Values: values})
}

// WithAggregation appends an aggregation
func WithAggregation(fn, column string) Option {
	return func(in *StructuredIntent) {
		in.Aggregations = append(in.Aggregations, Aggregation{Func: fn, Column: column})
	}
}

// WithGroupBy sets grouping columns
func WithGroupBy(columns ...string) Option {
	return func(in *StructuredIntent) { in.GroupBy = append([]string(nil), columns...) }
}

// WithLimit sets the requested row limit
func WithLimit(n int) Option {
	return func(in *StructuredIntent) { in.Limit = n }
}

// WithUser scopes the intent to a user. An empty id leaves it unscoped.
func WithUser(userID string) Option {
	return func(in *StructuredIntent) {
		in.UserID = userID
		in.UserScoped = userID != ""
	}
}

// PrimaryEntity is the first named entity
func (in StructuredIntent) PrimaryEntity() string {
	if len(in.Entities) == 0 {
		return ""
	}

	return in.Entities[0]
}

// Clone returns a deep copy
func (in StructuredIntent) Clone() StructuredIntent {
	out := in
	out.Entities = append([]string(nil), in.Entities...)
	out.GroupBy = append([]string(nil), in.GroupBy...)
	out.Aggregations = append([]Aggregation(nil), in.Aggregations...)

	out.Filters = make([]Filter, len(in.Filters))
	for i, f := range in.Filters {
		f.Values = append([]any(nil), f.Values...)
		out.Filters[i] = f
	}

	return out
}

// Validate checks the intent is structurally sound. It does not consult the
// catalog; unknown tables and columns are the synthesizer's concern.
func (in StructuredIntent) Validate() error {
	if !in.Kind.Valid() {
		return errors.Newf(errors.ErrTypeValidation, "unknown intent kind %q", in.Kind)
	}

	if len(in.Entities) == 0 {
		return errors.New(errors.ErrTypeValidation, "intent names no entities")
	}

	for _, e := range in.Entities {
		if strings.TrimSpace(e) == "" {
			return errors.New(errors.ErrTypeValidation, "intent has an empty entity name")
		}
	}

	for _, a := range in.Aggregations {
		switch strings.ToUpper(a.Func) {
		case AggCount, AggSum, AggAvg, AggMin, AggMax:
		default:
			return errors.Newf(errors.ErrTypeValidation, "unknown aggregation %q", a.Func)
		}
	}

	for i, f := range in.Filters {
		if err := f.validate(); err != nil {
			return errors.Wrapf(err, errors.ErrTypeValidation, "filter %d", i)
		}
	}

	if in.Limit < 0 {
		return errors.New(errors.ErrTypeValidation, "limit must not be negative")
	}

	return nil
}

func (f Filter) validate() error {
	if f.Key == "" {
		return fmt.Errorf("missing key")
	}

	switch f.Key {
	case KeyTimeRange:
		if f.Value == nil && f.From == nil && f.To == nil {
			return fmt.Errorf("time_range needs a window or from/to")
		}

		return nil
	case KeyLocations:
		if len(f.Values) == 0 && f.Value == nil {
			return fmt.Errorf("locations needs at least one value")
		}

		return nil
	}

	switch f.op() {
	case OpEq:
		if f.Value == nil {
			return fmt.Errorf("eq filter on %s has no value", f.Key)
		}
	case OpIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("in filter on %s has no values", f.Key)
		}
	case OpRange:
		if f.From == nil && f.To == nil {
			return fmt.Errorf("range filter on %s has no bounds", f.Key)
		}
	default:
		return fmt.Errorf("unknown operator %q", f.Op)
	}

	return nil
}

func (f Filter) op() string {
	if f.Op == "" {
		return OpEq
	}

	return strings.ToLower(f.Op)
}

// Operator returns the normalized operator, defaulting to eq
func (f Filter) Operator() string { return f.op() }

// Parse decodes a JSON intent and validates it
func Parse(data []byte) (StructuredIntent, error) {
	var in StructuredIntent
	if err := json.Unmarshal(data, &in); err != nil {
		return StructuredIntent{}, errors.Wrap(err, errors.ErrTypeValidation, "intent is not valid JSON")
	}

	in.Kind = Kind(strings.ToLower(string(in.Kind)))
	for i := range in.Aggregations {
		in.Aggregations[i].Func = strings.ToUpper(in.Aggregations[i].Func)
	}

	// identity comes from the request, never from model output
	in.UserScoped = false
	in.UserID = ""

	if err := in.Validate(); err != nil {
		return StructuredIntent{}, err
	}

	return in, nil
}
