// Package query compiles structured intents into parameterized, read-only
// statements against the schema catalog.
package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/intent"
	"github.com/kyleking/askdb/internal/sqlguard"
	"github.com/kyleking/askdb/internal/types"
)

// QuerySpec is a compiled statement ready for the safety gate
type QuerySpec struct {
	Statement       string   `json:"statement"`
	Args            []any    `json:"-"`
	MaxRows         int      `json:"max_rows"`
	Tables          []string `json:"tables"`
	PrimaryTable    string   `json:"primary_table"`
	SnapshotVersion uint64   `json:"snapshot_version"`
	UserScoped      bool     `json:"user_scoped"`
}

// ParamCount is the number of bound parameters
func (q *QuerySpec) ParamCount() int { return len(q.Args) }

// Synthesizer turns intents into QuerySpecs
type Synthesizer struct {
	MaxRows    int
	JoinPolicy JoinPolicy
	Clock      func() time.Time
}

// NewSynthesizer creates a synthesizer using the wall clock
func NewSynthesizer(maxRows int, policy JoinPolicy) *Synthesizer {
	return &Synthesizer{MaxRows: maxRows, JoinPolicy: policy, Clock: time.Now}
}

// stmt accumulates statement fragments and bound arguments
type stmt struct {
	snap    *catalog.Snapshot
	primary *types.SchemaDescriptor
	tables  []*types.SchemaDescriptor
	args    []any
	where   []string
}

func (b *stmt) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *stmt) bindAll(values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(v)
	}

	return strings.Join(placeholders, ", ")
}

// Synthesize compiles in against snap. Identity, limits and literals never
// reach the statement text; they are bound or computed here.
func (s *Synthesizer) Synthesize(in intent.StructuredIntent, snap *catalog.Snapshot) (*QuerySpec, error) {
	if snap == nil {
		return nil, errors.New(errors.ErrTypeStaleSchema, "no catalog snapshot")
	}

	if s.MaxRows <= 0 {
		return nil, errors.NewConfigError("row cap must be positive", "database.max_rows")
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}

	targets, err := resolveEntities(snap, in.Entities)
	if err != nil {
		return nil, err
	}

	b := &stmt{snap: snap, primary: targets[0], tables: []*types.SchemaDescriptor{targets[0]}}

	var joins []string

	if len(targets) > 1 {
		names := make([]string, 0, len(targets)-1)
		for _, t := range targets[1:] {
			names = append(names, strings.ToLower(t.Name))
		}

		edges, err := resolveJoins(snap, strings.ToLower(b.primary.Name), names, s.JoinPolicy)
		if err != nil {
			return nil, err
		}

		for _, e := range edges {
			from, _ := snap.Table(e.From)
			to, _ := snap.Table(e.To)
			b.tables = append(b.tables, to)
			joins = append(joins, fmt.Sprintf("JOIN %s ON %s = %s",
				sqlguard.QuoteIdent(to.Name), qualified(from, e.FromColumn), qualified(to, e.ToColumn)))
		}
	}

	for _, t := range b.tables {
		if err := checkIdentifiers(t); err != nil {
			return nil, err
		}
	}

	for _, f := range in.Filters {
		if err := b.compileFilter(f, s.now()); err != nil {
			return nil, err
		}
	}

	if in.UserScoped {
		if err := b.scopeToUser(in.UserID); err != nil {
			return nil, err
		}
	}

	selectList, groupBy, orderBy, err := b.projection(in)
	if err != nil {
		return nil, err
	}

	limit := s.MaxRows
	if in.Limit > 0 && in.Limit < limit {
		limit = in.Limit
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectList, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(sqlguard.QuoteIdent(b.primary.Name))

	for _, j := range joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}

	if len(groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groupBy, ", "))
	}

	if len(orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderBy, ", "))
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(limit))

	spec := &QuerySpec{
		Statement:       sb.String(),
		Args:            b.args,
		MaxRows:         limit,
		PrimaryTable:    b.primary.Name,
		SnapshotVersion: snap.Version(),
		UserScoped:      in.UserScoped,
	}

	for _, t := range b.tables {
		spec.Tables = append(spec.Tables, t.Name)
	}

	// the gate runs the same check; failing here is a synthesis bug
	if err := sqlguard.Validate(spec.Statement); err != nil {
		return nil, err
	}

	return spec, nil
}

func (s *Synthesizer) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}

	return s.Clock().UTC()
}

// resolveEntities maps entity names to catalog tables, accepting a simple
// singular or plural form of the name
func resolveEntities(snap *catalog.Snapshot, entities []string) ([]*types.SchemaDescriptor, error) {
	var out []*types.SchemaDescriptor

	seen := make(map[string]bool)

	for _, e := range entities {
		name := strings.ToLower(strings.TrimSpace(e))

		t, ok := snap.Table(name)
		if !ok {
			t, ok = snap.Table(name + "s")
		}

		if !ok && strings.HasSuffix(name, "s") {
			t, ok = snap.Table(strings.TrimSuffix(name, "s"))
		}

		if !ok {
			return nil, errors.Newf(errors.ErrTypeUnknownEntity, "unknown entity %q", e)
		}

		key := strings.ToLower(t.Name)
		if seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, t)
	}

	return out, nil
}

func checkIdentifiers(t *types.SchemaDescriptor) error {
	names := append([]string{t.Name}, t.ColumnNames()...)
	for _, n := range names {
		if !sqlguard.ValidIdentifier(n) || sqlguard.DeniedWord(n) {
			return errors.NewForbiddenError(fmt.Sprintf("identifier %q in %s cannot be used in a statement", n, t.Name))
		}
	}

	return nil
}

func qualified(t *types.SchemaDescriptor, column string) string {
	return sqlguard.QuoteIdent(t.Name) + "." + sqlguard.QuoteIdent(column)
}

// roleTable returns the first table in join order whose role column is set
func (b *stmt) roleTable(role func(*types.SchemaDescriptor) string) (*types.SchemaDescriptor, string) {
	for _, t := range b.tables {
		if c := role(t); c != "" {
			return t, c
		}
	}

	return nil, ""
}

// lookupColumn resolves "col" or "table.col" against the joined tables
func (b *stmt) lookupColumn(ref string) (*types.SchemaDescriptor, types.Column, error) {
	table, column := "", ref
	if i := strings.Index(ref, "."); i >= 0 {
		table, column = ref[:i], ref[i+1:]
	}

	for _, t := range b.tables {
		if table != "" && !strings.EqualFold(t.Name, table) {
			continue
		}

		if c, ok := t.Column(column); ok {
			return t, c, nil
		}
	}

	return nil, types.Column{}, errors.Newf(errors.ErrTypeUnknownEntity, "unknown column %q", ref)
}

func (b *stmt) compileFilter(f intent.Filter, now time.Time) error {
	switch f.Key {
	case intent.KeyTimeRange:
		return b.compileTimeRange(f, now)
	case intent.KeyLocations:
		return b.compileLocations(f)
	}

	t, col, err := b.lookupColumn(f.Key)
	if err != nil {
		return err
	}

	ref := qualified(t, col.Name)

	switch f.Operator() {
	case intent.OpEq:
		v, err := coerce(col, f.Value)
		if err != nil {
			return err
		}

		b.where = append(b.where, ref+" = "+b.bind(v))
	case intent.OpIn:
		values, err := coerceAll(col, f.Values)
		if err != nil {
			return err
		}

		b.where = append(b.where, ref+" IN ("+b.bindAll(values)+")")
	case intent.OpRange:
		if f.From != nil {
			v, err := coerce(col, f.From)
			if err != nil {
				return err
			}

			b.where = append(b.where, ref+" >= "+b.bind(v))
		}

		if f.To != nil {
			v, err := coerce(col, f.To)
			if err != nil {
				return err
			}

			b.where = append(b.where, ref+" <= "+b.bind(v))
		}
	default:
		return errors.Newf(errors.ErrTypeValidation, "unknown filter operator %q", f.Op)
	}

	return nil
}

func (b *stmt) compileTimeRange(f intent.Filter, now time.Time) error {
	t, column := b.roleTable(func(d *types.SchemaDescriptor) string { return d.TimeColumn })
	if t == nil {
		return errors.Newf(errors.ErrTypeUnknownEntity, "%s has no timestamp column for a time range", b.primary.Name)
	}

	var (
		bounds TimeBounds
		err    error
	)

	switch v := f.Value.(type) {
	case string:
		bounds, err = ResolveWindow(v, now)
	case map[string]any:
		bounds, err = explicitBounds(v["from"], v["to"])
	case nil:
		bounds, err = explicitBounds(f.From, f.To)
	default:
		err = fmt.Errorf("unsupported time range %T", f.Value)
	}

	if err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "invalid time range")
	}

	ref := qualified(t, column)

	if bounds.From != nil {
		b.where = append(b.where, ref+" >= "+b.bind(*bounds.From))
	}

	if bounds.To != nil {
		b.where = append(b.where, ref+" < "+b.bind(*bounds.To))
	}

	return nil
}

func (b *stmt) compileLocations(f intent.Filter) error {
	t, column := b.roleTable(func(d *types.SchemaDescriptor) string { return d.LocationColumn })
	if t == nil {
		return errors.Newf(errors.ErrTypeUnknownEntity, "%s has no location column", b.primary.Name)
	}

	values := f.Values
	if len(values) == 0 {
		switch v := f.Value.(type) {
		case []any:
			values = v
		default:
			values = []any{v}
		}
	}

	for _, v := range values {
		if _, ok := v.(string); !ok {
			return errors.Newf(errors.ErrTypeValidation, "location must be text, got %T", v)
		}
	}

	ref := qualified(t, column)

	if len(values) == 1 {
		b.where = append(b.where, ref+" = "+b.bind(values[0]))
	} else {
		b.where = append(b.where, ref+" IN ("+b.bindAll(values)+")")
	}

	return nil
}

// scopeToUser restricts the primary table, and every joined table that also
// carries a user column, to userID
func (b *stmt) scopeToUser(userID string) error {
	if userID == "" {
		return errors.New(errors.ErrTypeMissingUserScopeColumn, "user scoped query has no user id")
	}

	if b.primary.UserColumn == "" {
		return errors.Newf(errors.ErrTypeMissingUserScopeColumn, "%s has no user column", b.primary.Name)
	}

	for _, t := range b.tables {
		if t.UserColumn == "" {
			continue
		}

		b.where = append(b.where, qualified(t, t.UserColumn)+" = "+b.bind(userID))
	}

	return nil
}

// projection builds the select list plus GROUP BY and ORDER BY terms
func (b *stmt) projection(in intent.StructuredIntent) (selectList, groupBy, orderBy []string, err error) {
	groupCols := in.GroupBy
	aggs := in.Aggregations

	switch in.Kind {
	case intent.KindCount:
		if len(aggs) == 0 {
			aggs = []intent.Aggregation{{Func: intent.AggCount}}
		}
	case intent.KindCompare:
		if len(groupCols) == 0 {
			t, column := b.roleTable(func(d *types.SchemaDescriptor) string { return d.LocationColumn })
			if t == nil {
				return nil, nil, nil, errors.Newf(errors.ErrTypeValidation,
					"comparison over %s needs a grouping column", b.primary.Name)
			}

			groupCols = []string{t.Name + "." + column}
		}

		if len(aggs) == 0 {
			aggs = []intent.Aggregation{{Func: intent.AggCount}}
		}
	}

	if len(aggs) == 0 {
		if len(groupCols) > 0 {
			aggs = []intent.Aggregation{{Func: intent.AggCount}}
		} else {
			return b.rowSelection(), nil, b.defaultOrder(), nil
		}
	}

	for _, g := range groupCols {
		t, col, lookupErr := b.lookupColumn(g)
		if lookupErr != nil {
			return nil, nil, nil, lookupErr
		}

		ref := qualified(t, col.Name)
		selectList = append(selectList, ref+" AS "+sqlguard.QuoteIdent(col.Name))
		groupBy = append(groupBy, ref)
	}

	for _, a := range aggs {
		expr, alias, aggErr := b.aggregate(a)
		if aggErr != nil {
			return nil, nil, nil, aggErr
		}

		selectList = append(selectList, expr+" AS "+sqlguard.QuoteIdent(alias))
	}

	return selectList, groupBy, groupBy, nil
}

func (b *stmt) aggregate(a intent.Aggregation) (expr, alias string, err error) {
	fn := strings.ToUpper(a.Func)

	if fn == intent.AggCount {
		if a.Column == "" {
			return "COUNT(*)", "count", nil
		}

		t, col, lookupErr := b.lookupColumn(a.Column)
		if lookupErr != nil {
			return "", "", lookupErr
		}

		return "COUNT(" + qualified(t, col.Name) + ")", "count_" + col.Name, nil
	}

	var (
		t   *types.SchemaDescriptor
		col types.Column
	)

	if a.Column == "" {
		numeric := b.primary.NumericColumns()
		if len(numeric) == 0 {
			return "", "", errors.Newf(errors.ErrTypeUnknownEntity, "%s has no numeric column for %s", b.primary.Name, fn)
		}

		t, col = b.primary, numeric[0]
	} else {
		t, col, err = b.lookupColumn(a.Column)
		if err != nil {
			return "", "", err
		}
	}

	allowed := col.Type.Numeric() || ((fn == intent.AggMin || fn == intent.AggMax) && col.Type == types.SemanticTimestamp)
	if !allowed {
		return "", "", errors.Newf(errors.ErrTypeValidation, "%s is not valid over %s column %s", fn, col.Type, col.Name)
	}

	return fn + "(" + qualified(t, col.Name) + ")", strings.ToLower(fn) + "_" + col.Name, nil
}

// rowSelection lists every column; joined tables are aliased table.column
func (b *stmt) rowSelection() []string {
	var out []string

	for i, t := range b.tables {
		for _, c := range t.Columns {
			alias := c.Name
			if i > 0 {
				alias = t.Name + "." + c.Name
			}

			out = append(out, qualified(t, c.Name)+" AS "+sqlguard.QuoteIdent(alias))
		}
	}

	return out
}

func (b *stmt) defaultOrder() []string {
	if b.primary.TimeColumn != "" {
		return []string{qualified(b.primary, b.primary.TimeColumn) + " DESC", qualified(b.primary, b.primary.Columns[0].Name)}
	}

	return []string{qualified(b.primary, b.primary.Columns[0].Name)}
}

func coerceAll(col types.Column, values []any) ([]any, error) {
	out := make([]any, len(values))

	for i, v := range values {
		c, err := coerce(col, v)
		if err != nil {
			return nil, err
		}

		out[i] = c
	}

	return out, nil
}

// coerce converts a decoded JSON operand to the column's semantic type
func coerce(col types.Column, v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return nil, errors.Newf(errors.ErrTypeValidation, "value for %s must be a scalar", col.Name)
	}

	switch col.Type {
	case types.SemanticTimestamp:
		t, err := parseTime(v)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeValidation, "value for %s", col.Name)
		}

		return t, nil
	case types.SemanticInteger:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return nil, errors.Newf(errors.ErrTypeValidation, "value for %s must be a whole number, got %v", col.Name, n)
			}

			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrTypeValidation, "value for %s", col.Name)
			}

			return i, nil
		}
	case types.SemanticDecimal:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrTypeValidation, "value for %s", col.Name)
			}

			return f, nil
		}
	case types.SemanticBoolean:
		if s, ok := v.(string); ok {
			parsed, err := strconv.ParseBool(s)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrTypeValidation, "value for %s", col.Name)
			}

			return parsed, nil
		}
	case types.SemanticText, types.SemanticIdentifier:
		if f, ok := v.(float64); ok && col.Type == types.SemanticText {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
	}

	return v, nil
}
