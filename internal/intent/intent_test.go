package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		intent  StructuredIntent
		wantErr bool
	}{
		{
			name:   "minimal count",
			intent: StructuredIntent{Kind: KindCount, Entities: []string{"orders"}},
		},
		{
			name:    "unknown kind",
			intent:  StructuredIntent{Kind: "delete", Entities: []string{"orders"}},
			wantErr: true,
		},
		{
			name:    "no entities",
			intent:  StructuredIntent{Kind: KindList},
			wantErr: true,
		},
		{
			name:    "blank entity",
			intent:  StructuredIntent{Kind: KindList, Entities: []string{" "}},
			wantErr: true,
		},
		{
			name:    "unknown aggregation",
			intent:  StructuredIntent{Kind: KindAggregate, Entities: []string{"orders"}, Aggregations: []Aggregation{{Func: "MEDIAN"}}},
			wantErr: true,
		},
		{
			name:   "lowercase aggregation",
			intent: StructuredIntent{Kind: KindAggregate, Entities: []string{"orders"}, Aggregations: []Aggregation{{Func: "sum", Column: "total"}}},
		},
		{
			name:    "time range without bounds",
			intent:  StructuredIntent{Kind: KindCount, Entities: []string{"orders"}, Filters: []Filter{{Key: KeyTimeRange}}},
			wantErr: true,
		},
		{
			name:    "in filter without values",
			intent:  StructuredIntent{Kind: KindCount, Entities: []string{"orders"}, Filters: []Filter{{Key: "status", Op: OpIn}}},
			wantErr: true,
		},
		{
			name:    "unknown operator",
			intent:  StructuredIntent{Kind: KindCount, Entities: []string{"orders"}, Filters: []Filter{{Key: "status", Op: "like", Value: "x"}}},
			wantErr: true,
		},
		{
			name:    "negative limit",
			intent:  StructuredIntent{Kind: KindList, Entities: []string{"orders"}, Limit: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.intent.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	in, err := Parse([]byte(`{
		"kind": "COUNT",
		"entities": ["orders"],
		"filters": [
			{"key": "time_range", "value": "last_week"},
			{"key": "locations", "op": "in", "values": ["Brazil", "Chile"]}
		],
		"aggregations": [{"func": "count"}],
		"user_scoped": true,
		"user_id": "someone-else"
	}`))
	require.NoError(t, err)

	assert.Equal(t, KindCount, in.Kind)
	assert.Equal(t, "COUNT", in.Aggregations[0].Func)
	assert.Equal(t, []any{"Brazil", "Chile"}, in.Filters[1].Values)
	assert.False(t, in.UserScoped, "identity never comes from model output")
	assert.Empty(t, in.UserID)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`not json`, `{"kind":"count"}`, `{"kind":"dance","entities":["x"]}`} {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestNewStructuredIntentAndClone(t *testing.T) {
	in, err := NewStructuredIntent(KindCount, []string{"orders"},
		WithTimeRange("last_week"), WithLocations("Brazil"), WithUser("u1"), WithLimit(10))
	require.NoError(t, err)

	assert.True(t, in.UserScoped)
	assert.Equal(t, "orders", in.PrimaryEntity())

	clone := in.Clone()
	clone.Entities[0] = "users"
	clone.Filters[1].Values[0] = "Peru"

	assert.Equal(t, "orders", in.Entities[0])
	assert.Equal(t, "Brazil", in.Filters[1].Values[0])

	_, err = NewStructuredIntent(KindCount, nil)
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	obj, ok := extractJSON("Sure!\n```json\n{\"kind\":\"list\",\"entities\":[\"a\"]}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"kind":"list","entities":["a"]}`, obj)

	_, ok = extractJSON("no braces here")
	assert.False(t, ok)
}
