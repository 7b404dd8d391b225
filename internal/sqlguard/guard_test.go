package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		sql           string
		expectedError string
	}{
		{
			name: "parameterized select",
			sql:  `SELECT COUNT(*) AS "count" FROM "orders" WHERE "shipped_at" >= $1 LIMIT 100`,
		},
		{
			name: "lowercase select with leading whitespace",
			sql:  "\n  select \"id\" from \"users\" limit 5",
		},
		{
			name: "identifiers containing denied words as substrings",
			sql:  `SELECT "updated_at", "last_update", "dropped_count", "inserted_by" FROM "orders" LIMIT 1`,
		},
		{
			name:          "empty",
			sql:           "   ",
			expectedError: "empty statement",
		},
		{
			name:          "DROP TABLE",
			sql:           "DROP TABLE orders",
			expectedError: "does not begin with SELECT",
		},
		{
			name:          "CTE is not allowed",
			sql:           "WITH x AS (SELECT 1) SELECT * FROM x",
			expectedError: "does not begin with SELECT",
		},
		{
			name:          "stacked statement",
			sql:           "SELECT 1; DELETE FROM orders",
			expectedError: `";"`,
		},
		{
			name:          "line comment",
			sql:           "SELECT * FROM orders -- WHERE user_id = $1",
			expectedError: `"--"`,
		},
		{
			name:          "block comment",
			sql:           "SELECT * FROM orders /* hidden */ LIMIT 1",
			expectedError: `"/*"`,
		},
		{
			name:          "inline literal",
			sql:           "SELECT * FROM orders WHERE status = 'x' OR '1'='1'",
			expectedError: `"'"`,
		},
		{
			name:          "union",
			sql:           "SELECT id FROM orders UNION SELECT id FROM users",
			expectedError: "UNION",
		},
		{
			name:          "denied keyword inside select",
			sql:           `SELECT * FROM "orders" WHERE "id" IN (SELECT "id" FROM "x") AND TRUNCATE`,
			expectedError: "denied keyword TRUNCATE",
		},
		{
			name:          "denied keyword as quoted identifier",
			sql:           `SELECT "grant" FROM "orders" LIMIT 1`,
			expectedError: "denied keyword GRANT",
		},
		{
			name:          "select prefix of another word",
			sql:           "SELECTED FROM orders",
			expectedError: "does not begin with SELECT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sql)

			if tt.expectedError == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeForbiddenOperation))
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestValidateEveryDeniedKeyword(t *testing.T) {
	for _, kw := range DeniedKeywords {
		t.Run(kw, func(t *testing.T) {
			err := Validate("SELECT * FROM t WHERE x = $1 AND " + kw + " y")
			assert.True(t, errors.IsType(err, errors.ErrTypeForbiddenOperation))
		})
	}
}

func TestDeniedWord(t *testing.T) {
	assert.True(t, DeniedWord("delete"))
	assert.True(t, DeniedWord("Update"))
	assert.False(t, DeniedWord("updated_at"))
	assert.False(t, DeniedWord("last_update"))
	assert.False(t, DeniedWord("grantee_id"))
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("orders"))
	assert.True(t, ValidIdentifier("_private2"))
	assert.False(t, ValidIdentifier("2fast"))
	assert.False(t, ValidIdentifier(`bad"name`))
	assert.False(t, ValidIdentifier("with space"))
	assert.False(t, ValidIdentifier(""))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"orders"`, QuoteIdent("orders"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestMaxPlaceholder(t *testing.T) {
	assert.Equal(t, 0, MaxPlaceholder("SELECT 1"))
	assert.Equal(t, 3, MaxPlaceholder(`SELECT * FROM t WHERE a = $1 AND b IN ($2, $3) LIMIT 10`))
	assert.Equal(t, 12, MaxPlaceholder(`SELECT * FROM t WHERE a = $12 AND b = $2`))
}
