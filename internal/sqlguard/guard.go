// Package sqlguard holds the read-only statement rules shared by the SQL
// synthesizer and the safety gate, so both always agree on what may run.
package sqlguard

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kyleking/askdb/internal/errors"
)

// AllowedLeadingKeyword is the only statement kind that may execute
const AllowedLeadingKeyword = "SELECT"

// DeniedKeywords may not appear anywhere in a statement, as whole words
var DeniedKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "GRANT"}

var (
	deniedPattern      = regexp.MustCompile(`(?i)\b(` + strings.Join(DeniedKeywords, "|") + `)\b`)
	leadingWordPattern = regexp.MustCompile(`^[A-Za-z]+`)
	placeholderPattern = regexp.MustCompile(`\$([0-9]+)`)
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	unionPattern       = regexp.MustCompile(`(?i)\bunion\b`)

	// Separators and comments can hide a second statement. Synthesized
	// statements bind every literal, so a quote can only come from injection.
	injectionTokens = []string{";", "--", "/*", "*/", "'"}
)

// Validate rejects anything that is not a single read-only SELECT. The
// returned error is always ErrTypeForbiddenOperation.
func Validate(statement string) error {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return errors.NewForbiddenError("empty statement")
	}

	leading := leadingWordPattern.FindString(trimmed)
	if !strings.EqualFold(leading, AllowedLeadingKeyword) {
		return errors.NewForbiddenError("statement does not begin with SELECT")
	}

	for _, token := range injectionTokens {
		if strings.Contains(trimmed, token) {
			return errors.NewForbiddenError("statement contains suspicious token " + strconv.Quote(token))
		}
	}

	if unionPattern.MatchString(trimmed) {
		return errors.NewForbiddenError("statement contains UNION")
	}

	if match := deniedPattern.FindString(trimmed); match != "" {
		return errors.NewForbiddenError("statement contains denied keyword " + strings.ToUpper(match))
	}

	return nil
}

// DeniedWord reports whether name equals a denied keyword; such identifiers
// can never appear in an executable statement
func DeniedWord(name string) bool {
	return deniedPattern.MatchString(name)
}

// ValidIdentifier reports whether name is a plain SQL identifier that can be
// quoted without escaping
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// QuoteIdent double-quotes an identifier. Callers validate names against the
// catalog and ValidIdentifier first.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// MaxPlaceholder returns the highest $n placeholder index in statement
func MaxPlaceholder(statement string) int {
	highest := 0

	for _, m := range placeholderPattern.FindAllStringSubmatch(statement, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}

	return highest
}
