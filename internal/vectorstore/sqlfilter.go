package vectorstore

import (
	"fmt"
	"strconv"
	"strings"
)

// placeholders generates bind markers for a SQL dialect
type placeholders struct {
	dollar bool
	next   int
}

func (p *placeholders) mark() string {
	p.next++
	if p.dollar {
		return "$" + strconv.Itoa(p.next)
	}

	return "?"
}

// whereClause renders the filter as a SQL predicate over the documents
// table. lengthExpr is the dialect expression for a stored vector's length.
// An owner list that would be empty renders a predicate matching nothing.
func whereClause(filter Filter, dims int, lengthExpr string, p *placeholders) (string, []any) {
	conds := []string{"superseded_at IS NULL"}

	var args []any

	owners := filter.Owners()
	if len(owners) == 0 {
		conds = append(conds, "1 = 0")
	} else {
		marks := make([]string, len(owners))
		for i, owner := range owners {
			marks[i] = p.mark()
			args = append(args, owner)
		}

		conds = append(conds, fmt.Sprintf("owner_id IN (%s)", strings.Join(marks, ", ")))
	}

	if filter.Model != "" {
		conds = append(conds, "model = "+p.mark())
		args = append(args, filter.Model)
	}

	if len(filter.Tables) > 0 {
		marks := make([]string, len(filter.Tables))
		for i, table := range filter.Tables {
			marks[i] = p.mark()
			args = append(args, table)
		}

		conds = append(conds, fmt.Sprintf("source_table IN (%s)", strings.Join(marks, ", ")))
	}

	if dims > 0 && lengthExpr != "" {
		conds = append(conds, fmt.Sprintf("%s = %s", lengthExpr, p.mark()))
		args = append(args, dims)
	}

	return strings.Join(conds, " AND "), args
}

// vectorLiteral renders a vector as "[v1,v2,...]", the text form DuckDB
// casts to FLOAT[]
func vectorLiteral(vec []float32) string {
	var b strings.Builder

	b.WriteByte('[')

	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}

	b.WriteByte(']')

	return b.String()
}
