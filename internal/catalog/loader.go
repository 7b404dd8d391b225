package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/types"
)

// fileDocument is the on-disk catalog layout:
//
//	tables:
//	  orders:
//	    summary: Customer orders
//	    user_column: user_id
//	    columns:
//	      - {name: id, type: identifier}
//	    relationships:
//	      - {column: user_id, ref_table: users, ref_column: id}
type fileDocument struct {
	Tables map[string]fileTable `yaml:"tables"`
}

type fileTable struct {
	Summary        string               `yaml:"summary"`
	Columns        []types.Column       `yaml:"columns"`
	Relationships  []types.Relationship `yaml:"relationships"`
	UserColumn     string               `yaml:"user_column"`
	TimeColumn     string               `yaml:"time_column"`
	LocationColumn string               `yaml:"location_column"`
}

// FileLoader reads descriptors from a YAML catalog file
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) ([]*types.SchemaDescriptor, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	return ParseYAML(data)
}

// ParseYAML decodes a catalog document
func ParseYAML(data []byte) ([]*types.SchemaDescriptor, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	names := make([]string, 0, len(doc.Tables))
	for name := range doc.Tables {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]*types.SchemaDescriptor, 0, len(names))
	for _, name := range names {
		t := doc.Tables[name]
		out = append(out, &types.SchemaDescriptor{
			Name:           name,
			Columns:        t.Columns,
			Relationships:  t.Relationships,
			Summary:        t.Summary,
			UserColumn:     t.UserColumn,
			TimeColumn:     t.TimeColumn,
			LocationColumn: t.LocationColumn,
		})
	}

	return out, nil
}

// Queryer is the part of *sql.DB the introspection loader needs
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// IntrospectLoader builds descriptors from information_schema. It works for
// both DuckDB and Postgres since both expose the standard views.
type IntrospectLoader struct {
	DB     Queryer
	Schema string
	// Placeholder is "?" for DuckDB and "$1" for Postgres
	Placeholder string
}

func (l IntrospectLoader) Load(ctx context.Context) ([]*types.SchemaDescriptor, error) {
	placeholder := l.Placeholder
	if placeholder == "" {
		placeholder = "?"
	}

	query := `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ` + placeholder + `
		ORDER BY table_name, ordinal_position`

	rows, err := l.DB.QueryContext(ctx, query, l.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect columns: %w", err)
	}
	defer rows.Close()

	byTable := make(map[string]*types.SchemaDescriptor)

	var order []string

	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		d, ok := byTable[table]
		if !ok {
			d = &types.SchemaDescriptor{Name: table}
			byTable[table] = d
			order = append(order, table)
		}

		d.Columns = append(d.Columns, types.Column{
			Name:     column,
			Type:     introspectedType(column, dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	if err := l.loadRelationships(ctx, byTable, placeholder); err != nil {
		return nil, err
	}

	out := make([]*types.SchemaDescriptor, 0, len(order))
	for _, name := range order {
		out = append(out, byTable[name])
	}

	return out, nil
}

// loadRelationships reads declared foreign keys. Engines that do not expose
// referential constraints leave tables without relationships.
func (l IntrospectLoader) loadRelationships(
	ctx context.Context,
	byTable map[string]*types.SchemaDescriptor,
	placeholder string,
) error {
	query := `
		SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = ` + placeholder

	rows, err := l.DB.QueryContext(ctx, query, l.Schema)
	if err != nil {
		logging.GetLogger().WithField("component", "catalog").WithError(err).
			Debug("Foreign key introspection unavailable, loading tables without relationships")

		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var table, column, refTable, refColumn string
		if err := rows.Scan(&table, &column, &refTable, &refColumn); err != nil {
			return fmt.Errorf("failed to scan relationship: %w", err)
		}

		if d, ok := byTable[table]; ok {
			if target, known := byTable[refTable]; known && target.HasColumn(refColumn) && d.HasColumn(column) {
				d.Relationships = append(d.Relationships, types.Relationship{
					Column: column, RefTable: refTable, RefColumn: refColumn,
				})
			}
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read relationships: %w", err)
	}

	return nil
}

func introspectedType(column, dataType string) types.SemanticType {
	t := types.SemanticTypeFromNative(dataType)

	name := strings.ToLower(column)
	if (t == types.SemanticInteger || t == types.SemanticText) && (name == "id" || strings.HasSuffix(name, "_id")) {
		return types.SemanticIdentifier
	}

	return t
}
