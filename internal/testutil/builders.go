package testutil

import (
	"github.com/kyleking/askdb/internal/types"
)

// DescriptorOption is a functional option for building schema descriptors
type DescriptorOption func(*types.SchemaDescriptor)

// WithColumn appends a column
func WithColumn(name string, t types.SemanticType) DescriptorOption {
	return func(d *types.SchemaDescriptor) {
		d.Columns = append(d.Columns, types.Column{Name: name, Type: t})
	}
}

// WithNullableColumn appends a nullable column
func WithNullableColumn(name string, t types.SemanticType) DescriptorOption {
	return func(d *types.SchemaDescriptor) {
		d.Columns = append(d.Columns, types.Column{Name: name, Type: t, Nullable: true})
	}
}

// WithRelationship declares column -> refTable.refColumn
func WithRelationship(column, refTable, refColumn string) DescriptorOption {
	return func(d *types.SchemaDescriptor) {
		d.Relationships = append(d.Relationships, types.Relationship{
			Column: column, RefTable: refTable, RefColumn: refColumn,
		})
	}
}

// WithSummary sets the human readable summary
func WithSummary(summary string) DescriptorOption {
	return func(d *types.SchemaDescriptor) {
		d.Summary = summary
	}
}

// WithUserColumn sets the user-scope column explicitly
func WithUserColumn(column string) DescriptorOption {
	return func(d *types.SchemaDescriptor) {
		d.UserColumn = column
	}
}

// WithTimeColumn sets the time column explicitly
func WithTimeColumn(column string) DescriptorOption {
	return func(d *types.SchemaDescriptor) {
		d.TimeColumn = column
	}
}

// NewTestDescriptor builds a descriptor from options
func NewTestDescriptor(name string, opts ...DescriptorOption) *types.SchemaDescriptor {
	d := &types.SchemaDescriptor{Name: name}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// SampleDescriptors returns a small commerce schema:
//
//	users <- orders -> products
//	users <- reviews -> products
//	orders <- order_items -> products
//	regions (unrelated)
//
// users and products are joined by two equally short paths, which exercises
// join tie-breaking.
func SampleDescriptors() []*types.SchemaDescriptor {
	return []*types.SchemaDescriptor{
		NewTestDescriptor("users",
			WithColumn("id", types.SemanticIdentifier),
			WithColumn("name", types.SemanticText),
			WithNullableColumn("email", types.SemanticText),
			WithColumn("country", types.SemanticText),
			WithColumn("created_at", types.SemanticTimestamp),
			WithUserColumn("id"),
			WithSummary("Registered customers"),
		),
		NewTestDescriptor("orders",
			WithColumn("id", types.SemanticIdentifier),
			WithColumn("user_id", types.SemanticIdentifier),
			WithColumn("product_id", types.SemanticIdentifier),
			WithColumn("total", types.SemanticDecimal),
			WithColumn("quantity", types.SemanticInteger),
			WithColumn("status", types.SemanticText),
			WithColumn("country", types.SemanticText),
			WithNullableColumn("shipped_at", types.SemanticTimestamp),
			WithColumn("updated_at", types.SemanticTimestamp),
			WithColumn("is_gift", types.SemanticBoolean),
			WithRelationship("user_id", "users", "id"),
			WithRelationship("product_id", "products", "id"),
			WithTimeColumn("shipped_at"),
			WithSummary("Customer orders with shipping destination"),
		),
		NewTestDescriptor("products",
			WithColumn("id", types.SemanticIdentifier),
			WithColumn("name", types.SemanticText),
			WithColumn("category", types.SemanticText),
			WithColumn("price", types.SemanticDecimal),
		),
		NewTestDescriptor("reviews",
			WithColumn("id", types.SemanticIdentifier),
			WithColumn("user_id", types.SemanticIdentifier),
			WithColumn("product_id", types.SemanticIdentifier),
			WithColumn("rating", types.SemanticInteger),
			WithColumn("created_at", types.SemanticTimestamp),
			WithRelationship("user_id", "users", "id"),
			WithRelationship("product_id", "products", "id"),
		),
		NewTestDescriptor("order_items",
			WithColumn("id", types.SemanticIdentifier),
			WithColumn("order_id", types.SemanticIdentifier),
			WithColumn("product_id", types.SemanticIdentifier),
			WithColumn("unit_price", types.SemanticDecimal),
			WithRelationship("order_id", "orders", "id"),
			WithRelationship("product_id", "products", "id"),
		),
		NewTestDescriptor("regions",
			WithColumn("code", types.SemanticIdentifier),
			WithColumn("name", types.SemanticText),
		),
	}
}
