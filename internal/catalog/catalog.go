package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/types"
)

// Loader supplies table descriptors from some external source
type Loader interface {
	Load(ctx context.Context) ([]*types.SchemaDescriptor, error)
}

// Snapshot is an immutable, versioned view of the catalog. A pipeline run
// holds one snapshot from start to finish.
type Snapshot struct {
	version  uint64
	loadedAt time.Time
	tables   map[string]*types.SchemaDescriptor
}

// NewSnapshot validates and normalizes descriptors into a snapshot
func NewSnapshot(version uint64, descriptors []*types.SchemaDescriptor) (*Snapshot, error) {
	tables := make(map[string]*types.SchemaDescriptor, len(descriptors))

	for _, d := range descriptors {
		if d == nil {
			continue
		}

		desc := d.Clone()
		desc.Normalize()

		if err := desc.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeValidation, "invalid table descriptor")
		}

		key := strings.ToLower(desc.Name)
		if _, dup := tables[key]; dup {
			return nil, errors.Newf(errors.ErrTypeValidation, "table %s declared twice", desc.Name)
		}

		tables[key] = desc
	}

	for _, desc := range tables {
		for _, rel := range desc.Relationships {
			target, ok := tables[strings.ToLower(rel.RefTable)]
			if !ok {
				return nil, errors.Newf(errors.ErrTypeValidation,
					"table %s references unknown table %s", desc.Name, rel.RefTable)
			}

			if !target.HasColumn(rel.RefColumn) {
				return nil, errors.Newf(errors.ErrTypeValidation,
					"table %s references unknown column %s.%s", desc.Name, rel.RefTable, rel.RefColumn)
			}
		}
	}

	return &Snapshot{version: version, loadedAt: time.Now(), tables: tables}, nil
}

// Version returns the snapshot's monotonically increasing version
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt returns when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of tables
func (s *Snapshot) Len() int { return len(s.tables) }

// Table returns a copy of the named table's descriptor
func (s *Snapshot) Table(name string) (*types.SchemaDescriptor, bool) {
	d, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil, false
	}

	return d.Clone(), true
}

// Names returns table names in sorted order
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.tables))
	for _, d := range s.tables {
		names = append(names, d.Name)
	}

	sort.Strings(names)

	return names
}

// Tables returns copies of all descriptors sorted by name
func (s *Snapshot) Tables() []*types.SchemaDescriptor {
	out := make([]*types.SchemaDescriptor, 0, len(s.tables))
	for _, name := range s.Names() {
		d, _ := s.Table(name)
		out = append(out, d)
	}

	return out
}

// Catalog owns the current snapshot and replaces it atomically on Reload
type Catalog struct {
	loader     Loader
	logger     *logging.Logger
	current    atomic.Pointer[Snapshot]
	minVersion atomic.Uint64
	reloadMu   sync.Mutex
	version    uint64
}

// New creates a catalog backed by loader. Call Reload before Current.
func New(loader Loader, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Catalog{loader: loader, logger: logger.WithField("component", "catalog")}
}

// NewStatic creates a catalog already loaded with descriptors
func NewStatic(descriptors ...*types.SchemaDescriptor) (*Catalog, error) {
	c := New(StaticLoader(descriptors), nil)
	if _, err := c.Reload(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

// Reload fetches descriptors and swaps in a new snapshot. Requests that
// already hold the previous snapshot keep using it.
func (c *Catalog) Reload(ctx context.Context) (*Snapshot, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	descriptors, err := c.loader.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStaleSchema, "failed to load catalog").
			WithSuggestion("Check the catalog source and run 'askdb catalog reload'")
	}

	snapshot, err := NewSnapshot(c.version+1, descriptors)
	if err != nil {
		return nil, err
	}

	c.version = snapshot.version
	c.current.Store(snapshot)

	c.logger.WithFields(map[string]interface{}{
		"version": snapshot.version,
		"tables":  snapshot.Len(),
	}).Info("catalog reloaded")

	return snapshot, nil
}

// Current returns the snapshot to carry through one pipeline run
func (c *Catalog) Current() (*Snapshot, error) {
	s := c.current.Load()
	if s == nil {
		return nil, errors.New(errors.ErrTypeStaleSchema, "catalog has not been loaded")
	}

	if err := c.Check(s); err != nil {
		return nil, err
	}

	return s, nil
}

// Invalidate declares every snapshot loaded so far unusable until the next Reload
func (c *Catalog) Invalidate() {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	c.minVersion.Store(c.version + 1)
	c.logger.WithField("min_version", c.version+1).Warn("catalog invalidated")
}

// Check returns StaleSchema when s predates the last invalidation
func (c *Catalog) Check(s *Snapshot) error {
	if s == nil {
		return errors.New(errors.ErrTypeStaleSchema, "no catalog snapshot")
	}

	if s.version < c.minVersion.Load() {
		return errors.Newf(errors.ErrTypeStaleSchema, "catalog snapshot v%d was invalidated", s.version).
			WithSuggestion("Run 'askdb catalog reload'")
	}

	return nil
}

// StaticLoader returns fixed descriptors; used for embedded catalogs and tests
type StaticLoader []*types.SchemaDescriptor

func (l StaticLoader) Load(_ context.Context) ([]*types.SchemaDescriptor, error) {
	return l, nil
}
