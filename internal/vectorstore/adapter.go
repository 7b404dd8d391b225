package vectorstore

import (
	"context"
	"sync"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
)

// Claim is a writer's snapshot of an owner's generation. A delete of the
// owner moves the generation, after which upserts under the claim are
// rejected.
type Claim struct {
	owner      string
	generation uint64
}

// Owner returns the owner the claim was taken for
func (c Claim) Owner() string { return c.owner }

type ownerState struct {
	mu         sync.RWMutex
	generation uint64
}

// Adapter is the only writer of documents. Writers for an owner share its
// lock; a delete takes it exclusively, so no write lands after a delete
// returns.
type Adapter struct {
	store  Store
	mu     sync.Mutex
	owners map[string]*ownerState
	logger *logging.Logger
}

// NewAdapter wraps a backend
func NewAdapter(store Store) *Adapter {
	return &Adapter{
		store:  store,
		owners: make(map[string]*ownerState),
		logger: logging.GetLogger().WithFields(map[string]interface{}{
			"component": "vectorstore",
			"backend":   store.Name(),
		}),
	}
}

func (a *Adapter) state(owner string) *ownerState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.owners[owner]
	if !ok {
		st = &ownerState{}
		a.owners[owner] = st
	}

	return st
}

// Claim snapshots owner's generation for a later Upsert
func (a *Adapter) Claim(owner string) Claim {
	st := a.state(owner)

	st.mu.RLock()
	defer st.mu.RUnlock()

	return Claim{owner: owner, generation: st.generation}
}

// Upsert writes docs for the claim's owner. It fails with UpsertRejected
// when the owner was deleted after the claim was taken.
func (a *Adapter) Upsert(ctx context.Context, claim Claim, docs []Document) error {
	if claim.owner == "" {
		return errors.New(errors.ErrTypeValidation, "claim has no owner")
	}

	for i := range docs {
		d := &docs[i]

		if d.OwnerID != claim.owner {
			return errors.Newf(errors.ErrTypeValidation, "document owner %q does not match claim owner %q", d.OwnerID, claim.owner)
		}

		if len(d.Vector) == 0 || d.Model == "" || d.ContentHash == "" {
			return errors.New(errors.ErrTypeValidation, "document is missing its vector, model or content hash")
		}

		if d.ID == "" {
			d.ID = DocumentID(d.OwnerID, d.SourceTable, d.Model, d.ContentHash)
		}
	}

	st := a.state(claim.owner)

	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.generation != claim.generation {
		a.logger.WithField("owner", claim.owner).Warn("Rejected upsert after owner deletion")
		return errors.New(errors.ErrTypeUpsertRejected, "owner was deleted after this write was claimed")
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeCanceled, "upsert canceled")
	}

	if err := a.store.Upsert(ctx, docs); err != nil {
		return errors.Wrap(err, errors.ErrTypeVectorStoreUnavailable, "failed to upsert documents")
	}

	return nil
}

// Supersede retires documents of (owner, table, model) from runs other than
// runID, under the same claim rules as Upsert. When commit is not nil it runs
// afterwards under the same owner lock, so a delete either precedes both or
// follows both.
func (a *Adapter) Supersede(
	ctx context.Context,
	claim Claim,
	table, model, runID string,
	commit func(context.Context) error,
) (int, error) {
	st := a.state(claim.owner)

	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.generation != claim.generation {
		return 0, errors.New(errors.ErrTypeUpsertRejected, "owner was deleted after this write was claimed")
	}

	n, err := a.store.Supersede(ctx, claim.owner, table, model, runID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrTypeVectorStoreUnavailable, "failed to supersede documents")
	}

	if commit != nil {
		if err := commit(ctx); err != nil {
			return n, err
		}
	}

	return n, nil
}

// Delete removes every document of owner. When cleanup is not nil it runs
// while the owner is still locked. When Delete returns, no document of the
// owner is retrievable and in-flight claims are invalid.
func (a *Adapter) Delete(ctx context.Context, owner string, cleanup func(context.Context) error) (int, error) {
	if owner == "" {
		return 0, errors.New(errors.ErrTypeValidation, "owner is required")
	}

	st := a.state(owner)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.generation++

	n, err := a.store.DeleteOwner(ctx, owner)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrTypeVectorStoreUnavailable, "failed to delete documents")
	}

	if cleanup != nil {
		if err := cleanup(ctx); err != nil {
			return n, err
		}
	}

	a.logger.Audit("owner_deleted", map[string]interface{}{"owner": owner, "documents": n})

	return n, nil
}

// Query returns the topK documents most similar to vector among those the
// filter allows
func (a *Adapter) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, errors.New(errors.ErrTypeValidation, "query vector is empty")
	}

	if filter.Model == "" {
		return nil, errors.New(errors.ErrTypeValidation, "query filter must name the embedding model")
	}

	if len(filter.Owners()) == 0 {
		return nil, nil
	}

	matches, err := a.store.Query(ctx, vector, filter, topK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrTypeCanceled, "query canceled")
		}

		return nil, errors.Wrap(err, errors.ErrTypeVectorStoreUnavailable, "failed to query documents")
	}

	allowed := matches[:0]

	for _, m := range matches {
		if !filter.Allows(m.Document) {
			a.logger.Audit("isolation_violation", map[string]interface{}{
				"requested_owner": filter.OwnerID,
				"document_owner":  m.Document.OwnerID,
				"document_id":     m.Document.ID,
			})

			continue
		}

		allowed = append(allowed, m)
	}

	return allowed, nil
}

// Backend returns the wrapped store's name
func (a *Adapter) Backend() string { return a.store.Name() }

// Close closes the backend
func (a *Adapter) Close() error { return a.store.Close() }
