package store

import (
	"context"
	"sync"
	"time"

	"consent-manager/internal/consent/models"
	"consent-manager/internal/consent/service"
	dErrors "consent-manager/pkg/domain-errors"
)

// numConsentShards spreads transactions over independent locks keyed by
// consent request id.
const numConsentShards = 128

const defaultConsentTxTimeout = 5 * time.Second

// ShardedTx runs transactions against an InMemoryStore. Transactions on the
// same consent request serialize; a failed transaction undoes its writes.
//
// Writes are applied as they happen, so transactions are atomic but not
// isolated: plain reads on the store, and transactions on other requests,
// can observe a write that is later rolled back. Callers that need
// read-committed semantics use the Postgres store.
type ShardedTx struct {
	shards  [numConsentShards]sync.Mutex
	store   *InMemoryStore
	timeout time.Duration
}

func NewShardedTx(store *InMemoryStore) *ShardedTx {
	return &ShardedTx{store: store, timeout: defaultConsentTxTimeout}
}

func (t *ShardedTx) RunInTx(ctx context.Context, fn func(store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	journal := &journaledStore{InMemoryStore: t.store}
	if err := fn(journal); err != nil {
		journal.rollback()
		return err
	}
	return nil
}

func (t *ShardedTx) selectShard(ctx context.Context) int {
	if key := service.TxKey(ctx); key != "" {
		return int(hashConsentString(key) % numConsentShards)
	}
	return 0
}

// hashConsentString is FNV-1a.
func hashConsentString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// journaledStore applies writes immediately and records how to undo them.
type journaledStore struct {
	*InMemoryStore
	undo []func()
}

func (j *journaledStore) CreateRequest(ctx context.Context, req *models.ConsentRequest) error {
	if err := j.InMemoryStore.CreateRequest(ctx, req); err != nil {
		return err
	}
	id := req.ID
	j.undo = append(j.undo, func() { delete(j.requests, id) })
	return nil
}

func (j *journaledStore) UpdateRequestStatus(_ context.Context, id string, from, to models.Status, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev, ok := j.requests[id]
	var prevUpdated time.Time
	if ok {
		prevUpdated = prev.UpdatedAt
	}
	if err := j.updateRequestLocked(id, from, to, at); err != nil {
		return err
	}
	j.undo = append(j.undo, func() {
		if r, ok := j.requests[id]; ok && r.Status == to {
			r.Status = from
			r.UpdatedAt = prevUpdated
		}
	})
	return nil
}

func (j *journaledStore) CreateArtefacts(ctx context.Context, artefacts []*models.ConsentArtefact) error {
	if err := j.InMemoryStore.CreateArtefacts(ctx, artefacts); err != nil {
		return err
	}
	ids := make([]string, len(artefacts))
	for i, a := range artefacts {
		ids[i] = a.ID
	}
	j.undo = append(j.undo, func() {
		for _, id := range ids {
			delete(j.artefacts, id)
		}
	})
	return nil
}

func (j *journaledStore) UpdateArtefactStatus(_ context.Context, id string, from, to models.Status, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev, ok := j.artefacts[id]
	var prevUpdated time.Time
	if ok {
		prevUpdated = prev.UpdatedAt
	}
	if err := j.updateArtefactLocked(id, from, to, at); err != nil {
		return err
	}
	j.undo = append(j.undo, func() {
		if a, ok := j.artefacts[id]; ok && a.Status == to {
			a.Status = from
			a.UpdatedAt = prevUpdated
		}
	})
	return nil
}

func (j *journaledStore) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}
