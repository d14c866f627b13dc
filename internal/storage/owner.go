package storage

import (
	"context"
	"sync"
)

// Owner serializes read-modify-write cycles on a Store, one lock per
// collection. A lock is held for a single load + mutate + save, never across
// network calls, so callers cannot block each other for long.
type Owner struct {
	store Store

	subsMu    sync.Mutex
	pendingMu sync.Mutex
}

func NewOwner(store Store) *Owner {
	return &Owner{store: store}
}

func (o *Owner) Store() Store { return o.store }

// Subscribers returns a snapshot of the subscriber set.
func (o *Owner) Subscribers(ctx context.Context) (Subscribers, error) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	return o.store.LoadSubscribers(ctx)
}

// Pending returns a snapshot of the pending-challenge table.
func (o *Owner) Pending(ctx context.Context) (PendingTable, error) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	return o.store.LoadPending(ctx)
}

// UpdateSubscribers loads the set, lets fn mutate it and saves it when fn
// reports a change. It returns the resulting set.
func (o *Owner) UpdateSubscribers(ctx context.Context, fn func(subs Subscribers) (changed bool)) (Subscribers, error) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	subs, err := o.store.LoadSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = Subscribers{}
	}
	if !fn(subs) {
		return subs, nil
	}
	if err := o.store.SaveSubscribers(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdatePending is UpdateSubscribers for the pending-challenge table.
func (o *Owner) UpdatePending(ctx context.Context, fn func(table PendingTable) (changed bool)) (PendingTable, error) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	table, err := o.store.LoadPending(ctx)
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = PendingTable{}
	}
	if !fn(table) {
		return table, nil
	}
	if err := o.store.SavePending(ctx, table); err != nil {
		return nil, err
	}
	return table, nil
}
