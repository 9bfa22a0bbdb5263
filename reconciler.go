package proxyfleet

import (
	"context"

	"github.com/pkg/errors"
)

// Reconciler keeps the Auth Cache in sync with the orders collection. It
// runs for the life of the process, applying insert/update/delete events by
// re-deriving the sibling set for the affected order, the same way the Auth
// Manager's hydration path does.
type Reconciler struct {
	cache *AuthCache
	store Store
}

func NewReconciler(cache *AuthCache, store Store) *Reconciler {
	return &Reconciler{cache: cache, store: store}
}

// Run subscribes to the orders change stream and applies events until ctx is
// cancelled or the stream errors out. Errors opening or reading the stream
// are returned to the caller, who is expected to retry with backoff; they
// are never fatal to the process.
func (r *Reconciler) Run(ctx context.Context) error {
	stream, err := r.store.WatchOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "reconciler: open change stream")
	}
	defer stream.Close(ctx)

	for stream.Next(ctx) {
		event, err := stream.Decode()
		if err != nil {
			Log.WithError(err).Warn("reconciler: failed to decode change event")
			continue
		}
		r.apply(ctx, event)
	}
	if err := stream.Err(); err != nil {
		return errors.Wrap(err, "reconciler: change stream")
	}
	return ctx.Err()
}

func (r *Reconciler) apply(ctx context.Context, event ChangeEvent) {
	switch event.Operation {
	case ChangeEventInsert, ChangeEventUpdate:
		r.applyUpsert(ctx, event.FullDocument)
	case ChangeEventDelete:
		r.applyDelete(ctx, event.FullDocumentBeforeChange)
	default:
		// Other operation types (replace, invalidate, drop, ...) are ignored.
	}
}

func (r *Reconciler) applyUpsert(ctx context.Context, doc *Order) {
	if doc == nil || doc.ProductSlug != "isp" {
		return
	}
	siblings, err := r.store.FindSiblingStocks(ctx, doc.ID)
	if err != nil {
		Log.WithField("order_id", doc.ID).WithError(err).Warn("reconciler: failed to enumerate siblings")
		return
	}
	multi := doc.Proxy.MultiCredentials()
	for i, sibling := range siblings {
		position := 0
		if multi {
			position = i
		}
		r.cache.Insert(sibling.Address, *doc, position)
	}
}

func (r *Reconciler) applyDelete(ctx context.Context, before *Order) {
	if before == nil {
		// No pre-image available; the affected entries age out via TTL.
		Log.Debug("reconciler: delete event without before-change image")
		return
	}
	siblings, err := r.store.FindSiblingStocks(ctx, before.ID)
	if err != nil {
		Log.WithField("order_id", before.ID).WithError(err).Warn("reconciler: failed to enumerate siblings for delete")
		return
	}
	for _, sibling := range siblings {
		r.cache.Delete(sibling.Address)
	}
}
