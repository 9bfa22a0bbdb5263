package proxyfleet

import "context"

// Store is the external document database boundary. Production wiring is
// MongoStore (store_mongo.go); tests use a hand-rolled fake rather than a
// mocking framework.
type Store interface {
	// FindStockByAddress returns the stock row whose Address equals addr, or
	// ErrStockNotFound.
	FindStockByAddress(ctx context.Context, addr string) (StockRow, error)

	// FindOrderByID returns the order with the given id, or ErrOrderNotFound.
	FindOrderByID(ctx context.Context, id string) (Order, error)

	// FindSiblingStocks returns every stock row with UsedInOrder == orderID,
	// sorted by Address ascending. Sorting here, rather than leaving
	// enumeration order store-dependent, keeps the Auth Manager and the
	// Change Stream Reconciler in agreement on sibling indexing no matter
	// which of them calls it.
	FindSiblingStocks(ctx context.Context, orderID string) ([]StockRow, error)

	// WatchOrders opens a change stream over the orders collection with
	// full-document-on-update and full-document-before-change semantics.
	WatchOrders(ctx context.Context) (ChangeStream, error)
}

// ChangeEventOp identifies the kind of change-stream event.
type ChangeEventOp string

const (
	ChangeEventInsert ChangeEventOp = "insert"
	ChangeEventUpdate ChangeEventOp = "update"
	ChangeEventDelete ChangeEventOp = "delete"
)

// ChangeEvent is a single decoded change-stream event.
type ChangeEvent struct {
	Operation ChangeEventOp

	// FullDocument is populated for insert/update; nil otherwise.
	FullDocument *Order

	// FullDocumentBeforeChange is populated for delete (and update, though
	// the reconciler only needs it for delete); nil if the server didn't
	// have a pre-image to hand back.
	FullDocumentBeforeChange *Order
}

// ChangeStream is the minimal surface the reconciler needs from a Mongo
// change stream cursor, boundary-specified so it can be faked in tests.
type ChangeStream interface {
	// Next blocks until the next event is available, ctx is cancelled, or
	// the stream is exhausted/errored. Returns false in the latter two
	// cases; callers should check Err() to distinguish them.
	Next(ctx context.Context) bool
	Decode() (ChangeEvent, error)
	Err() error
	Close(ctx context.Context) error
}
