package proxyfleet

import (
	"context"
	"sort"
)

// fakeStore is a hand-rolled in-memory Store used across the package's
// tests, in place of a mocking framework.
type fakeStore struct {
	stocks []StockRow
	orders map[string]Order
	stream *fakeChangeStream
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]Order)}
}

func (s *fakeStore) FindStockByAddress(ctx context.Context, addr string) (StockRow, error) {
	for _, row := range s.stocks {
		if row.Address == addr {
			return row, nil
		}
	}
	return StockRow{}, ErrStockNotFound
}

func (s *fakeStore) FindOrderByID(ctx context.Context, id string) (Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *fakeStore) FindSiblingStocks(ctx context.Context, orderID string) ([]StockRow, error) {
	var out []StockRow
	for _, row := range s.stocks {
		if row.UsedInOrder == orderID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *fakeStore) WatchOrders(ctx context.Context) (ChangeStream, error) {
	if s.stream == nil {
		s.stream = &fakeChangeStream{}
	}
	return s.stream, nil
}

// fakeChangeStream is a hand-fed ChangeStream: tests push events onto
// pending and Next/Decode drain them in order.
type fakeChangeStream struct {
	pending []ChangeEvent
	pos     int
	closed  bool
}

func (s *fakeChangeStream) push(e ChangeEvent) {
	s.pending = append(s.pending, e)
}

func (s *fakeChangeStream) Next(ctx context.Context) bool {
	if s.pos >= len(s.pending) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeChangeStream) Decode() (ChangeEvent, error) {
	return s.pending[s.pos-1], nil
}

func (s *fakeChangeStream) Err() error {
	return nil
}

func (s *fakeChangeStream) Close(ctx context.Context) error {
	s.closed = true
	return nil
}
