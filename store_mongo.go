package proxyfleet

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore is the production Store, backed by go.mongodb.org/mongo-driver.
// Not grounded in the retrieval pack (no Mongo example was retrieved) but
// the canonical driver for the collection/Watch()/full-document-before-change
// semantics this system needs; see SPEC_FULL.md §B.
type MongoStore struct {
	client *mongo.Client
	stocks *mongo.Collection
	orders *mongo.Collection
}

// NewMongoStore connects to uri and returns a Store backed by the named
// database's "stock" and "orders" collections.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: connect")
	}
	ctxPing, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "mongodb: ping")
	}
	db := client.Database(database)
	return &MongoStore{
		client: client,
		stocks: db.Collection("stock"),
		orders: db.Collection("orders"),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) FindStockByAddress(ctx context.Context, addr string) (StockRow, error) {
	var row StockRow
	err := s.stocks.FindOne(ctx, bson.M{"address": addr}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return StockRow{}, ErrStockNotFound
	}
	if err != nil {
		return StockRow{}, errors.Wrap(err, "mongodb: find stock")
	}
	return row, nil
}

func (s *MongoStore) FindOrderByID(ctx context.Context, id string) (Order, error) {
	var order Order
	err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, errors.Wrap(err, "mongodb: find order")
	}
	return order, nil
}

func (s *MongoStore) FindSiblingStocks(ctx context.Context, orderID string) ([]StockRow, error) {
	opts := options.Find().SetSort(bson.D{{Key: "address", Value: 1}})
	cur, err := s.stocks.Find(ctx, bson.M{"used_in_order": orderID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: find siblings")
	}
	defer cur.Close(ctx)
	var rows []StockRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "mongodb: decode siblings")
	}
	return rows, nil
}

func (s *MongoStore) WatchOrders(ctx context.Context) (ChangeStream, error) {
	pre := options.WhenAvailable
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(pre)
	cur, err := s.orders.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: watch orders")
	}
	return &mongoChangeStream{cur: cur}, nil
}

type mongoChangeStream struct {
	cur *mongo.ChangeStream
}

func (m *mongoChangeStream) Next(ctx context.Context) bool {
	return m.cur.Next(ctx)
}

func (m *mongoChangeStream) Err() error {
	return m.cur.Err()
}

func (m *mongoChangeStream) Close(ctx context.Context) error {
	return m.cur.Close(ctx)
}

func (m *mongoChangeStream) Decode() (ChangeEvent, error) {
	var raw struct {
		OperationType            string `bson:"operationType"`
		FullDocument             *Order `bson:"fullDocument"`
		FullDocumentBeforeChange *Order `bson:"fullDocumentBeforeChange"`
	}
	if err := m.cur.Decode(&raw); err != nil {
		return ChangeEvent{}, errors.Wrap(err, "mongodb: decode change event")
	}
	return ChangeEvent{
		Operation:                ChangeEventOp(raw.OperationType),
		FullDocument:             raw.FullDocument,
		FullDocumentBeforeChange: raw.FullDocumentBeforeChange,
	}, nil
}
