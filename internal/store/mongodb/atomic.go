package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

// RunAtomic runs fn inside a snapshot transaction. The driver re-runs the
// callback on TransientTransactionError; stale inventory versions surface as
// store.ErrConflict and are retried here up to maxAttempts.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(context.Background())

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		_, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc, &mongoTx{db: s.db, versions: make(map[string]int64)})
		}, txnOpts)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt < s.maxAttempts {
			if err := store.Backoff(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", store.ErrConflict, s.maxAttempts, lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, store.ErrConflict) {
		return true
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorLabel("TransientTransactionError")
	}
	return false
}

type mongoTx struct {
	store.Guard
	db *mongo.Database
	// version observed per inventory id; 0 means the document did not exist
	versions map[string]int64
}

func (t *mongoTx) GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	if err := t.BeforeRead(); err != nil {
		return nil, err
	}
	var doc inventoryDoc
	if err := t.db.Collection(colInventory).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			t.versions[id] = 0
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.versions[id] = doc.Version
	rec := doc.domain()
	return &rec, nil
}

func (t *mongoTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := t.BeforeRead(); err != nil {
		return nil, err
	}
	var doc productDoc
	if err := t.db.Collection(colProducts).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mapNotFound(err)
	}
	p := doc.domain()
	return &p, nil
}

func (t *mongoTx) PutInventory(ctx context.Context, record domain.InventoryRecord) error {
	t.BeforeWrite()

	if record.ID != domain.InventoryRecordID(record.KioskID, record.ProductID) {
		return store.ErrInvalidTransaction
	}
	version, read := t.versions[record.ID]
	if !read {
		return fmt.Errorf("%w: inventory %s written without being read", store.ErrInvalidTransaction, record.ID)
	}
	if record.Quantity < 0 {
		return store.ErrInsufficientStock
	}

	col := t.db.Collection(colInventory)
	if version == 0 {
		res, err := col.UpdateOne(ctx,
			bson.M{"_id": record.ID},
			bson.M{
				"$setOnInsert": bson.M{
					"kiosk_id":   record.KioskID,
					"product_id": record.ProductID,
					"quantity":   record.Quantity,
					"version":    int64(1),
				},
				"$currentDate": bson.M{"updated_at": true},
			},
			options.Update().SetUpsert(true))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrConflict
			}
			return err
		}
		if res.MatchedCount > 0 {
			return store.ErrConflict
		}
		t.versions[record.ID] = 1
		return nil
	}

	res, err := col.UpdateOne(ctx,
		bson.M{"_id": record.ID, "version": version},
		bson.M{
			"$set":         bson.M{"quantity": record.Quantity},
			"$inc":         bson.M{"version": 1},
			"$currentDate": bson.M{"updated_at": true},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrConflict
	}
	t.versions[record.ID] = version + 1
	return nil
}

func (t *mongoTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	t.BeforeWrite()

	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	res, err := t.db.Collection(colSales).UpdateOne(ctx,
		bson.M{"_id": sale.ID},
		bson.M{
			"$setOnInsert": saleInsertFields(sale),
			"$currentDate": bson.M{"created_at": true},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return fmt.Errorf("%w: sale %s", store.ErrDuplicate, sale.ID)
	}
	return nil
}
