// Package mongodb is a MongoDB-backed store.Repository. Atomic units of work
// use multi-document transactions, so the deployment must be a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/store"
)

const (
	colProducts  = "products"
	colKiosks    = "kiosks"
	colInventory = "inventory"
	colSales     = "sales"
	colCustomers = "customers"
	colUsers     = "users"
)

type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	maxAttempts int
}

func New(ctx context.Context, uri string, database string, maxAttempts int) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	s := &Store{client: client, db: client.Database(database), maxAttempts: maxAttempts}
	if err := s.EnsureIndexes(connectCtx); err != nil {
		slog.Warn("failed to create indexes", "component", "mongo-store", "error", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the uniqueness and lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colProducts: {{
			Keys:    bson.D{{Key: "sku", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		colKiosks: {{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		colInventory: {{
			Keys:    bson.D{{Key: "kiosk_id", Value: 1}, {Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		colSales: {
			{Keys: bson.D{{Key: "vendor_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "kiosk_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colCustomers: {
			{
				Keys: bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"email": bson.M{"$gt": ""}}),
			},
			{Keys: bson.D{{Key: "name_lower", Value: 1}}},
		},
	}
	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexes on %s: %w", col, err)
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := s.db.Collection(colProducts).Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, err
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	products := make([]domain.Product, len(docs))
	for i, d := range docs {
		products[i] = d.domain()
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDoc
	if err := s.db.Collection(colProducts).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mapNotFound(err)
	}
	p := doc.domain()
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	cursor, err := s.db.Collection(colProducts).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		result[d.ID] = d.domain()
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(colProducts).InsertOne(ctx, toProductDoc(product)); err != nil {
		return nil, mapDuplicate(err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	update := bson.M{"$set": bson.M{
		"name":            product.Name,
		"category":        product.Category,
		"material":        product.Material,
		"sell_price":      toDecimal128(product.SellPrice),
		"cost_price":      toDecimal128(product.CostPrice),
		"commission_rate": toDecimal128(product.CommissionRate),
		"active":          product.Active,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc productDoc
	err := s.db.Collection(colProducts).FindOneAndUpdate(ctx, bson.M{"_id": product.ID}, update, opts).Decode(&doc)
	if err != nil {
		return nil, mapNotFound(err)
	}
	updated := doc.domain()
	return &updated, nil
}

func (s *Store) CreateKiosk(ctx context.Context, kiosk domain.Kiosk) (*domain.Kiosk, error) {
	if kiosk.ID == "" || kiosk.Code == "" {
		return nil, store.ErrInvalidTransaction
	}
	if kiosk.CreatedAt.IsZero() {
		kiosk.CreatedAt = time.Now().UTC()
	}
	doc := kioskDoc{ID: kiosk.ID, Code: kiosk.Code, StoreName: kiosk.StoreName, VendorID: kiosk.VendorID, Capacity: kiosk.Capacity, CreatedAt: kiosk.CreatedAt}
	if _, err := s.db.Collection(colKiosks).InsertOne(ctx, doc); err != nil {
		return nil, mapDuplicate(err)
	}
	return &kiosk, nil
}

func (s *Store) GetKiosk(ctx context.Context, id string) (*domain.Kiosk, error) {
	var doc kioskDoc
	if err := s.db.Collection(colKiosks).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mapNotFound(err)
	}
	k := doc.domain()
	return &k, nil
}

func (s *Store) ListKiosks(ctx context.Context) ([]domain.Kiosk, error) {
	cursor, err := s.db.Collection(colKiosks).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "code", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []kioskDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	kiosks := make([]domain.Kiosk, len(docs))
	for i, d := range docs {
		kiosks[i] = d.domain()
	}
	return kiosks, nil
}

func (s *Store) UpdateKioskVendor(ctx context.Context, kioskID string, vendorID string) (*domain.Kiosk, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc kioskDoc
	err := s.db.Collection(colKiosks).
		FindOneAndUpdate(ctx, bson.M{"_id": kioskID}, bson.M{"$set": bson.M{"vendor_id": vendorID}}, opts).
		Decode(&doc)
	if err != nil {
		return nil, mapNotFound(err)
	}
	k := doc.domain()
	return &k, nil
}

func (s *Store) ListInventoryByKiosk(ctx context.Context, kioskID string) ([]domain.InventoryRecord, error) {
	return s.findInventory(ctx, bson.M{"kiosk_id": kioskID})
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	return s.findInventory(ctx, bson.M{})
}

func (s *Store) DeleteInventory(ctx context.Context, id string) error {
	res, err := s.db.Collection(colInventory).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) findInventory(ctx context.Context, filter bson.M) ([]domain.InventoryRecord, error) {
	cursor, err := s.db.Collection(colInventory).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []inventoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]domain.InventoryRecord, len(docs))
	for i, d := range docs {
		records[i] = d.domain()
	}
	return records, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var doc saleDoc
	if err := s.db.Collection(colSales).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mapNotFound(err)
	}
	sale := doc.domain()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query := bson.M{}
	if filter.KioskID != "" {
		query["kiosk_id"] = filter.KioskID
	}
	if filter.VendorID != "" {
		query["vendor_id"] = filter.VendorID
	}
	created := bson.M{}
	if !filter.From.IsZero() {
		created["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		created["$lt"] = filter.To
	}
	if len(created) > 0 {
		query["created_at"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.db.Collection(colSales).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, len(docs))
	for i, d := range docs {
		sales[i] = d.domain()
	}
	return sales, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(colCustomers).InsertOne(ctx, toCustomerDoc(customer)); err != nil {
		return nil, mapDuplicate(err)
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var doc customerDoc
	if err := s.db.Collection(colCustomers).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, mapNotFound(err)
	}
	c := doc.domain()
	return &c, nil
}

func (s *Store) SearchCustomers(ctx context.Context, namePrefix string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 20
	}
	prefix := strings.ToLower(strings.TrimSpace(namePrefix))
	filter := bson.M{"name_lower": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetSort(bson.D{{Key: "name_lower", Value: 1}}).SetLimit(int64(limit))

	cursor, err := s.db.Collection(colCustomers).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []customerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, len(docs))
	for i, d := range docs {
		customers[i] = d.domain()
	}
	return customers, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleVendor
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	doc := userDoc{Username: username, Password: user.Password, Role: user.Role, Name: user.Name, Active: true, CreatedAt: user.CreatedAt}
	if _, err := s.db.Collection(colUsers).InsertOne(ctx, doc); err != nil {
		return mapDuplicate(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.db.Collection(colUsers).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, len(docs))
	for i, d := range docs {
		users[i] = domain.UserAccount{
			Username:  d.Username,
			Password:  d.Password,
			Role:      d.Role,
			Name:      d.Name,
			Active:    d.Active,
			CreatedAt: d.CreatedAt.UTC(),
		}
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": strings.ToLower(strings.TrimSpace(username))},
		bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func mapDuplicate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}
