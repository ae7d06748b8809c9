// Package mongo stores orders in MongoDB using the Node storefront's collections:
// orders, users (cartData) and foods.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/platform/config"
	"github.com/tomato-food/api/internal/repositories"
)

const defaultConnectTimeout = 10 * time.Second

// Registry exposes the MongoDB repositories sharing one client.
type Registry struct {
	client *mongo.Client
	orders *OrderRepository
	carts  *CartRepository
	menu   *MenuRepository
}

var (
	_ repositories.Registry       = (*Registry)(nil)
	_ repositories.CartRepository = (*CartRepository)(nil)
	_ repositories.MenuRepository = (*MenuRepository)(nil)
)

// Connect dials MongoDB and binds the repositories to cfg.Database.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Registry, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, wrapError("mongo.connect", err)
	}
	return NewRegistry(client, cfg.Database), nil
}

// NewRegistry binds the repositories to an existing client.
func NewRegistry(client *mongo.Client, database string) *Registry {
	db := client.Database(database)
	return &Registry{
		client: client,
		orders: &OrderRepository{coll: db.Collection("orders")},
		carts:  &CartRepository{coll: db.Collection("users")},
		menu:   &MenuRepository{coll: db.Collection("foods")},
	}
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Carts() repositories.CartRepository   { return r.carts }
func (r *Registry) Menu() repositories.MenuRepository    { return r.menu }

// Ping checks the primary answers.
func (r *Registry) Ping(ctx context.Context) error {
	return wrapError("mongo.ping", r.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client.
func (r *Registry) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// CartRepository clears the cartData map kept on user documents.
type CartRepository struct {
	coll *mongo.Collection
}

// ClearCart resets cartData to an empty map. Unknown users are ignored.
func (r *CartRepository) ClearCart(ctx context.Context, customerID string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": documentID(customerID)}, bson.M{"$set": bson.M{"cartData": bson.M{}}})
	return wrapError("users.clear_cart", err)
}

// MenuRepository reads the foods collection.
type MenuRepository struct {
	coll *mongo.Collection
}

type foodDocument struct {
	ID          any    `bson:"_id"`
	Name        string `bson:"name"`
	Price       int64  `bson:"price"`
	Category    string `bson:"category"`
	Image       string `bson:"image"`
	Description string `bson:"description"`
	Available   *bool  `bson:"available,omitempty"`
}

// FindByIDs returns the foods that exist among ids, keyed by the id the caller passed.
func (r *MenuRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	items := make(map[string]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, documentID(id))
	}
	cursor, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, wrapError("foods.find", err)
	}
	var docs []foodDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapError("foods.find", err)
	}
	for _, doc := range docs {
		id := idString(doc.ID)
		items[id] = domain.MenuItem{
			ID:          id,
			Name:        doc.Name,
			Price:       doc.Price,
			Category:    doc.Category,
			ImageURL:    doc.Image,
			Description: doc.Description,
			Available:   doc.Available == nil || *doc.Available,
		}
	}
	return items, nil
}

// documentID converts hex ids to ObjectIDs so records written by the Node storefront
// still resolve.
func documentID(id string) any {
	id = strings.TrimSpace(id)
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(raw any) string {
	switch v := raw.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return ""
	}
}
