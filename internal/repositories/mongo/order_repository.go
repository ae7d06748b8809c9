package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/repositories"
)

// OrderRepository stores orders in the orders collection keyed by order id.
type OrderRepository struct {
	coll *mongo.Collection
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

type orderDocument struct {
	ID                       string              `bson:"_id"`
	CustomerID               string              `bson:"userId"`
	Items                    []orderItemDocument `bson:"items"`
	Amount                   int64               `bson:"amount"`
	DeliveryFee              int64               `bson:"deliveryFee"`
	Currency                 string              `bson:"currency"`
	Address                  addressDocument     `bson:"address"`
	ContactEmail             string              `bson:"email,omitempty"`
	ContactPhone             string              `bson:"phone,omitempty"`
	FulfillmentStatus        string              `bson:"status"`
	PaymentStatus            string              `bson:"paymentStatus"`
	Phase                    string              `bson:"phase"`
	Origin                   string              `bson:"origin"`
	PaymentMethod            string              `bson:"paymentMethod"`
	PaymentProvider          string              `bson:"paymentProvider,omitempty"`
	GatewayOrderID           string              `bson:"gatewayOrderId,omitempty"`
	ExternalPaymentReference string              `bson:"paymentId,omitempty"`
	CreatedAt                time.Time           `bson:"date"`
	UpdatedAt                time.Time           `bson:"updatedAt"`
	PaidAt                   *time.Time          `bson:"paidAt,omitempty"`
}

type orderItemDocument struct {
	FoodID      string `bson:"foodId"`
	Name        string `bson:"name"`
	Price       int64  `bson:"price"`
	Quantity    int    `bson:"quantity"`
	Category    string `bson:"category,omitempty"`
	ImageURL    string `bson:"image,omitempty"`
	Description string `bson:"description,omitempty"`
}

type addressDocument struct {
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
	Street    string `bson:"street"`
	City      string `bson:"city"`
	State     string `bson:"state"`
	Zipcode   string `bson:"zipcode"`
	Country   string `bson:"country"`
	Phone     string `bson:"phone"`
}

// Insert adds the order. A duplicate id surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	_, err := r.coll.InsertOne(ctx, encodeOrder(order))
	return wrapError("orders.insert", err)
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var doc orderDocument
	err := r.coll.FindOne(ctx, orderFilter(orderID)).Decode(&doc)
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return decodeOrder(doc), nil
}

// List returns orders newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	query := bson.M{}
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		query["userId"] = customerID
	}
	if filter.Phase != "" {
		query["phase"] = string(filter.Phase)
	}
	cursor, err := r.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "date", Value: -1}}))
	if err != nil {
		return nil, wrapError("orders.list", err)
	}
	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapError("orders.list", err)
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc))
	}
	return orders, nil
}

// UpdateFulfillment overwrites the status field and returns the updated order.
func (r *OrderRepository) UpdateFulfillment(ctx context.Context, orderID string, status domain.FulfillmentStatus, at time.Time) (domain.Order, error) {
	return r.update(ctx, orderID, bson.M{"status": string(status), "updatedAt": at.UTC()})
}

// UpdatePayment overwrites the payment fields present in update.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, update repositories.PaymentUpdate) (domain.Order, error) {
	set := bson.M{"paymentStatus": string(update.Status), "updatedAt": update.UpdatedAt.UTC()}
	if update.Phase != nil {
		set["phase"] = string(*update.Phase)
	}
	if update.PaymentProvider != nil {
		set["paymentProvider"] = *update.PaymentProvider
	}
	if update.GatewayOrderID != nil {
		set["gatewayOrderId"] = *update.GatewayOrderID
	}
	if update.ExternalPaymentReference != nil {
		set["paymentId"] = *update.ExternalPaymentReference
	}
	if update.PaidAt != nil {
		set["paidAt"] = update.PaidAt.UTC()
	}
	return r.update(ctx, orderID, set)
}

func (r *OrderRepository) update(ctx context.Context, orderID string, set bson.M) (domain.Order, error) {
	var doc orderDocument
	err := r.coll.FindOneAndUpdate(ctx,
		orderFilter(orderID),
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return domain.Order{}, wrapError("orders.update", err)
	}
	return decodeOrder(doc), nil
}

// DeleteProvisional removes the order in one conditional FindOneAndDelete. When nothing
// matched, a follow-up read tells a missing order from one that was already placed.
func (r *OrderRepository) DeleteProvisional(ctx context.Context, orderID string) (domain.Order, error) {
	var doc orderDocument
	err := r.coll.FindOneAndDelete(ctx, provisionalFilter(orderID)).Decode(&doc)
	if err == nil {
		return decodeOrder(doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Order{}, wrapError("orders.delete", err)
	}
	count, err := r.coll.CountDocuments(ctx, orderFilter(orderID), options.Count().SetLimit(1))
	if err != nil {
		return domain.Order{}, wrapError("orders.delete", err)
	}
	if count == 0 {
		return domain.Order{}, notFoundError("orders.delete", orderID)
	}
	return domain.Order{}, conflictError("orders.delete", orderID)
}

func orderFilter(orderID string) bson.M {
	return bson.M{"_id": documentID(orderID)}
}

func provisionalFilter(orderID string) bson.M {
	return bson.M{
		"_id":           documentID(orderID),
		"phase":         string(domain.PhaseAwaitingPayment),
		"paymentStatus": bson.M{"$ne": string(domain.PaymentCompleted)},
	}
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	return orderDocument{
		ID:                       order.ID,
		CustomerID:               order.CustomerID,
		Items:                    items,
		Amount:                   order.Amount,
		DeliveryFee:              order.DeliveryFee,
		Currency:                 order.Currency,
		Address:                  addressDocument(order.Address),
		ContactEmail:             order.ContactEmail,
		ContactPhone:             order.ContactPhone,
		FulfillmentStatus:        string(order.FulfillmentStatus),
		PaymentStatus:            string(order.PaymentStatus),
		Phase:                    string(order.Phase),
		Origin:                   string(order.Origin),
		PaymentMethod:            order.PaymentMethod,
		PaymentProvider:          order.PaymentProvider,
		GatewayOrderID:           order.GatewayOrderID,
		ExternalPaymentReference: order.ExternalPaymentReference,
		CreatedAt:                order.CreatedAt.UTC(),
		UpdatedAt:                order.UpdatedAt.UTC(),
		PaidAt:                   order.PaidAt,
	}
}

func decodeOrder(doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem(item))
	}
	phase := domain.OrderPhase(doc.Phase)
	if phase == "" {
		phase = domain.PhasePlaced
	}
	status, ok := domain.ParseFulfillmentStatus(doc.FulfillmentStatus)
	if !ok {
		status = domain.FulfillmentStatus(doc.FulfillmentStatus)
	}
	return domain.Order{
		ID:                       doc.ID,
		CustomerID:               doc.CustomerID,
		Items:                    items,
		Amount:                   doc.Amount,
		DeliveryFee:              doc.DeliveryFee,
		Currency:                 doc.Currency,
		Address:                  domain.Address(doc.Address),
		ContactEmail:             doc.ContactEmail,
		ContactPhone:             doc.ContactPhone,
		FulfillmentStatus:        status,
		PaymentStatus:            domain.PaymentStatus(doc.PaymentStatus),
		Phase:                    phase,
		Origin:                   domain.OrderOrigin(doc.Origin),
		PaymentMethod:            doc.PaymentMethod,
		PaymentProvider:          doc.PaymentProvider,
		GatewayOrderID:           doc.GatewayOrderID,
		ExternalPaymentReference: doc.ExternalPaymentReference,
		CreatedAt:                doc.CreatedAt.UTC(),
		UpdatedAt:                doc.UpdatedAt.UTC(),
		PaidAt:                   doc.PaidAt,
	}
}
