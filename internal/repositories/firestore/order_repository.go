package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tomato-food/api/internal/domain"
	pfirestore "github.com/tomato-food/api/internal/platform/firestore"
	"github.com/tomato-food/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository stores orders as documents keyed by order id.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)}, nil
}

// Insert creates the order document. An existing id surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns orders newest first, optionally narrowed to one customer or phase.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if filter.Phase != "" {
			q = q.Where("phase", "==", string(filter.Phase))
		}
		return q.OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

// UpdateFulfillment overwrites the fulfillment status field.
func (r *OrderRepository) UpdateFulfillment(ctx context.Context, orderID string, status domain.FulfillmentStatus, at time.Time) (domain.Order, error) {
	updates := []firestore.Update{
		{Path: "fulfillmentStatus", Value: string(status)},
		{Path: "updatedAt", Value: at.UTC()},
	}
	if err := r.base.Update(ctx, orderID, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

// UpdatePayment overwrites the payment fields present in update.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, update repositories.PaymentUpdate) (domain.Order, error) {
	updates := []firestore.Update{
		{Path: "paymentStatus", Value: string(update.Status)},
		{Path: "updatedAt", Value: update.UpdatedAt.UTC()},
	}
	if update.Phase != nil {
		updates = append(updates, firestore.Update{Path: "phase", Value: string(*update.Phase)})
	}
	if update.PaymentProvider != nil {
		updates = append(updates, firestore.Update{Path: "paymentProvider", Value: *update.PaymentProvider})
	}
	if update.GatewayOrderID != nil {
		updates = append(updates, firestore.Update{Path: "gatewayOrderId", Value: *update.GatewayOrderID})
	}
	if update.ExternalPaymentReference != nil {
		updates = append(updates, firestore.Update{Path: "externalPaymentReference", Value: *update.ExternalPaymentReference})
	}
	if update.PaidAt != nil {
		updates = append(updates, firestore.Update{Path: "paidAt", Value: update.PaidAt.UTC()})
	}
	if err := r.base.Update(ctx, orderID, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

// DeleteProvisional reads and deletes the order in one transaction so a payment
// confirmation committed in between is never lost.
func (r *OrderRepository) DeleteProvisional(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	doc, err := r.base.DeleteWhen(ctx, orderID, func(current pfirestore.Document[orderDocument]) error {
		if current.Data.Phase != string(domain.PhaseAwaitingPayment) || current.Data.PaymentStatus == string(domain.PaymentCompleted) {
			return pfirestore.Conflict("orders.delete", fmt.Errorf("order %s is no longer awaiting payment", orderID))
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

type orderDocument struct {
	CustomerID               string              `firestore:"customerId"`
	Items                    []orderItemDocument `firestore:"items"`
	Amount                   int64               `firestore:"amount"`
	DeliveryFee              int64               `firestore:"deliveryFee"`
	Currency                 string              `firestore:"currency"`
	Address                  addressDocument     `firestore:"address"`
	ContactEmail             string              `firestore:"contactEmail,omitempty"`
	ContactPhone             string              `firestore:"contactPhone,omitempty"`
	FulfillmentStatus        string              `firestore:"fulfillmentStatus"`
	PaymentStatus            string              `firestore:"paymentStatus"`
	Phase                    string              `firestore:"phase"`
	Origin                   string              `firestore:"origin"`
	PaymentMethod            string              `firestore:"paymentMethod"`
	PaymentProvider          string              `firestore:"paymentProvider,omitempty"`
	GatewayOrderID           string              `firestore:"gatewayOrderId,omitempty"`
	ExternalPaymentReference string              `firestore:"externalPaymentReference,omitempty"`
	CreatedAt                time.Time           `firestore:"createdAt"`
	UpdatedAt                time.Time           `firestore:"updatedAt"`
	PaidAt                   *time.Time          `firestore:"paidAt,omitempty"`
}

type orderItemDocument struct {
	FoodID      string `firestore:"foodId"`
	Name        string `firestore:"name"`
	Price       int64  `firestore:"price"`
	Quantity    int    `firestore:"quantity"`
	Category    string `firestore:"category,omitempty"`
	ImageURL    string `firestore:"imageUrl,omitempty"`
	Description string `firestore:"description,omitempty"`
}

type addressDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Street    string `firestore:"street"`
	City      string `firestore:"city"`
	State     string `firestore:"state"`
	Zipcode   string `firestore:"zipcode"`
	Country   string `firestore:"country"`
	Phone     string `firestore:"phone"`
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	doc := orderDocument{
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
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem(item))
	}
	order := domain.Order{
		ID:                       id,
		CustomerID:               doc.CustomerID,
		Items:                    items,
		Amount:                   doc.Amount,
		DeliveryFee:              doc.DeliveryFee,
		Currency:                 doc.Currency,
		Address:                  domain.Address(doc.Address),
		ContactEmail:             doc.ContactEmail,
		ContactPhone:             doc.ContactPhone,
		FulfillmentStatus:        domain.FulfillmentStatus(doc.FulfillmentStatus),
		PaymentStatus:            domain.PaymentStatus(doc.PaymentStatus),
		Phase:                    domain.OrderPhase(doc.Phase),
		Origin:                   domain.OrderOrigin(doc.Origin),
		PaymentMethod:            doc.PaymentMethod,
		PaymentProvider:          doc.PaymentProvider,
		GatewayOrderID:           doc.GatewayOrderID,
		ExternalPaymentReference: doc.ExternalPaymentReference,
		CreatedAt:                doc.CreatedAt.UTC(),
		UpdatedAt:                doc.UpdatedAt.UTC(),
	}
	if doc.Phase == "" {
		order.Phase = domain.PhasePlaced
	}
	if doc.PaidAt != nil {
		paidAt := doc.PaidAt.UTC()
		order.PaidAt = &paidAt
	}
	return order
}
