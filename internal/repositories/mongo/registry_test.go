package mongo

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/tomato-food/api/internal/domain"
)

func TestDocumentIDConvertsHexIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	if got, ok := documentID(oid.Hex()).(primitive.ObjectID); !ok || got != oid {
		t.Fatalf("expected object id, got %#v", documentID(oid.Hex()))
	}
	if got := documentID(" guest "); got != "guest" {
		t.Fatalf("expected plain string id, got %#v", got)
	}
	if idString(oid) != oid.Hex() || idString("food_1") != "food_1" || idString(42) != "" {
		t.Fatalf("unexpected idString results")
	}
}

func TestWrapErrorClassification(t *testing.T) {
	err := wrapError("orders.get", mongo.ErrNoDocuments)
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() || repoErr.IsConflict() {
		t.Fatalf("expected not found classification, got %v", err)
	}
	if got := wrapError("orders.get", context.Canceled); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context error to pass through, got %v", got)
	}
	if wrapError("orders.get", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestOrderDocumentRoundTripKeepsLegacyStatus(t *testing.T) {
	doc := encodeOrder(domain.Order{ID: "ord_1", FulfillmentStatus: domain.FulfillmentOutForDelivery})
	doc.FulfillmentStatus = "Out for delivery"
	doc.Phase = ""
	order := decodeOrder(doc)
	if order.FulfillmentStatus != domain.FulfillmentOutForDelivery {
		t.Fatalf("expected legacy label to normalise, got %q", order.FulfillmentStatus)
	}
	if order.Phase != domain.PhasePlaced {
		t.Fatalf("expected missing phase to default to placed, got %q", order.Phase)
	}
}

func TestOrderFiltersMatchLegacyObjectIDs(t *testing.T) {
	oid := primitive.NewObjectID()

	raw, err := bson.Marshal(orderFilter(" " + oid.Hex() + " "))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	id := bson.Raw(raw).Lookup("_id")
	if id.Type != bson.TypeObjectID || id.ObjectID() != oid {
		t.Fatalf("expected object id filter, got %s", id)
	}

	raw, err = bson.Marshal(orderFilter("ord_01HX"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := bson.Raw(raw).Lookup("_id").StringValue(); got != "ord_01HX" {
		t.Fatalf("expected string id filter, got %q", got)
	}

	raw, err = bson.Marshal(provisionalFilter(oid.Hex()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	doc := bson.Raw(raw)
	if doc.Lookup("_id").Type != bson.TypeObjectID {
		t.Fatalf("expected object id in provisional filter")
	}
	if got := doc.Lookup("phase").StringValue(); got != string(domain.PhaseAwaitingPayment) {
		t.Fatalf("unexpected phase condition %q", got)
	}
	if got := doc.Lookup("paymentStatus", "$ne").StringValue(); got != string(domain.PaymentCompleted) {
		t.Fatalf("unexpected payment condition %q", got)
	}
}

func TestConflictErrorClassification(t *testing.T) {
	var repoErr *Error
	if err := conflictError("orders.delete", "ord_1"); !errors.As(err, &repoErr) || !repoErr.IsConflict() || repoErr.IsNotFound() {
		t.Fatalf("expected conflict classification, got %v", err)
	}
}
