package services

import (
	"context"
	"fmt"
	"html"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/repositories"
)

// orderBuilder turns a creation command into a validated order. Nothing is written until
// build returns successfully.
type orderBuilder struct {
	menu        repositories.MenuRepository
	deliveryFee int64
	currency    string
	clock       func() time.Time
	newID       func() string
	policy      *bluemonday.Policy
}

func newOrderBuilder(menu repositories.MenuRepository, deliveryFee int64, currency string, clock func() time.Time, newID func() string) *orderBuilder {
	if deliveryFee == 0 {
		deliveryFee = domain.DefaultDeliveryFee
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &orderBuilder{
		menu:        menu,
		deliveryFee: deliveryFee,
		currency:    currency,
		clock:       clock,
		newID:       newID,
		policy:      bluemonday.StrictPolicy(),
	}
}

func (b *orderBuilder) build(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	origin := cmd.Origin
	switch origin {
	case domain.OriginCustomerCheckout, domain.OriginAdminManual, domain.OriginGatewayCheckout:
	default:
		return Order{}, fmt.Errorf("%w: unknown order origin %q", ErrOrderInvalidInput, origin)
	}
	manual := origin == domain.OriginAdminManual

	customerID := strings.TrimSpace(cmd.CustomerID)
	if manual {
		if customerID == "" {
			customerID = domain.GuestCustomerID
		}
	} else {
		if customerID == "" {
			return Order{}, fmt.Errorf("%w: customerId is required", ErrOrderInvalidInput)
		}
		if cmd.Actor.ID != "" && !cmd.Actor.Admin && cmd.Actor.ID != customerID {
			return Order{}, fmt.Errorf("%w: cannot place orders for another customer", ErrOrderForbidden)
		}
	}

	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: items must contain at least one entry", ErrOrderInvalidInput)
	}

	address := b.cleanAddress(cmd.Address)
	if address.IsZero() {
		return Order{}, fmt.Errorf("%w: address is required", ErrOrderInvalidInput)
	}
	if !address.Complete() {
		return Order{}, fmt.Errorf("%w: address is missing %s", ErrOrderInvalidInput, strings.Join(missingAddressFields(address), ", "))
	}

	email := strings.TrimSpace(cmd.ContactEmail)
	phone := b.clean(cmd.ContactPhone)
	if !manual {
		if email == "" || phone == "" {
			return Order{}, fmt.Errorf("%w: contactEmail and contactPhone are required", ErrOrderInvalidInput)
		}
	}
	if email != "" {
		parsed, err := mail.ParseAddress(email)
		if err != nil {
			return Order{}, fmt.Errorf("%w: contactEmail is invalid", ErrOrderInvalidInput)
		}
		email = parsed.Address
	}

	paymentStatus := domain.PaymentPending
	if raw := strings.TrimSpace(cmd.PaymentStatus); raw != "" {
		if !manual {
			return Order{}, fmt.Errorf("%w: paymentStatus can only be set on manual orders", ErrOrderInvalidInput)
		}
		parsed, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			return Order{}, fmt.Errorf("%w: paymentStatus %q is not supported", ErrOrderInvalidInput, raw)
		}
		paymentStatus = parsed
	}

	items, err := b.resolveItems(ctx, cmd.Items, manual)
	if err != nil {
		return Order{}, err
	}

	amount, err := domain.OrderAmount(items, b.deliveryFee)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if cmd.Amount != 0 && cmd.Amount != amount {
		return Order{}, fmt.Errorf("%w: amount %d does not match items plus delivery fee (%d)", ErrOrderInvalidInput, cmd.Amount, amount)
	}

	now := b.clock()
	order := Order{
		ID:                b.newID(),
		CustomerID:        customerID,
		Items:             items,
		Amount:            amount,
		DeliveryFee:       b.deliveryFee,
		Currency:          b.currency,
		Address:           address,
		ContactEmail:      email,
		ContactPhone:      phone,
		FulfillmentStatus: domain.FulfillmentProcessing,
		PaymentStatus:     paymentStatus,
		Phase:             domain.PhasePlaced,
		Origin:            origin,
		PaymentMethod:     b.clean(cmd.PaymentMethod),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = defaultPaymentMethod(origin)
	}
	if origin == domain.OriginGatewayCheckout {
		order.Phase = domain.PhaseAwaitingPayment
	}
	if paymentStatus == domain.PaymentCompleted {
		order.PaidAt = &now
	}
	return order, nil
}

func (b *orderBuilder) resolveItems(ctx context.Context, inputs []OrderItemInput, manual bool) ([]OrderLineItem, error) {
	var menu map[string]MenuItem
	if b.menu != nil {
		ids := make([]string, 0, len(inputs))
		seen := make(map[string]struct{}, len(inputs))
		for _, input := range inputs {
			id := strings.TrimSpace(input.FoodID)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) > 0 {
			found, err := b.menu.FindByIDs(ctx, ids)
			if err != nil {
				return nil, mapRepositoryError(err)
			}
			menu = found
		}
	}

	items := make([]OrderLineItem, 0, len(inputs))
	for i, input := range inputs {
		if input.Quantity < 1 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if input.Quantity > domain.MaxItemQuantity {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at most %d", ErrOrderInvalidInput, i, domain.MaxItemQuantity)
		}
		foodID := strings.TrimSpace(input.FoodID)

		if b.menu != nil && foodID != "" {
			if entry, ok := menu[foodID]; ok {
				if !entry.Available {
					return nil, fmt.Errorf("%w: menu item %s is unavailable", ErrOrderInvalidInput, foodID)
				}
				items = append(items, entry.Snapshot(input.Quantity))
				continue
			}
			if !manual {
				return nil, fmt.Errorf("%w: menu item %s does not exist", ErrOrderInvalidInput, foodID)
			}
		}
		if b.menu != nil && foodID == "" && !manual {
			return nil, fmt.Errorf("%w: items[%d].foodId is required", ErrOrderInvalidInput, i)
		}

		item := OrderLineItem{
			FoodID:      foodID,
			Name:        b.clean(input.Name),
			Price:       input.Price,
			Quantity:    input.Quantity,
			Category:    b.clean(input.Category),
			ImageURL:    strings.TrimSpace(input.ImageURL),
			Description: b.clean(input.Description),
		}
		if item.Name == "" {
			return nil, fmt.Errorf("%w: items[%d].name is required", ErrOrderInvalidInput, i)
		}
		if item.Price <= 0 {
			return nil, fmt.Errorf("%w: items[%d].price must be positive", ErrOrderInvalidInput, i)
		}
		if item.Price > domain.MaxItemPrice {
			return nil, fmt.Errorf("%w: items[%d].price must be at most %d", ErrOrderInvalidInput, i, domain.MaxItemPrice)
		}
		items = append(items, item)
	}
	return items, nil
}

func (b *orderBuilder) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(b.policy.Sanitize(value)))
}

func (b *orderBuilder) cleanAddress(addr Address) Address {
	return Address{
		FirstName: b.clean(addr.FirstName),
		LastName:  b.clean(addr.LastName),
		Street:    b.clean(addr.Street),
		City:      b.clean(addr.City),
		State:     b.clean(addr.State),
		Zipcode:   b.clean(addr.Zipcode),
		Country:   b.clean(addr.Country),
		Phone:     b.clean(addr.Phone),
	}
}

func missingAddressFields(addr Address) []string {
	var missing []string
	fields := []struct {
		name  string
		value string
	}{
		{"firstName", addr.FirstName},
		{"lastName", addr.LastName},
		{"street", addr.Street},
		{"city", addr.City},
		{"state", addr.State},
		{"zipcode", addr.Zipcode},
		{"country", addr.Country},
		{"phone", addr.Phone},
	}
	for _, field := range fields {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func defaultPaymentMethod(origin OrderOrigin) string {
	switch origin {
	case domain.OriginAdminManual:
		return domain.PaymentMethodManualEntry
	case domain.OriginGatewayCheckout:
		return domain.PaymentMethodOnline
	default:
		return domain.PaymentMethodCashOnDelivery
	}
}
