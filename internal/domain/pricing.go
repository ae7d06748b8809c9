package domain

import (
	"errors"
	"math"
)

const (
	// MaxItemQuantity caps a single line's quantity.
	MaxItemQuantity = 1000
	// MaxItemPrice caps a unit price in major currency units.
	MaxItemPrice int64 = 10_000_000
)

// ErrAmountOverflow reports a total that does not fit in an int64.
var ErrAmountOverflow = errors.New("order amount out of range")

// ItemsSubtotal sums price times quantity over the line items.
func ItemsSubtotal(items []OrderLineItem) (int64, error) {
	var subtotal int64
	for _, item := range items {
		line, err := ScaleAmount(item.Price, int64(item.Quantity))
		if err != nil {
			return 0, err
		}
		if subtotal, err = addAmount(subtotal, line); err != nil {
			return 0, err
		}
	}
	return subtotal, nil
}

// OrderAmount returns the amount payable for the items plus the delivery fee.
func OrderAmount(items []OrderLineItem, deliveryFee int64) (int64, error) {
	subtotal, err := ItemsSubtotal(items)
	if err != nil {
		return 0, err
	}
	return addAmount(subtotal, deliveryFee)
}

// ScaleAmount multiplies amount by factor, failing instead of wrapping around.
func ScaleAmount(amount, factor int64) (int64, error) {
	if amount == 0 || factor == 0 {
		return 0, nil
	}
	if (amount == -1 && factor == math.MinInt64) || (factor == -1 && amount == math.MinInt64) {
		return 0, ErrAmountOverflow
	}
	product := amount * factor
	if product/factor != amount {
		return 0, ErrAmountOverflow
	}
	return product, nil
}

func addAmount(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

// Snapshot copies the menu fields an order keeps for the given quantity.
func (m MenuItem) Snapshot(quantity int) OrderLineItem {
	return OrderLineItem{
		FoodID:      m.ID,
		Name:        m.Name,
		Price:       m.Price,
		Quantity:    quantity,
		Category:    m.Category,
		ImageURL:    m.ImageURL,
		Description: m.Description,
	}
}

// Complete reports whether every address field is populated.
func (a Address) Complete() bool {
	return a.FirstName != "" && a.LastName != "" && a.Street != "" && a.City != "" &&
		a.State != "" && a.Zipcode != "" && a.Country != "" && a.Phone != ""
}

// IsZero reports whether no address field is populated.
func (a Address) IsZero() bool {
	return a == Address{}
}
