package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tomato-food/api/internal/domain"
	"github.com/tomato-food/api/internal/platform/auth"
	"github.com/tomato-food/api/internal/platform/httpx"
	"github.com/tomato-food/api/internal/services"
)

const idempotencyHeader = "Idempotency-Key"

// OrderHandlers exposes the storefront and admin order endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	queries  services.OrderQueryService
	payments services.PaymentService

	writeGuards []func(http.Handler) http.Handler
	limiter     rateLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderWriteMiddleware wraps every mutating endpoint, typically with idempotency.
func WithOrderWriteMiddleware(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.writeGuards = append(h.writeGuards, mw...)
	}
}

// WithOrderRateLimit limits mutating requests per client address.
func WithOrderRateLimit(perMinute, burst int) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newClientRateLimiter(perMinute, burst, time.Now)
	}
}

func withOrderRateLimiter(limiter rateLimiter) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = limiter
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance. A nil payment service disables
// the gateway endpoints.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, queries services.OrderQueryService, payments services.PaymentService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		queries:  queries,
		payments: payments,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(customer chi.Router) {
		if h.authn != nil {
			customer.Use(h.authn.RequireAuth())
		}
		customer.Post("/mine", h.listMine)
		customer.Get("/mine", h.listMine)
		customer.Group(func(w chi.Router) {
			h.useWriteGuards(w)
			w.Post("/", h.placeOrder)
			w.Post("/checkout", h.startCheckout)
			w.Post("/payment/confirm", h.confirmPayment)
			w.Delete("/{orderID}", h.cancelPayment)
		})
	})

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(auth.RoleAdmin))
		}
		admin.Get("/", h.listAll)
		admin.Group(func(w chi.Router) {
			h.useWriteGuards(w)
			w.Post("/admin", h.enterOrder)
			w.Post("/status", h.updateFulfillment)
			w.Put("/status", h.updateFulfillment)
			w.Post("/payment-status", h.updatePayment)
			w.Put("/payment-status", h.updatePayment)
		})
	})
}

func (h *OrderHandlers) useWriteGuards(r chi.Router) {
	r.Use(rateLimitMiddleware(h.limiter, time.Minute))
	for _, mw := range h.writeGuards {
		if mw != nil {
			r.Use(mw)
		}
	}
}

type addressRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zipcode   string `json:"zipcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

type orderItemRequest struct {
	FoodID      string `json:"foodId"`
	LegacyID    string `json:"_id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	Category    string `json:"category"`
	Image       string `json:"image"`
	Description string `json:"description"`
}

type createOrderRequest struct {
	CustomerID    string             `json:"customerId"`
	UserID        string             `json:"userId"`
	Items         []orderItemRequest `json:"items"`
	Amount        int64              `json:"amount"`
	Address       addressRequest     `json:"address"`
	ContactEmail  string             `json:"contactEmail"`
	ContactPhone  string             `json:"contactPhone"`
	Email         string             `json:"email"`
	Phone         string             `json:"phone"`
	PaymentStatus string             `json:"paymentStatus"`
	PaymentMethod string             `json:"paymentMethod"`
}

type checkoutRequest struct {
	createOrderRequest
	Provider string `json:"provider"`
}

type confirmPaymentRequest struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	GatewayRef     string `json:"gatewayRef"`
	Signature      string `json:"signature"`
}

type listMineRequest struct {
	CustomerID string `json:"customerId"`
	UserID     string `json:"userId"`
}

type updateFulfillmentRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type updatePaymentRequest struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
}

type orderItemPayload struct {
	FoodID      string `json:"foodId"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	Category    string `json:"category,omitempty"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

type orderPayload struct {
	ID                       string             `json:"id"`
	CustomerID               string             `json:"customerId"`
	Items                    []orderItemPayload `json:"items"`
	Amount                   int64              `json:"amount"`
	DeliveryFee              int64              `json:"deliveryFee"`
	Currency                 string             `json:"currency"`
	Address                  addressRequest     `json:"address"`
	ContactEmail             string             `json:"contactEmail,omitempty"`
	ContactPhone             string             `json:"contactPhone,omitempty"`
	Status                   string             `json:"status"`
	StatusLabel              string             `json:"statusLabel"`
	PaymentStatus            string             `json:"paymentStatus"`
	Phase                    string             `json:"phase"`
	Origin                   string             `json:"origin"`
	PaymentMethod            string             `json:"paymentMethod,omitempty"`
	PaymentProvider          string             `json:"paymentProvider,omitempty"`
	GatewayOrderID           string             `json:"gatewayOrderId,omitempty"`
	ExternalPaymentReference string             `json:"externalPaymentReference,omitempty"`
	CreatedAt                string             `json:"createdAt"`
	UpdatedAt                string             `json:"updatedAt,omitempty"`
	PaidAt                   string             `json:"paidAt,omitempty"`
}

type createOrderResponse struct {
	Success  bool     `json:"success"`
	OrderID  string   `json:"orderId"`
	Amount   int64    `json:"amount"`
	Warnings []string `json:"warnings,omitempty"`
}

type checkoutResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	GatewayOrderID string `json:"gatewayOrderId"`
	ClientSecret   string `json:"clientSecret,omitempty"`
	RedirectURL    string `json:"redirectUrl,omitempty"`
}

type orderListResponse struct {
	Success bool           `json:"success"`
	Data    []orderPayload `json:"data"`
}

type orderResponse struct {
	Success bool         `json:"success"`
	Order   orderPayload `json:"order"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	h.createOrder(w, r, domain.OriginCustomerCheckout)
}

func (h *OrderHandlers) enterOrder(w http.ResponseWriter, r *http.Request) {
	h.createOrder(w, r, domain.OriginAdminManual)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request, origin domain.OrderOrigin) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.orders.CreateOrder(ctx, req.command(origin, identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		Success:  true,
		OrderID:  result.Order.ID,
		Amount:   result.Order.Amount,
		Warnings: result.Warnings,
	})
}

func (h *OrderHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payments_unavailable", "online payments are not configured")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.payments.StartCheckout(ctx, services.StartCheckoutCommand{
		Order:             req.command(domain.OriginGatewayCheckout, identity),
		PreferredProvider: strings.TrimSpace(req.Provider),
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Success:        true,
		OrderID:        result.Order.ID,
		Amount:         result.Order.Amount,
		Currency:       result.Order.Currency,
		Provider:       result.Provider,
		GatewayOrderID: result.GatewayOrderID,
		ClientSecret:   result.ClientSecret,
		RedirectURL:    result.RedirectURL,
	})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payments_unavailable", "online payments are not configured")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		GatewayRef:     strings.TrimSpace(req.GatewayRef),
		Signature:      strings.TrimSpace(req.Signature),
		Actor:          actorFor(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceUnavailable(ctx, w, "payments_unavailable", "online payments are not configured")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.payments.CancelPayment(ctx, services.CancelPaymentCommand{
		OrderID: orderID,
		Actor:   actorFor(identity),
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, successResponse{Success: true, Message: "order cancelled"})
}

func (h *OrderHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	customerID := strings.TrimSpace(r.URL.Query().Get("customerId"))
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var req listMineRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		customerID = firstNonEmpty(req.CustomerID, req.UserID)
	}
	if customerID == "" {
		customerID = identity.CustomerID()
	}
	if !identity.CanActFor(customerID) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "orders belong to another customer", http.StatusForbidden))
		return
	}

	orders, err := h.queries.ListOrders(ctx, services.ListScope{
		CustomerID: customerID,
		Actor:      actorFor(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(orders))
}

func (h *OrderHandlers) listAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	criteria, err := services.ParseFilterCriteria(query.Get("paymentStatus"), query.Get("status"), query.Get("q"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders, err := h.queries.ListOrders(ctx, services.ListScope{All: true, Actor: actorFor(identity)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(services.FilterOrders(orders, criteria)))
}

func (h *OrderHandlers) updateFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateFulfillmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.orders.UpdateFulfillmentStatus(ctx, services.UpdateFulfillmentCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Status:  req.Status,
		Actor:   actorFor(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updatePaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Status:  req.PaymentStatus,
		Actor:   actorFor(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (req createOrderRequest) command(origin domain.OrderOrigin, identity *auth.Identity) services.CreateOrderCommand {
	customerID := firstNonEmpty(req.CustomerID, req.UserID)
	if customerID == "" && origin != domain.OriginAdminManual {
		customerID = identity.CustomerID()
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			FoodID:      firstNonEmpty(item.FoodID, item.LegacyID),
			Name:        strings.TrimSpace(item.Name),
			Price:       item.Price,
			Quantity:    item.Quantity,
			Category:    strings.TrimSpace(item.Category),
			ImageURL:    strings.TrimSpace(item.Image),
			Description: strings.TrimSpace(item.Description),
		})
	}

	return services.CreateOrderCommand{
		Origin:        origin,
		Actor:         actorFor(identity),
		CustomerID:    customerID,
		Items:         items,
		Amount:        req.Amount,
		Address:       req.Address.toDomain(),
		ContactEmail:  firstNonEmpty(req.ContactEmail, req.Email),
		ContactPhone:  firstNonEmpty(req.ContactPhone, req.Phone),
		PaymentStatus: strings.TrimSpace(req.PaymentStatus),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	}
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Street:    strings.TrimSpace(a.Street),
		City:      strings.TrimSpace(a.City),
		State:     strings.TrimSpace(a.State),
		Zipcode:   strings.TrimSpace(a.Zipcode),
		Country:   strings.TrimSpace(a.Country),
		Phone:     strings.TrimSpace(a.Phone),
	}
}

func buildOrderList(orders []services.Order) orderListResponse {
	data := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		data = append(data, buildOrderPayload(order))
	}
	return orderListResponse{Success: true, Data: data}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			FoodID:      item.FoodID,
			Name:        item.Name,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Category:    item.Category,
			Image:       item.ImageURL,
			Description: item.Description,
		})
	}

	payload := orderPayload{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Items:       items,
		Amount:      order.Amount,
		DeliveryFee: order.DeliveryFee,
		Currency:    order.Currency,
		Address: addressRequest{
			FirstName: order.Address.FirstName,
			LastName:  order.Address.LastName,
			Street:    order.Address.Street,
			City:      order.Address.City,
			State:     order.Address.State,
			Zipcode:   order.Address.Zipcode,
			Country:   order.Address.Country,
			Phone:     order.Address.Phone,
		},
		ContactEmail:             order.ContactEmail,
		ContactPhone:             order.ContactPhone,
		Status:                   string(order.FulfillmentStatus),
		StatusLabel:              order.FulfillmentStatus.Label(),
		PaymentStatus:            string(order.PaymentStatus),
		Phase:                    string(order.Phase),
		Origin:                   string(order.Origin),
		PaymentMethod:            order.PaymentMethod,
		PaymentProvider:          order.PaymentProvider,
		GatewayOrderID:           order.GatewayOrderID,
		ExternalPaymentReference: order.ExternalPaymentReference,
		CreatedAt:                formatTime(order.CreatedAt),
		UpdatedAt:                formatTime(order.UpdatedAt),
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.CustomerID() == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func actorFor(identity *auth.Identity) services.Actor {
	return services.Actor{ID: identity.CustomerID(), Admin: identity.IsAdmin()}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_json", err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderVerification):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order backend temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
