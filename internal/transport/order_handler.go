package transport

import (
	"net/http"
	"strings"

	"storefront-be/internal/apperror"
	"storefront-be/internal/order"
	"storefront-be/internal/transport/response"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	Items           []order.LineInput     `json:"items" validate:"required,min=1,dive"`
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   order.PaymentMethod   `json:"paymentMethod" validate:"required,oneof=credit_card debit_card paypal cash_on_delivery"`
	Discount        decimal.Decimal       `json:"discount"`
	Notes           string                `json:"notes" validate:"max=500"`
	OfflineOrderID  string                `json:"offlineOrderId" validate:"max=100"`
}

type statusRequest struct {
	Status         order.Status `json:"status" validate:"required"`
	Notes          string       `json:"notes" validate:"max=500"`
	TrackingNumber string       `json:"trackingNumber"`
}

type paymentRequest struct {
	PaymentStatus order.PaymentStatus `json:"paymentStatus" validate:"required"`
	TransactionID string              `json:"transactionId"`
}

func orderID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperror.New(apperror.CodeNotFound, "order not found")
	}
	return id, nil
}

func actor(r *http.Request) order.Actor {
	id := identity(r)
	return order.Actor{UserID: id.UserID, IsAdmin: id.IsAdmin}
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	o, err := h.coordinator.CreateOrder(r.Context(), order.CreateOrderInput{
		UserID:          identity(r).UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Discount:        req.Discount,
		Notes:           req.Notes,
		OfflineOrderID:  strings.TrimSpace(req.OfflineOrderID),
		Source:          order.SourceOnline,
	})
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "Order created successfully",
		"order":   o,
	})
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1, 1, 100000)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	limit, err := queryInt(r, "limit", 10, 1, 100)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	from, err := queryTime(r, "fromDate")
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	to, err := queryTime(r, "toDate")
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	res, err := h.orders.ListOrders(r.Context(), order.ListFilter{
		UserID: identity(r).UserID,
		Status: order.Status(r.URL.Query().Get("status")),
		From:   from,
		To:     to,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	o, err := h.orders.GetOrder(r.Context(), identity(r).UserID, id)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	o, err := h.orders.UpdateOrderStatus(r.Context(), actor(r), id, order.StatusUpdate{
		Status:         req.Status,
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Order status updated successfully",
		"order":   o,
	})
}

func (h *handler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	o, err := h.orders.UpdatePaymentStatus(r.Context(), actor(r), id, order.PaymentUpdate{
		Status:        req.PaymentStatus,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Payment status updated successfully",
		"order":   o,
	})
}
