package transport

import (
	"net/http"

	"storefront-be/internal/auth"
	"storefront-be/internal/cart"
	"storefront-be/internal/transport/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=0,max=99"`
	IsOffline bool   `json:"isOffline"`
}

// cartView adds the derived totals to a cart.
type cartView struct {
	*cart.Cart
	TotalItems int             `json:"totalItems"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

func newCartView(c *cart.Cart) *cartView {
	if c == nil {
		return nil
	}
	return &cartView{Cart: c, TotalItems: c.TotalItems(), Subtotal: c.Subtotal()}
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func cartOwner(r *http.Request) cart.Owner {
	id := identity(r)
	return cart.Owner{ID: id.UserID, IsGuest: id.IsGuest}
}

func (h *handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, issues, err := h.carts.ValidateCart(r.Context(), cartOwner(r))
	if err != nil {
		response.WriteError(r.Context(), w, cartError(err))
		return
	}
	if issues == nil {
		issues = []cart.ItemIssue{}
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"cart":   newCartView(c),
		"issues": issues,
	})
}

func (h *handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	c, err := h.carts.AddItem(r.Context(), cart.MutationInput{
		Owner:     cartOwner(r),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Offline:   req.IsOffline,
	})
	if err != nil {
		response.WriteError(r.Context(), w, cartError(err))
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Item added to cart",
		"cart":    newCartView(c),
	})
}

func (h *handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	c, err := h.carts.UpdateItem(r.Context(), cart.MutationInput{
		Owner:     cartOwner(r),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Offline:   req.IsOffline,
	})
	if err != nil {
		response.WriteError(r.Context(), w, cartError(err))
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Cart updated",
		"cart":    newCartView(c),
	})
}

func (h *handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), cart.MutationInput{
		Owner:     cartOwner(r),
		ProductID: chi.URLParam(r, "productId"),
		Offline:   queryBool(r, "offline"),
	})
	if err != nil {
		response.WriteError(r.Context(), w, cartError(err))
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Item removed from cart",
		"cart":    newCartView(c),
	})
}

func (h *handler) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), cart.MutationInput{
		Owner:   cartOwner(r),
		Offline: queryBool(r, "offline"),
	})
	if err != nil {
		response.WriteError(r.Context(), w, cartError(err))
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Cart cleared",
		"cart":    newCartView(c),
	})
}
