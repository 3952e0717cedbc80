package transport

import (
	"net/http"

	"storefront-be/internal/cart"
	"storefront-be/internal/offlinesync"
	"storefront-be/internal/transport/response"
)

type pendingActionRequest struct {
	Action     cart.ActionType `json:"action" validate:"required"`
	ProductID  string          `json:"productId"`
	Quantity   int             `json:"quantity"`
	Timestamp  string          `json:"timestamp" validate:"required"`
	RetryCount int             `json:"retryCount" validate:"min=0"`
}

type syncCartRequest struct {
	PendingActions []pendingActionRequest `json:"pendingActions" validate:"required,dive"`
}

type syncOrdersRequest struct {
	OfflineOrders []offlinesync.OrderDraft `json:"offlineOrders" validate:"required"`
}

func (h *handler) syncCart(w http.ResponseWriter, r *http.Request) {
	var req syncCartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	actions := make([]cart.PendingAction, 0, len(req.PendingActions))
	for _, a := range req.PendingActions {
		ts, err := parseTimestamp(a.Timestamp)
		if err != nil {
			response.WriteError(r.Context(), w, err)
			return
		}
		actions = append(actions, cart.PendingAction{
			Action:     a.Action,
			ProductID:  a.ProductID,
			Quantity:   a.Quantity,
			Timestamp:  ts,
			RetryCount: a.RetryCount,
		})
	}

	c, syncErrs, err := h.sync.SyncCart(r.Context(), cartOwner(r), actions)
	if err != nil {
		response.WriteError(r.Context(), w, cartError(err))
		return
	}

	payload := map[string]any{
		"message": "Cart synced successfully",
		"cart":    newCartView(c),
	}
	if len(syncErrs) > 0 {
		payload["cartSyncErrors"] = syncErrs
	}
	response.WriteJSON(w, http.StatusOK, payload)
}

func (h *handler) syncOrders(w http.ResponseWriter, r *http.Request) {
	var req syncOrdersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}

	res := h.sync.SyncOrders(r.Context(), identity(r).UserID, req.OfflineOrders)
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message":      "Offline orders synced successfully",
		"syncedOrders": res.SyncedOrders,
		"syncErrors":   res.SyncErrors,
	})
}

func (h *handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.sync.Status(r.Context(), identity(r).UserID)
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, st)
}

func (h *handler) syncData(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "lastSync")
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	includeProducts := r.URL.Query().Get("products") != "false"

	snap, err := h.sync.Snapshot(r.Context(), identity(r).UserID, offlinesync.SnapshotOptions{
		Since:           since,
		IncludeProducts: includeProducts,
	})
	if err != nil {
		response.WriteError(r.Context(), w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": snap.Timestamp,
		"data": map[string]any{
			"cart":     newCartView(snap.Cart),
			"orders":   snap.Orders,
			"products": snap.Products,
		},
	})
}
