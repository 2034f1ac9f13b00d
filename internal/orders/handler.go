package orders

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

// WebSocketHub fans lifecycle updates out to dashboard clients.
type WebSocketHub interface {
	BroadcastOrderUpdate(messageType string, order *models.Order, source string)
}

type Handler struct {
	service *Service
	logger  *logrus.Logger
	wsHub   WebSocketHub
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) SetWebSocketHub(hub WebSocketHub) {
	h.wsHub = hub
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST")
	router.HandleFunc("/orders/{id}/status", h.UpdateOrderStatus).Methods("PATCH")
}

// principalFromRequest reads the identity the upstream gateway resolved.
func principalFromRequest(r *http.Request) Principal {
	principal := Principal{
		UserID: r.Header.Get("X-User-ID"),
		Role:   r.Header.Get("X-User-Role"),
	}
	if principal.Role == "" {
		principal.Role = RoleCustomer
	}
	if scope := r.Header.Get("X-Restaurant-Scope"); scope != "" {
		principal.RestaurantIDs = strings.Split(scope, ",")
	}
	if scope := r.Header.Get("X-Branch-Scope"); scope != "" {
		principal.BranchIDs = strings.Split(scope, ",")
	}
	return principal
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), principal, &req)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to create order")
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastOrderUpdate("order_created", order, "order-service")
	}

	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order created successfully",
		Order:   order,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	orderID := mux.Vars(r)["id"]

	order, err := h.service.GetOrder(r.Context(), principal, orderID)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to get order")
		return
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)

	orders, err := h.service.ListOrders(r.Context(), principal)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to list orders")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	orderID := mux.Vars(r)["id"]

	order, err := h.service.Cancel(r.Context(), principal, orderID)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to cancel order")
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastOrderUpdate("order_cancelled", order, "order-service")
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order cancelled",
		Order:   order,
	})
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	orderID := mux.Vars(r)["id"]

	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), principal, orderID, req.Status)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to update order status")
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastOrderUpdate("order_status_changed", order, "order-service")
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order status updated",
		Order:   order,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-service",
	})
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, err error, logMessage string) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error(logMessage)
		h.respondWithError(w, status, "Internal server error")
		return
	}

	h.logger.WithError(err).WithField("status", status).Info(logMessage)
	h.respondWithError(w, status, err.Error())
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
