package dispatch_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	RequestTransition(ctx context.Context, orderID uint64, target, actor string) (*models.Order, error)
}

type DispatchService interface {
	AssignDrone(ctx context.Context, orderID uint64) (*models.Delivery, error)
	CreateDrone(ctx context.Context, in models.DroneCreateInput) (*models.Drone, error)
	GetDroneByCode(ctx context.Context, code string) (*models.Drone, error)
	ListDrones(ctx context.Context, status string) ([]*models.Drone, error)
	ChargeDrone(ctx context.Context, code string) (*models.Drone, error)
}

type QueryService interface {
	GetByOrder(ctx context.Context, orderID uint64) (*models.DeliverySnapshot, error)
	GetByDelivery(ctx context.Context, deliveryID string) (*models.DeliverySnapshot, error)
	GetActiveByDrone(ctx context.Context, droneCode string) (*models.DeliverySnapshot, error)
	ListActive(ctx context.Context) ([]*models.Delivery, error)
}

type DispatchAPI struct {
	orders   OrderService
	dispatch DispatchService
	query    QueryService
}

func New(orders OrderService, dispatch DispatchService, query QueryService) *DispatchAPI {
	return &DispatchAPI{orders: orders, dispatch: dispatch, query: query}
}

func (a *DispatchAPI) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", a.createOrder)
		r.Get("/orders/{orderID}", a.getOrder)
		r.Post("/orders/{orderID}/transition", a.transitionOrder)
		r.Post("/orders/{orderID}/delivery/assign", a.assignDelivery)
		r.Get("/orders/{orderID}/delivery", a.getDeliveryByOrder)

		r.Get("/deliveries", a.listDeliveries)
		r.Get("/deliveries/{deliveryID}", a.getDelivery)

		r.Post("/drones", a.createDrone)
		r.Get("/drones", a.listDrones)
		r.Get("/drones/{code}", a.getDrone)
		r.Get("/drones/{code}/delivery", a.getDeliveryByDrone)
		r.Post("/drones/{code}/charge", a.chargeDrone)
	})

	return r
}

type orderCreateRequest struct {
	CustomerID      uint64             `json:"customer_id"`
	RestaurantID    uint64             `json:"restaurant_id"`
	DeliveryAddress string             `json:"delivery_address"`
	DestLat         float64            `json:"dest_lat"`
	DestLng         float64            `json:"dest_lng"`
	Items           []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	ProductID uint64  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type orderResponse struct {
	ID              uint64              `json:"id"`
	CustomerID      uint64              `json:"customer_id"`
	RestaurantID    uint64              `json:"restaurant_id"`
	Status          string              `json:"status"`
	TotalPrice      float64             `json:"total_price"`
	DeliveryAddress string              `json:"delivery_address"`
	DestLat         float64             `json:"dest_lat"`
	DestLng         float64             `json:"dest_lng"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	StatusChangedAt time.Time           `json:"status_changed_at"`
}

type orderItemResponse struct {
	ProductID uint64  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func toOrderResponse(o *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return orderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		Status:          o.Status,
		TotalPrice:      o.TotalPrice,
		DeliveryAddress: o.DeliveryAddress,
		DestLat:         o.DestLat,
		DestLng:         o.DestLng,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		StatusChangedAt: o.StatusChangedAt,
	}
}

func (a *DispatchAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	in := models.OrderCreateInput{
		CustomerID:      req.CustomerID,
		RestaurantID:    req.RestaurantID,
		DeliveryAddress: req.DeliveryAddress,
		DestLat:         req.DestLat,
		DestLng:         req.DestLng,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, models.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	o, err := a.orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (a *DispatchAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := a.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type transitionRequest struct {
	Target string `json:"target"`
	Actor  string `json:"actor"`
}

func (a *DispatchAPI) transitionOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target status is required")
		return
	}

	o, err := a.orders.RequestTransition(r.Context(), orderID, req.Target, req.Actor)
	if err != nil {
		// The transition may have committed even when a side effect failed;
		// report the order state we have along with the error.
		if o != nil && errors.Is(err, models.ErrNoDroneAvailable) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"order": toOrderResponse(o),
				"error": "no drone available, assignment pending retry",
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (a *DispatchAPI) assignDelivery(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	d, err := a.dispatch.AssignDrone(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *DispatchAPI) getDeliveryByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	snap, err := a.query.GetByOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *DispatchAPI) listDeliveries(w http.ResponseWriter, r *http.Request) {
	ds, err := a.query.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ds == nil {
		ds = []*models.Delivery{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (a *DispatchAPI) getDelivery(w http.ResponseWriter, r *http.Request) {
	snap, err := a.query.GetByDelivery(r.Context(), chi.URLParam(r, "deliveryID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type droneCreateRequest struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	MaxSpeedKmh float64 `json:"max_speed_kmh"`
}

func (a *DispatchAPI) createDrone(w http.ResponseWriter, r *http.Request) {
	var req droneCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	d, err := a.dispatch.CreateDrone(r.Context(), models.DroneCreateInput{
		Code:        req.Code,
		Name:        req.Name,
		MaxSpeedKmh: req.MaxSpeedKmh,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *DispatchAPI) listDrones(w http.ResponseWriter, r *http.Request) {
	ds, err := a.dispatch.ListDrones(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ds == nil {
		ds = []*models.Drone{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (a *DispatchAPI) getDrone(w http.ResponseWriter, r *http.Request) {
	d, err := a.dispatch.GetDroneByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *DispatchAPI) getDeliveryByDrone(w http.ResponseWriter, r *http.Request) {
	snap, err := a.query.GetActiveByDrone(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *DispatchAPI) chargeDrone(w http.ResponseWriter, r *http.Request) {
	d, err := a.dispatch.ChargeDrone(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "orderID must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrDeliveryNotFound),
		errors.Is(err, models.ErrDroneNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrTerminalOrder),
		errors.Is(err, models.ErrAlreadyRecorded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNoDroneAvailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, models.ErrUnparsablePosition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
