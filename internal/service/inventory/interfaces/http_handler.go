package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/tracing"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/application"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

// ReservationHandler 封装了 inventory 服务的 HTTP 处理器
type ReservationHandler struct {
	service *application.ReservationService
}

// NewReservationHandler 创建一个新的 HTTP 处理器实例
func NewReservationHandler(service *application.ReservationService) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *ReservationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/reserve", h.reserveHandler)
	mux.HandleFunc("/confirm", h.confirmHandler)
	mux.HandleFunc("/cancel", h.cancelHandler)
	mux.HandleFunc("/reservation", h.getReservationHandler)
	mux.HandleFunc("/stock", h.stockHandler)
	mux.HandleFunc("/admin/provision", h.provisionHandler)
}

// extractCtx 从请求头恢复 trace 上下文
func extractCtx(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func (h *ReservationHandler) reserveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractCtx(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.Reserve")
	defer span.End()
	ctx = logger.WithTraceID(ctx, tracing.GetTraceIDFromContext(ctx))

	var req application.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.Wrap(err, "decode reserve request"), http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.String("user.id", req.UserID),
		attribute.Int64("reserve.quantity", req.Quantity),
	)

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, pkgerrors.Wrap(err, "parse ttl"), http.StatusBadRequest)
			return
		}
		ttl = parsed
	}

	reservation, err := h.service.Reserve(ctx, req.UserID, req.ProductID, req.Quantity, ttl)
	if err != nil {
		writeError(w, err, statusFromErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, application.ToResponse(reservation))
}

func (h *ReservationHandler) confirmHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(w, r, "http.Confirm", h.service.Confirm)
}

func (h *ReservationHandler) cancelHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(w, r, "http.Cancel", h.service.Cancel)
}

// transitionHandler 是 confirm/cancel 的公共骨架，两者只差一个应用服务方法
func (h *ReservationHandler) transitionHandler(w http.ResponseWriter, r *http.Request, spanName string,
	op func(ctx context.Context, reservationID string) (*domain.Reservation, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractCtx(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	ctx = logger.WithTraceID(ctx, tracing.GetTraceIDFromContext(ctx))

	var req struct {
		ReservationID string `json:"reservationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.Wrap(err, "decode request"), http.StatusBadRequest)
		return
	}
	if req.ReservationID == "" {
		writeError(w, errors.New("reservationId is required"), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("reservation.id", req.ReservationID))

	reservation, err := op(ctx, req.ReservationID)
	if err != nil {
		writeError(w, err, statusFromErr(err))
		return
	}
	writeJSON(w, http.StatusOK, application.ToResponse(reservation))
}

func (h *ReservationHandler) getReservationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.New("id is required"), http.StatusBadRequest)
		return
	}
	reservation, err := h.service.GetReservation(ctx, id)
	if err != nil {
		writeError(w, err, statusFromErr(err))
		return
	}
	writeJSON(w, http.StatusOK, application.ToResponse(reservation))
}

func (h *ReservationHandler) stockHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		writeError(w, errors.New("productId is required"), http.StatusBadRequest)
		return
	}
	qty, err := h.service.GetQuantity(ctx, productID)
	if err != nil {
		writeError(w, err, statusFromErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"productId": productID, "quantity": qty})
}

func (h *ReservationHandler) provisionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := extractCtx(r)
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "http.ProvisionStock")
	defer span.End()

	var req struct {
		ProductID string `json:"productId"`
		Quantity  int64  `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pkgerrors.Wrap(err, "decode provision request"), http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		writeError(w, errors.New("productId is required"), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("product.id", req.ProductID), attribute.Int64("quantity", req.Quantity))

	if err := h.service.ProvisionStock(ctx, req.ProductID, req.Quantity); err != nil {
		writeError(w, err, statusFromErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"productId": req.ProductID, "quantity": req.Quantity})
}

// statusFromErr 把领域错误映射为 HTTP 状态码
func statusFromErr(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockUnavailable):
		return http.StatusLocked
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPolicyRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
