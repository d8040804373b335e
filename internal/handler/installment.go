package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kolosave/savings-engine/internal/domain"
	"github.com/kolosave/savings-engine/internal/service"
	"github.com/kolosave/savings-engine/pkg/response"
)

type InstallmentHandler struct {
	service   *service.InstallmentService
	validator *validator.Validate
}

func NewInstallmentHandler(service *service.InstallmentService) *InstallmentHandler {
	return &InstallmentHandler{
		service:   service,
		validator: validator.New(),
	}
}

// PreviewBreakdown computes a breakdown without creating anything.
func (h *InstallmentHandler) PreviewBreakdown(w http.ResponseWriter, r *http.Request) {
	var req domain.PreviewBreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	resp, err := h.service.PreviewBreakdown(&req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, resp)
}

func (h *InstallmentHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	resp, err := h.service.CreatePlan(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Created(w, resp)
}

func (h *InstallmentHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := pathUUID(w, r, "planId")
	if !ok {
		return
	}

	resp, err := h.service.GetPlan(r.Context(), planID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, resp)
}

// ListPlans filters by optional user_id and status query parameters.
func (h *InstallmentHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	filter := &domain.PlanFilter{}

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "invalid user_id", err)
			return
		}
		filter.UserID = &userID
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Status = &raw
	}

	plans, err := h.service.ListPlans(r.Context(), filter)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, plans)
}

func (h *InstallmentHandler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	planID, ok := pathUUID(w, r, "planId")
	if !ok {
		return
	}

	paymentNumber, err := strconv.Atoi(mux.Vars(r)["paymentNumber"])
	if err != nil {
		response.BadRequest(w, "invalid payment number", err)
		return
	}

	payment, err := h.service.ApplyPayment(r.Context(), planID, paymentNumber)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, payment)
}
