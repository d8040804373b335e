package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kolosave/savings-engine/internal/domain"
	"github.com/kolosave/savings-engine/internal/service"
	"github.com/kolosave/savings-engine/pkg/response"
)

type RotationHandler struct {
	service   *service.RotationService
	validator *validator.Validate
}

func NewRotationHandler(service *service.RotationService) *RotationHandler {
	return &RotationHandler{
		service:   service,
		validator: validator.New(),
	}
}

func (h *RotationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	snap, err := h.service.CreateGroup(r.Context(), &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Created(w, snap)
}

func (h *RotationHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "groupId")
	if !ok {
		return
	}

	snap, err := h.service.GetSnapshot(r.Context(), groupID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, snap)
}

func (h *RotationHandler) Join(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "groupId")
	if !ok {
		return
	}

	var req domain.JoinGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	member, err := h.service.Join(r.Context(), groupID, &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Created(w, member)
}

func (h *RotationHandler) RecordContribution(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "groupId")
	if !ok {
		return
	}

	var req domain.RecordContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.BadRequest(w, "validation failed", err)
		return
	}

	result, err := h.service.RecordContribution(r.Context(), groupID, &req)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, result)
}

// AdvanceRound is the system trigger used by operators and the scheduler; it
// carries no body.
func (h *RotationHandler) AdvanceRound(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "groupId")
	if !ok {
		return
	}

	result, err := h.service.AdvanceRound(r.Context(), groupID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *RotationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "groupId")
	if !ok {
		return
	}

	result, err := h.service.Cancel(r.Context(), groupID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *RotationHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathUUID(w, r, "groupId")
	if !ok {
		return
	}

	schedule, err := h.service.GetSchedule(r.Context(), groupID)
	if err != nil {
		response.BusinessError(w, err)
		return
	}

	response.Success(w, schedule)
}

// pathUUID parses a uuid path variable, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		response.BadRequest(w, "invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}
