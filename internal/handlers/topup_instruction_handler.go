package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/swapmarket/backend/internal/services"
)

type TopUpInstructionHandler struct {
	service   *services.TopUpInstructionService
	validator *services.ValidationHelper
}

func NewTopUpInstructionHandler(service *services.TopUpInstructionService) *TopUpInstructionHandler {
	return &TopUpInstructionHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateInstructions returns bank-transfer details for a planned top-up
// @Summary Top-up payment instructions
// @Description Platform bank details, a payment reference and a QR image for the amount
// @Tags topups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Planned amount"
// @Success 200 {object} object{instructions=services.TopUpInstructions,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /topup-requests/instructions [post]
func (h *TopUpInstructionHandler) GenerateInstructions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}

	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	instructions, qrImage, err := h.service.Generate(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"instructions": instructions,
		"qrImage":      qrImage,
	})
}
