package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/swapmarket/backend/internal/audit"
	"github.com/swapmarket/backend/internal/ledger"
	"github.com/swapmarket/backend/internal/models"
	"github.com/swapmarket/backend/internal/notify"
)

// TopUpService owns the top-up request state machine. A request is
// created pending and reaches exactly one terminal state by exactly one
// admin action; approval credits the ledger exactly once, in the same
// atomic unit as the status flip.
type TopUpService struct {
	db            *sql.DB
	ledger        *ledger.Service
	notifier      *notify.Notifier
	audit         *audit.Logger
	validator     *ValidationHelper
	lockTimeoutMS int
}

func NewTopUpService(db *sql.DB, ledgerService *ledger.Service, notifier *notify.Notifier) *TopUpService {
	viper.SetDefault("ledger.lock_timeout_ms", 3000)
	return &TopUpService{
		db:            db,
		ledger:        ledgerService,
		notifier:      notifier,
		audit:         audit.NewLogger(),
		validator:     NewValidationHelper(),
		lockTimeoutMS: viper.GetInt("ledger.lock_timeout_ms"),
	}
}

type SubmitTopUpRequest struct {
	Amount     int64  `json:"amount" validate:"required,gt=0"`
	Bank       string `json:"bank" validate:"required"`
	BankName   string `json:"bank_name"`
	ReceiptURL string `json:"receipt_url" validate:"required"`
}

// Submit records a pending funding claim. No ledger interaction.
func (s *TopUpService) Submit(ctx context.Context, userID string, req SubmitTopUpRequest) (*models.TopUpRequest, error) {
	if req.Amount <= 0 {
		return nil, &ledger.FieldError{Field: "amount", Message: "must be positive"}
	}
	if strings.TrimSpace(req.Bank) == "" {
		return nil, &ledger.FieldError{Field: "bank", Message: "bank is required"}
	}
	if strings.TrimSpace(req.ReceiptURL) == "" {
		return nil, &ledger.FieldError{Field: "receipt_url", Message: "receipt reference is required"}
	}

	request := &models.TopUpRequest{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     req.Amount,
		Bank:       req.Bank,
		BankName:   req.BankName,
		ReceiptURL: req.ReceiptURL,
		Status:     models.TopUpStatusPending,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topup_requests (id, user_id, amount, bank, bank_name, receipt_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		request.ID, request.UserID, request.Amount, request.Bank, request.BankName,
		request.ReceiptURL, request.Status, request.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create top-up request: %w", err)
	}

	log.Printf("[TOPUP] Request %s submitted by %s for %d", request.ID, userID, request.Amount)
	return request, nil
}

// Approve flips a pending request to approved and credits the wallet in
// one atomic unit. The conditional UPDATE is the concurrency guard: when
// two admins race, one flips the row and the other touches zero rows and
// gets AlreadyProcessed. The request id is the credit's idempotency key,
// so a retried approval can never credit twice.
func (s *TopUpService) Approve(ctx context.Context, requestID, adminID string) (*models.TopUpRequest, *models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin approve transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeoutMS)); err != nil {
		return nil, nil, fmt.Errorf("set lock timeout: %w", err)
	}

	processedAt := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE topup_requests SET status = $1, processed_at = $2, processed_by = $3
		WHERE id = $4 AND status = $5`,
		models.TopUpStatusApproved, processedAt, adminID, requestID, models.TopUpStatusPending)
	if err != nil {
		return nil, nil, fmt.Errorf("flip request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, nil, err
	}
	if rows == 0 {
		return nil, nil, s.classifyMiss(ctx, tx, requestID)
	}

	request, err := s.fetchRequest(ctx, tx, requestID)
	if err != nil {
		return nil, nil, err
	}

	txn, err := s.ledger.CreditTx(ctx, tx, request.UserID, request.Amount, models.TxTypeTopUp,
		fmt.Sprintf("Top-up via %s", request.Bank), ledger.Options{
			IdempotencyKey: requestID,
			Reference:      fmt.Sprintf("topup:%s", requestID),
		})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit approve: %w", err)
	}

	// Post-commit side effects: best-effort, never rolled back.
	s.audit.LogTopUpDecision(requestID, adminID, "APPROVED", request.Amount)
	s.notifier.Notify(ctx, request.UserID, notify.Event{
		Type:      "topup_approved",
		Amount:    request.Amount,
		Message:   "Your top-up request has been approved",
		CreatedAt: processedAt,
	})

	return request, txn, nil
}

// Reject moves a pending request to rejected with a mandatory reason.
// The ledger is never touched.
func (s *TopUpService) Reject(ctx context.Context, requestID, adminID, reason string) (*models.TopUpRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ledger.FieldError{Field: "rejection_reason", Message: "reason is required"}
	}

	processedAt := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE topup_requests SET status = $1, rejection_reason = $2, processed_at = $3, processed_by = $4
		WHERE id = $5 AND status = $6`,
		models.TopUpStatusRejected, reason, processedAt, adminID, requestID, models.TopUpStatusPending)
	if err != nil {
		return nil, fmt.Errorf("reject request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.classifyMiss(ctx, nil, requestID)
	}

	request, err := s.fetchRequest(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}

	s.audit.LogTopUpDecision(requestID, adminID, "REJECTED", request.Amount)
	s.notifier.Notify(ctx, request.UserID, notify.Event{
		Type:      "topup_rejected",
		Amount:    request.Amount,
		Message:   fmt.Sprintf("Your top-up request was rejected: %s", reason),
		CreatedAt: processedAt,
	})

	return request, nil
}

// List returns requests with embedded user display fields, newest first.
func (s *TopUpService) List(ctx context.Context, status string) ([]models.TopUpRequestWithUser, error) {
	query := `
		SELECT r.id, r.user_id, r.amount, r.bank, r.bank_name, r.receipt_url, r.status, r.rejection_reason, r.created_at, r.processed_at, r.processed_by, u.name, u.email
		FROM topup_requests r JOIN users u ON u.id = r.user_id`
	args := []any{}
	if status != "" {
		query += " WHERE r.status = $1"
		args = append(args, status)
	}
	query += " ORDER BY r.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list top-up requests: %w", err)
	}
	defer rows.Close()

	requests := []models.TopUpRequestWithUser{}
	for rows.Next() {
		var req models.TopUpRequestWithUser
		var rejection, processedBy sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.Bank, &req.BankName,
			&req.ReceiptURL, &req.Status, &rejection, &req.CreatedAt, &processedAt,
			&processedBy, &req.UserName, &req.UserEmail); err != nil {
			return nil, fmt.Errorf("scan top-up request: %w", err)
		}
		req.RejectionReason = rejection.String
		req.ProcessedBy = processedBy.String
		if processedAt.Valid {
			req.ProcessedAt = &processedAt.Time
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top-up requests: %w", err)
	}
	return requests, nil
}

// classifyMiss distinguishes an unknown request from one already decided.
func (s *TopUpService) classifyMiss(ctx context.Context, tx *sql.Tx, requestID string) error {
	var status string
	var err error
	query := `SELECT status FROM topup_requests WHERE id = $1`
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, requestID).Scan(&status)
	} else {
		err = s.db.QueryRowContext(ctx, query, requestID).Scan(&status)
	}
	if err == sql.ErrNoRows {
		return ledger.ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect request %s: %w", requestID, err)
	}
	return ledger.ErrAlreadyProcessed
}

func (s *TopUpService) fetchRequest(ctx context.Context, tx *sql.Tx, requestID string) (*models.TopUpRequest, error) {
	query := `SELECT id, user_id, amount, bank, bank_name, receipt_url, status, rejection_reason, created_at, processed_at, processed_by FROM topup_requests WHERE id = $1`

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, requestID)
	} else {
		row = s.db.QueryRowContext(ctx, query, requestID)
	}

	var req models.TopUpRequest
	var rejection, processedBy sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&req.ID, &req.UserID, &req.Amount, &req.Bank, &req.BankName,
		&req.ReceiptURL, &req.Status, &rejection, &req.CreatedAt, &processedAt, &processedBy)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch request %s: %w", requestID, err)
	}
	req.RejectionReason = rejection.String
	req.ProcessedBy = processedBy.String
	if processedAt.Valid {
		req.ProcessedAt = &processedAt.Time
	}
	return &req, nil
}

// HTTP surface

// SubmitTopUp submits a funding claim
// @Summary Submit a top-up request
// @Description Submit a bank deposit claim for admin review
// @Tags topups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SubmitTopUpRequest true "Top-up claim"
// @Success 201 {object} object{success=bool,request=models.TopUpRequest}
// @Failure 400 {object} ErrorResponse
// @Router /topup-requests [post]
func (s *TopUpService) SubmitTopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req SubmitTopUpRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, err := s.Submit(r.Context(), userID, req)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"request": request,
	})
}

// ListTopUpRequests lists funding claims for review
// @Summary List top-up requests
// @Description List top-up requests with embedded user display fields
// @Tags topups
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Success 200 {object} object{requests=[]models.TopUpRequestWithUser,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /topup-requests [get]
func (s *TopUpService) ListTopUpRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		log.Printf("[TOPUP] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch top-up requests", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

type ProcessTopUpRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string `json:"rejection_reason"`
}

// ProcessTopUp decides a pending top-up request
// @Summary Approve or reject a top-up request
// @Description Approve (credits the wallet exactly once) or reject with a reason
// @Tags topups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Param request body ProcessTopUpRequest true "Decision"
// @Success 200 {object} object{success=bool,request=models.TopUpRequest}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /topup-requests/{id} [put]
func (s *TopUpService) ProcessTopUp(w http.ResponseWriter, r *http.Request) {
	adminID, ok := r.Context().Value("userID").(string)
	if !ok || adminID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	requestID := chi.URLParam(r, "id")

	var req ProcessTopUpRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var request *models.TopUpRequest
	var txn *models.Transaction
	var err error

	switch req.Action {
	case "approve":
		request, txn, err = s.Approve(r.Context(), requestID, adminID)
	case "reject":
		request, err = s.Reject(r.Context(), requestID, adminID, req.RejectionReason)
	}
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	response := map[string]any{
		"success": true,
		"request": request,
	}
	if txn != nil {
		response["transaction"] = txn
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
