package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swapmarket/backend/internal/models"
)

// TransactionService is the read side of the ledger: filtered, paginated
// listings plus aggregates computed over the same predicate, so the stats
// can never disagree with the rows they describe.
type TransactionService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// TransactionFilter narrows both List and Aggregate.
type TransactionFilter struct {
	UserID string
	Type   string
	Status string
	From   time.Time
	To     time.Time
}

// TransactionStats is the dashboard aggregate over one filter predicate.
type TransactionStats struct {
	Total       int64 `json:"total"`
	TotalVolume int64 `json:"totalVolume"`
	TotalFees   int64 `json:"totalFees"`
	Pending     int64 `json:"pending"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
}

// Pagination is the envelope shared by list endpoints.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

func (f TransactionFilter) where() (string, []any) {
	clauses := []string{}
	args := []any{}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns transactions matching the filter, newest first.
func (ts *TransactionService) List(ctx context.Context, filter TransactionFilter, page, limit int) ([]models.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where, args := filter.where()

	var total int64
	err := ts.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT transaction_id, user_id, type, amount, fee, balance_after, status, reference, description, related_user_id, related_listing_id, created_at FROM transactions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		var reference, relatedUser, relatedListing sql.NullString
		if err := rows.Scan(&txn.TransactionID, &txn.UserID, &txn.Type, &txn.Amount,
			&txn.Fee, &txn.BalanceAfter, &txn.Status, &reference, &txn.Description,
			&relatedUser, &relatedListing, &txn.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		txn.Reference = reference.String
		txn.RelatedUserID = relatedUser.String
		txn.RelatedListingID = relatedListing.String
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transactions: %w", err)
	}

	return transactions, total, nil
}

// Aggregate computes the stats over the same predicate List uses, in a
// single query so no row is counted twice or dropped.
func (ts *TransactionService) Aggregate(ctx context.Context, filter TransactionFilter) (*TransactionStats, error) {
	where, args := filter.where()

	query := `SELECT COUNT(*),
		COALESCE(SUM(ABS(amount)) FILTER (WHERE status = 'completed'), 0),
		COALESCE(SUM(fee), 0),
		COUNT(*) FILTER (WHERE status = 'pending'),
		COUNT(*) FILTER (WHERE status = 'completed'),
		COUNT(*) FILTER (WHERE status = 'failed')
		FROM transactions` + where

	var stats TransactionStats
	err := ts.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total,
		&stats.TotalVolume, &stats.TotalFees, &stats.Pending, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("aggregate transactions: %w", err)
	}
	return &stats, nil
}

// ListTransactions lists ledger transactions with stats
// @Summary List transactions
// @Description List ledger transactions with filters, pagination and aggregate stats
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param userId query string false "Filter by user ID"
// @Param type query string false "Filter by transaction type"
// @Param status query string false "Filter by status"
// @Param from query string false "Start date (RFC3339)"
// @Param to query string false "End date (RFC3339)"
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,stats=TransactionStats,pagination=Pagination}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := TransactionFilter{
		UserID: strings.TrimSpace(r.URL.Query().Get("userId")),
		Type:   strings.TrimSpace(r.URL.Query().Get("type")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	page := 1
	limit := 20
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	transactions, total, err := ts.List(r.Context(), filter, page, limit)
	if err != nil {
		log.Printf("[TRANSACTIONS] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	stats, err := ts.Aggregate(r.Context(), filter)
	if err != nil {
		log.Printf("[TRANSACTIONS] Aggregate failed: %v", err)
		SendErrorResponse(w, "Failed to compute stats", http.StatusInternalServerError, nil)
		return
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"stats":        stats,
		"pagination": Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	})
}
