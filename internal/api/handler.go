package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// WalletService is the engine surface the handlers drive.
type WalletService interface {
	Donate(ctx context.Context, donorID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error)
	AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.FundResult, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	ListDonations(ctx context.Context, donorID uuid.UUID, f domain.DonationFilter) (*domain.DonationPage, error)
	CountDonations(ctx context.Context, donorID uuid.UUID) (int, error)
	GetDonation(ctx context.Context, donorID, donationID uuid.UUID) (*domain.Donation, error)
	GetDonationTransaction(ctx context.Context, donorID, donationID uuid.UUID) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.EntryPage, error)
	Audit(ctx context.Context, userID uuid.UUID) (*domain.AuditReport, error)
}

type Handler struct {
	svc      WalletService
	validate *validator.Validate
	ready    func(context.Context) error
	log      logrus.FieldLogger
}

// NewHandler builds the HTTP handlers. ready, when set, backs /health.
func NewHandler(svc WalletService, ready func(context.Context) error, log logrus.FieldLogger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		ready:    ready,
		log:      log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.log.WithError(err).Warn("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	donorID := userFrom(r.Context())

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILED", validationMessage(err))
		return
	}

	res, err := h.svc.Donate(r.Context(), donorID, req)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/donations/%s", res.Donation.ID))
	respondJSON(w, status, res.Donation)
}

func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
	f, err := parseDonationFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	page, err := h.svc.ListDonations(r.Context(), userFrom(r.Context()), f)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) CountDonations(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CountDonations(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (h *Handler) GetDonation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDonation(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *Handler) GetDonationTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetDonationTransaction(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (h *Handler) FundWallet(w http.ResponseWriter, r *http.Request) {
	var req domain.FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	res, err := h.svc.AddFunds(r.Context(), userFrom(r.Context()), req.Amount)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.GetWallet(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePaging(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	entries, err := h.svc.ListEntries(r.Context(), userFrom(r.Context()), page, limit)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) AuditWallet(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Audit(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parsePaging(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	return page, limit, nil
}

func parseDate(v string, endOfDay bool) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseDonationFilter(r *http.Request) (domain.DonationFilter, error) {
	page, limit, err := parsePaging(r)
	if err != nil {
		return domain.DonationFilter{}, err
	}
	f := domain.DonationFilter{Page: page, Limit: limit}

	q := r.URL.Query()
	if v := q.Get("startDate"); v != "" {
		if f.StartDate, err = parseDate(v, false); err != nil {
			return f, fmt.Errorf("startDate must be YYYY-MM-DD or RFC3339")
		}
	}
	if v := q.Get("endDate"); v != "" {
		if f.EndDate, err = parseDate(v, true); err != nil {
			return f, fmt.Errorf("endDate must be YYYY-MM-DD or RFC3339")
		}
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return f, fmt.Errorf("endDate must not be before startDate")
	}
	return f.Normalize(), nil
}
