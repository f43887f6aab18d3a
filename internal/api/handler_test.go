package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockService struct{ mock.Mock }

func (m *mockService) Donate(ctx context.Context, donorID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	args := m.Called(ctx, donorID, req)
	res, _ := args.Get(0).(*domain.TransferResult)
	return res, args.Error(1)
}

func (m *mockService) AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.FundResult, error) {
	args := m.Called(ctx, userID, amount)
	res, _ := args.Get(0).(*domain.FundResult)
	return res, args.Error(1)
}

func (m *mockService) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*domain.Wallet)
	return res, args.Error(1)
}

func (m *mockService) ListDonations(ctx context.Context, donorID uuid.UUID, f domain.DonationFilter) (*domain.DonationPage, error) {
	args := m.Called(ctx, donorID, f)
	res, _ := args.Get(0).(*domain.DonationPage)
	return res, args.Error(1)
}

func (m *mockService) CountDonations(ctx context.Context, donorID uuid.UUID) (int, error) {
	args := m.Called(ctx, donorID)
	return args.Int(0), args.Error(1)
}

func (m *mockService) GetDonation(ctx context.Context, donorID, id uuid.UUID) (*domain.Donation, error) {
	args := m.Called(ctx, donorID, id)
	res, _ := args.Get(0).(*domain.Donation)
	return res, args.Error(1)
}

func (m *mockService) GetDonationTransaction(ctx context.Context, donorID, id uuid.UUID) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, donorID, id)
	res, _ := args.Get(0).(*domain.LedgerEntry)
	return res, args.Error(1)
}

func (m *mockService) ListEntries(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.EntryPage, error) {
	args := m.Called(ctx, userID, page, limit)
	res, _ := args.Get(0).(*domain.EntryPage)
	return res, args.Error(1)
}

func (m *mockService) Audit(ctx context.Context, userID uuid.UUID) (*domain.AuditReport, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*domain.AuditReport)
	return res, args.Error(1)
}

func setup(t *testing.T) (*mockService, http.Handler) {
	t.Helper()
	log, _ := test.NewNullLogger()
	svc := new(mockService)
	return svc, NewRouter(NewHandler(svc, nil, log), nil, log)
}

func do(h http.Handler, method, path string, user uuid.UUID, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != uuid.Nil {
		req.Header.Set(UserIDHeader, user.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateDonation(t *testing.T) {
	svc, h := setup(t)
	donor, beneficiary := uuid.New(), uuid.New()
	d := &domain.Donation{ID: uuid.New(), DonorID: donor, BeneficiaryID: beneficiary, Amount: decimal.RequireFromString("10.50"), Status: domain.DonationCompleted}

	svc.On("Donate", mock.Anything, donor, mock.MatchedBy(func(req domain.TransferRequest) bool {
		return req.BeneficiaryID == beneficiary && req.Amount.Equal(decimal.RequireFromString("10.50")) && req.IdempotencyKey == "idem-1"
	})).Return(&domain.TransferResult{Donation: d}, nil).Once()

	body := `{"beneficiaryId":"` + beneficiary.String() + `","amount":"10.50","pin":"1234"}`
	rec := do(h, http.MethodPost, "/api/v1/donations", donor, body, IdempotencyKeyHeader, "idem-1")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/donations/"+d.ID.String(), rec.Header().Get("Location"))

	var got domain.Donation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, d.ID, got.ID)
	svc.AssertExpectations(t)
}

func TestCreateDonation_ReplayReturns200(t *testing.T) {
	svc, h := setup(t)
	donor := uuid.New()
	d := &domain.Donation{ID: uuid.New(), DonorID: donor}

	svc.On("Donate", mock.Anything, donor, mock.Anything).
		Return(&domain.TransferResult{Donation: d, Replayed: true}, nil)

	body := `{"beneficiaryId":"` + uuid.NewString() + `","amount":5,"pin":"1234","idempotencyKey":"k"}`
	rec := do(h, http.MethodPost, "/api/v1/donations", donor, body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDonation_BadRequests(t *testing.T) {
	svc, h := setup(t)
	donor := uuid.New()
	beneficiary := uuid.NewString()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"amount":`},
		{"missing beneficiary", `{"amount":"1","pin":"1234"}`},
		{"pin too short", `{"beneficiaryId":"` + beneficiary + `","amount":"1","pin":"12"}`},
		{"pin not numeric", `{"beneficiaryId":"` + beneficiary + `","amount":"1","pin":"12ab"}`},
		{"pin signed", `{"beneficiaryId":"` + beneficiary + `","amount":"1","pin":"+123"}`},
		{"pin negative", `{"beneficiaryId":"` + beneficiary + `","amount":"1","pin":"-123"}`},
		{"pin decimal", `{"beneficiaryId":"` + beneficiary + `","amount":"1","pin":"12.5"}`},
		{"pin too long", `{"beneficiaryId":"` + beneficiary + `","amount":"1","pin":"1234567"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/v1/donations", donor, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	svc.AssertNotCalled(t, "Donate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequiresCallerIdentity(t *testing.T) {
	_, h := setup(t)
	rec := do(h, http.MethodGet, "/api/v1/wallets/me", uuid.Nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/me", nil)
	req.Header.Set(UserIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{domain.ErrInvalidPIN, http.StatusForbidden, "INVALID_PIN"},
		{domain.ErrBeneficiaryNotFound, http.StatusNotFound, "BENEFICIARY_NOT_FOUND"},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{domain.ErrSelfTransfer, http.StatusUnprocessableEntity, "SELF_TRANSFER"},
		{domain.ErrIdempotencyKeyConflict, http.StatusConflict, "IDEMPOTENCY_KEY_CONFLICT"},
		{domain.Retryable(errors.New("lock timeout")), http.StatusServiceUnavailable, "RETRYABLE"},
		{errors.New("unexpected"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc, h := setup(t)
			donor := uuid.New()
			svc.On("Donate", mock.Anything, donor, mock.Anything).Return(nil, tc.err)

			body := `{"beneficiaryId":"` + uuid.NewString() + `","amount":"1","pin":"1234"}`
			rec := do(h, http.MethodPost, "/api/v1/donations", donor, body)
			assert.Equal(t, tc.status, rec.Code)

			var eb errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&eb))
			assert.Equal(t, tc.code, eb.Code)
			if tc.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestListDonations_ParsesFilter(t *testing.T) {
	svc, h := setup(t)
	donor := uuid.New()

	svc.On("ListDonations", mock.Anything, donor, mock.MatchedBy(func(f domain.DonationFilter) bool {
		return f.Page == 2 && f.Limit == 5 &&
			f.StartDate != nil && f.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) &&
			f.EndDate != nil && f.EndDate.After(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC))
	})).Return(&domain.DonationPage{Data: []domain.Donation{}, Meta: domain.NewPageMeta(6, 2, 5)}, nil)

	rec := do(h, http.MethodGet, "/api/v1/donations?page=2&limit=5&startDate=2024-01-01&endDate=2024-01-31", donor, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page domain.DonationPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.Meta.TotalPages)

	rec = do(h, http.MethodGet, "/api/v1/donations?startDate=yesterday", donor, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCountDonations(t *testing.T) {
	svc, h := setup(t)
	donor := uuid.New()
	svc.On("CountDonations", mock.Anything, donor).Return(7, nil)

	rec := do(h, http.MethodGet, "/api/v1/donations/count", donor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", strings.TrimSpace(rec.Body.String()))
}

func TestGetDonation(t *testing.T) {
	svc, h := setup(t)
	donor, id := uuid.New(), uuid.New()
	svc.On("GetDonation", mock.Anything, donor, id).Return(nil, domain.ErrDonationNotFound)

	rec := do(h, http.MethodGet, "/api/v1/donations/"+id.String(), donor, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/api/v1/donations/not-a-uuid", donor, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDonationTransaction(t *testing.T) {
	svc, h := setup(t)
	donor, id := uuid.New(), uuid.New()
	entry := &domain.LedgerEntry{ID: uuid.New(), Type: domain.EntryDebit, Amount: decimal.NewFromInt(3)}
	svc.On("GetDonationTransaction", mock.Anything, donor, id).Return(entry, nil)

	rec := do(h, http.MethodGet, "/api/v1/donations/"+id.String()+"/transaction", donor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"DEBIT"`)
}

func TestFundWallet(t *testing.T) {
	svc, h := setup(t)
	user := uuid.New()
	svc.On("AddFunds", mock.Anything, user, mock.MatchedBy(func(a decimal.Decimal) bool {
		return a.Equal(decimal.RequireFromString("1000.00"))
	})).Return(&domain.FundResult{Message: "Funds added to wallet successfully", Balance: decimal.RequireFromString("1000.00")}, nil)

	rec := do(h, http.MethodPost, "/api/v1/wallets/fund", user, `{"amount":"1000.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Funds added to wallet successfully")
}

func TestWalletReads(t *testing.T) {
	svc, h := setup(t)
	user := uuid.New()
	svc.On("GetWallet", mock.Anything, user).Return(&domain.Wallet{UserID: user, Balance: decimal.NewFromInt(5)}, nil)
	svc.On("ListEntries", mock.Anything, user, 1, 20).Return(&domain.EntryPage{Data: []domain.LedgerEntry{}, Meta: domain.NewPageMeta(0, 1, 20)}, nil)
	svc.On("Audit", mock.Anything, user).Return(&domain.AuditReport{Consistent: true}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/wallets/me", user, "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/wallets/me/entries?page=1&limit=20", user, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/v1/wallets/me/entries?limit=-1", user, "").Code)

	rec := do(h, http.MethodGet, "/api/v1/wallets/me/audit", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"consistent":true`)
}

func TestHealth(t *testing.T) {
	log, _ := test.NewNullLogger()
	down := NewRouter(NewHandler(new(mockService), func(context.Context) error { return errors.New("db down") }, log), nil, log)
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/health", uuid.Nil, "").Code)

	_, up := setup(t)
	assert.Equal(t, http.StatusOK, do(up, http.MethodGet, "/health", uuid.Nil, "").Code)
}
