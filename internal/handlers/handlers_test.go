package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/internal/middleware"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/services"
	"github.com/riskdesk/backend/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	store  *memory.Store
	queue  *memory.Queue
	auth   *middleware.Authenticator
	router chi.Router
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.New()
	q := memory.NewQueue()
	billing := services.NewBillingService(store, store, q, config.BillingConfig{
		DefaultModel: "default_model",
		DefaultPrice: decimal.NewFromInt(10),
		WordsPerUnit: 500,
	})
	auth := middleware.NewAuthenticator("test-secret")

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		Register(r, auth.Middleware, NewJobHandler(billing, store), NewWalletHandler(billing, store))
	})
	return &apiFixture{store: store, queue: q, auth: auth, router: r}
}

func (f *apiFixture) do(t *testing.T, method, path string, owner int64, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/api/v1"+path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner > 0 {
		token, err := f.auth.IssueToken(owner, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) postJSON(t *testing.T, method, path string, owner int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, path, owner, strings.NewReader(body), "application/json")
}

func (f *apiFixture) topUp(t *testing.T, owner int64, amount string) {
	t.Helper()
	rec := f.postJSON(t, http.MethodPost, "/topup", owner, `{"amount": "`+amount+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *apiFixture) predict(t *testing.T, owner int64) *httptest.ResponseRecorder {
	t.Helper()
	return f.postJSON(t, http.MethodPost, "/predict", owner, `{"filename": "lease.txt", "text": "The tenant shall pay a penalty for late rent."}`)
}

func (f *apiFixture) balance(t *testing.T, owner int64) decimal.Decimal {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/balance", owner, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, owner, resp.OwnerID)
	return resp.Balance
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPredict(t *testing.T) {
	t.Run("insufficient funds is 402 and stores nothing", func(t *testing.T) {
		f := newAPI(t)
		rec := f.predict(t, 1)

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error, "insufficient funds")
		assert.Zero(t, f.queue.Len())
		assert.True(t, f.balance(t, 1).IsZero())
	})

	t.Run("accepted submission is charged and queued", func(t *testing.T) {
		f := newAPI(t)
		f.topUp(t, 1, "100")

		rec := f.predict(t, 1)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var sub services.Submission
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
		assert.Equal(t, models.JobQueued, sub.Status)
		assert.Equal(t, "default_model", sub.Model)
		assert.True(t, sub.Cost.Equal(decimal.NewFromInt(10)))
		assert.Equal(t, 1, f.queue.Len())
		assert.True(t, f.balance(t, 1).Equal(decimal.NewFromInt(90)))
	})

	t.Run("lowercase summary depth is accepted", func(t *testing.T) {
		f := newAPI(t)
		f.topUp(t, 1, "100")

		rec := f.postJSON(t, http.MethodPost, "/predict", 1, `{"filename": "a.txt", "text": "some text", "summary_depth": "detailed"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	})

	t.Run("invalid documents are 400", func(t *testing.T) {
		f := newAPI(t)
		f.topUp(t, 1, "100")

		bodies := []string{
			`{"filename": "a.txt", "text": "   "}`,
			`{"text": "no filename"}`,
			`{"filename": "a.txt", "text": "x", "summary_depth": "LONG"}`,
			`{"filename": "a.txt", "text": "x", "unexpected": true}`,
			`{"filename": "a.txt", "text": "x"}{"again": 1}`,
			`not json`,
		}
		for _, body := range bodies {
			rec := f.postJSON(t, http.MethodPost, "/predict", 1, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.True(t, f.balance(t, 1).Equal(decimal.NewFromInt(100)))
	})

	t.Run("inactive model is 400", func(t *testing.T) {
		f := newAPI(t)
		f.topUp(t, 1, "100")
		require.Equal(t, http.StatusAccepted, f.predict(t, 1).Code)
		f.store.SetModelActive("default_model", false)

		rec := f.predict(t, 1)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error, "not active")
	})

	t.Run("queue outage is 503 and refunded", func(t *testing.T) {
		f := newAPI(t)
		f.topUp(t, 1, "100")
		f.queue.FailPublish(errors.New("connection refused"))

		rec := f.predict(t, 1)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error, "not been charged")
		assert.True(t, f.balance(t, 1).Equal(decimal.NewFromInt(100)))

		jobs, err := f.store.ListJobs(t.Context(), 1, 0, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, models.JobError, jobs[0].Status)
	})

	t.Run("multipart upload", func(t *testing.T) {
		f := newAPI(t)
		f.topUp(t, 1, "100")

		upload := func(content []byte) *httptest.ResponseRecorder {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", "contract.txt")
			require.NoError(t, err)
			_, err = part.Write(content)
			require.NoError(t, err)
			require.NoError(t, mw.WriteField("summary_depth", "BULLET"))
			require.NoError(t, mw.Close())
			return f.do(t, http.MethodPost, "/predict", 1, &buf, mw.FormDataContentType())
		}

		rec := upload([]byte("The supplier may terminate without notice."))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		docs, err := f.store.ListDocuments(t.Context(), 1, 0, 10)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "contract.txt", docs[0].Filename)

		rec = upload([]byte{0xff, 0xfe, 0x00, 0x81})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires a token", func(t *testing.T) {
		f := newAPI(t)
		rec := f.predict(t, 0)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetJob(t *testing.T) {
	f := newAPI(t)
	f.topUp(t, 1, "100")

	var sub services.Submission
	require.NoError(t, json.Unmarshal(f.predict(t, 1).Body.Bytes(), &sub))
	path := "/jobs/" + strconv.FormatInt(sub.JobID, 10)

	rec := f.do(t, http.MethodGet, path, 1, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, sub.JobID, job.ID)
	assert.Equal(t, models.JobQueued, job.Status)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, 2, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/jobs/9999", 1, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/jobs/abc", 1, nil, "").Code)
}

func TestHistoryAndTransactions(t *testing.T) {
	f := newAPI(t)
	f.topUp(t, 1, "100")
	require.Equal(t, http.StatusAccepted, f.predict(t, 1).Code)
	require.Equal(t, http.StatusAccepted, f.predict(t, 1).Code)

	rec := f.do(t, http.MethodGet, "/history?limit=1", 1, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs Page[models.Job]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Equal(t, 2, jobs.Total)
	assert.Len(t, jobs.Items, 1)
	assert.Equal(t, 1, jobs.Limit)

	rec = f.do(t, http.MethodGet, "/transactions?skip=1&limit=500", 1, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries Page[models.LedgerEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Equal(t, 3, entries.Total)
	assert.Len(t, entries.Items, 2)
	assert.Equal(t, maxLimit, entries.Limit)

	rec = f.do(t, http.MethodGet, "/documents?limit=1", 1, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var docs Page[models.Document]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Equal(t, 2, docs.Total)
	assert.Len(t, docs.Items, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/history?skip=-1", 1, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/transactions?limit=x", 1, nil, "").Code)

	rec = f.do(t, http.MethodGet, "/history", 2, nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Zero(t, jobs.Total)
}

func TestHistoryIncludesRiskClauses(t *testing.T) {
	f := newAPI(t)
	f.topUp(t, 1, "100")
	var sub services.Submission
	require.NoError(t, json.Unmarshal(f.predict(t, 1).Body.Bytes(), &sub))
	require.Equal(t, http.StatusAccepted, f.predict(t, 1).Code)

	_, err := f.store.MarkRunning(t.Context(), sub.JobID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.store.MarkDone(t.Context(), sub.JobID, models.AnalysisOutcome{
		Summary:   "late rent penalty",
		RiskScore: 0.8,
		Clauses:   []models.RiskClause{{Text: "pay a penalty", RiskLevel: models.RiskHigh, Explanation: "uncapped"}},
	}, sub.Cost))

	rec := f.do(t, http.MethodGet, "/history", 1, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs Page[models.Job]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs.Items, 2)

	for _, job := range jobs.Items {
		if job.ID == sub.JobID {
			require.Len(t, job.RiskClauses, 1)
			assert.Equal(t, models.RiskHigh, job.RiskClauses[0].RiskLevel)
		} else {
			assert.Empty(t, job.RiskClauses)
		}
	}
}

func TestGetDocument(t *testing.T) {
	f := newAPI(t)
	f.topUp(t, 1, "100")
	var sub services.Submission
	require.NoError(t, json.Unmarshal(f.predict(t, 1).Body.Bytes(), &sub))
	path := "/documents/" + strconv.FormatInt(sub.DocumentID, 10)

	rec := f.do(t, http.MethodGet, path, 1, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, sub.DocumentID, doc.ID)
	assert.Equal(t, "lease.txt", doc.Filename)
	assert.NotContains(t, rec.Body.String(), "penalty for late rent")

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, 2, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/documents/9999", 1, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/documents/0", 1, nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, path, 0, nil, "").Code)
}

func TestWriteError_QueueUnavailable(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", nil)

	rec := httptest.NewRecorder()
	writeError(rec, req, &models.QueueUnavailableError{JobID: 4, Refunded: true, Cause: errors.New("broker down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "not been charged")

	rec = httptest.NewRecorder()
	writeError(rec, req, &models.QueueUnavailableError{JobID: 4, Refunded: false, Cause: errors.New("broker down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	msg := decodeError(t, rec).Error
	assert.NotContains(t, msg, "not been charged")
	assert.Contains(t, msg, "job 4 was charged")
}

func TestWalletEndpoints(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/wallet", 3, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var wallet models.Wallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wallet))
	assert.Equal(t, int64(3), wallet.OwnerID)
	assert.True(t, wallet.Balance.IsZero())

	assert.Equal(t, http.StatusBadRequest, f.postJSON(t, http.MethodPost, "/topup", 3, `{"amount": "0"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.postJSON(t, http.MethodPost, "/topup", 3, `{"amount": "-5"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.postJSON(t, http.MethodPost, "/topup", 3, `{"amount": "ten"}`).Code)

	rec = f.postJSON(t, http.MethodPost, "/topup", 3, `{"amount": 12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, models.EntryCredit, entry.Kind)
	assert.Equal(t, models.RefTopUp, entry.Reference)

	assert.True(t, f.balance(t, 3).Equal(decimal.RequireFromString("12.5")))
}

func TestModels(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/models", 0, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.store.CreateModel(t.Context(), "default_model", decimal.NewFromInt(10), true)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/models", 0, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "default_model", list[0].Name)
}
