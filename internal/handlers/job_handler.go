package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/services"
)

const maxUploadBytes = 10 << 20

type JobHandler struct {
	billing *services.BillingService
	jobs    services.JobRepository
}

func NewJobHandler(billing *services.BillingService, jobs services.JobRepository) *JobHandler {
	return &JobHandler{billing: billing, jobs: jobs}
}

// PredictRequest is the JSON form of a submission.
type PredictRequest struct {
	Filename     string              `json:"filename"`
	Text         string              `json:"text"`
	UnitCount    int                 `json:"unit_count,omitempty"`
	Language     string              `json:"language,omitempty"`
	Model        string              `json:"model,omitempty"`
	SummaryDepth models.SummaryDepth `json:"summary_depth,omitempty"`
}

// Predict submits a document for analysis
// @Summary Submit document
// @Description Charge the wallet and queue a risk analysis. Accepts JSON or a multipart plain-text upload in the "file" field.
// @Tags Analysis
// @Accept json,mpfd
// @Produce json
// @Security BearerAuth
// @Param request body PredictRequest true "Document to analyse"
// @Success 202 {object} services.Submission
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /predict [post]
func (h *JobHandler) Predict(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}

	var req PredictRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		if req, err = readUpload(w, r); err != nil {
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.billing.Submit(r.Context(), services.SubmitRequest{
		OwnerID:      ownerID,
		Filename:     req.Filename,
		Text:         req.Text,
		UnitCount:    req.UnitCount,
		Language:     req.Language,
		ModelName:    req.Model,
		SummaryDepth: models.SummaryDepth(strings.ToUpper(string(req.SummaryDepth))),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func readUpload(w http.ResponseWriter, r *http.Request) (PredictRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return PredictRequest{}, fmt.Errorf("invalid upload: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return PredictRequest{}, fmt.Errorf("missing file")
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return PredictRequest{}, fmt.Errorf("read upload: %v", err)
	}
	if !utf8.Valid(raw) {
		return PredictRequest{}, fmt.Errorf("only plain-text documents are accepted")
	}

	units, _ := strconv.Atoi(r.FormValue("unit_count"))
	return PredictRequest{
		Filename:     header.Filename,
		Text:         string(raw),
		UnitCount:    units,
		Language:     r.FormValue("language"),
		Model:        r.FormValue("model"),
		SummaryDepth: models.SummaryDepth(r.FormValue("summary_depth")),
	}, nil
}

// GetJob returns a job and, once it is done, its risk clauses
// @Summary Get job
// @Tags Analysis
// @Produce json
// @Security BearerAuth
// @Param jobId path int true "Job ID"
// @Success 200 {object} models.Job
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /jobs/{jobId} [get]
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}

	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobId"), 10, 64)
	if err != nil || jobID <= 0 {
		services.SendErrorResponse(w, "Invalid job id", http.StatusBadRequest, nil)
		return
	}

	job, err := h.billing.JobForOwner(r.Context(), ownerID, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// History lists the caller's jobs, newest first, with the risk clauses of finished ones
// @Summary Job history
// @Tags Analysis
// @Produce json
// @Security BearerAuth
// @Param skip query int false "Offset"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} Page[models.Job]
// @Router /history [get]
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}
	skip, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jobs, total, err := h.billing.History(r.Context(), ownerID, skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[models.Job]{Items: jobs, Total: total, Skip: skip, Limit: limit})
}

// Documents lists the caller's uploaded documents
// @Summary Documents
// @Tags Analysis
// @Produce json
// @Security BearerAuth
// @Param skip query int false "Offset"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} Page[models.Document]
// @Router /documents [get]
func (h *JobHandler) Documents(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}
	skip, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	docs, err := h.jobs.ListDocuments(r.Context(), ownerID, skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := h.jobs.CountDocuments(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Page[models.Document]{Items: docs, Total: total, Skip: skip, Limit: limit})
}

// GetDocument returns one of the caller's documents
// @Summary Get document
// @Tags Analysis
// @Produce json
// @Security BearerAuth
// @Param documentId path int true "Document ID"
// @Success 200 {object} models.Document
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /documents/{documentId} [get]
func (h *JobHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return
	}

	documentID, err := strconv.ParseInt(chi.URLParam(r, "documentId"), 10, 64)
	if err != nil || documentID <= 0 {
		services.SendErrorResponse(w, "Invalid document id", http.StatusBadRequest, nil)
		return
	}

	doc, err := h.billing.DocumentForOwner(r.Context(), ownerID, documentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Models lists the models that accept submissions
// @Summary Active models
// @Tags Analysis
// @Produce json
// @Success 200 {array} models.Model
// @Router /models [get]
func (h *JobHandler) Models(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListActiveModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
