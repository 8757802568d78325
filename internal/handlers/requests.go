package handlers

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"

	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/services"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
)

// DefaultMaxFileBytes caps a single uploaded document.
const DefaultMaxFileBytes int64 = 10 << 20

// maxUploadFiles bounds how many files one multipart submission may carry.
const maxUploadFiles = 16

type RequestHandler struct {
	requests     *services.CreditRequestService
	reviews      *services.ReviewService
	maxFileBytes int64
}

func NewRequestHandler(requests *services.CreditRequestService, reviews *services.ReviewService, maxFileBytes int64) *RequestHandler {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &RequestHandler{requests: requests, reviews: reviews, maxFileBytes: maxFileBytes}
}

// requestDTO renders a request with its documents grouped by slot.
type requestDTO struct {
	*models.CreditRequest
	Tags           []string              `json:"tags,omitempty"`
	ProofDocuments models.ProofDocuments `json:"proofDocuments"`
}

func mapRequest(req *models.CreditRequest) requestDTO {
	return requestDTO{
		CreditRequest:  req,
		Tags:           req.TagList(),
		ProofDocuments: models.BuildProofDocuments(req.Documents),
	}
}

func mapRequests(reqs []models.CreditRequest) []requestDTO {
	out := make([]requestDTO, 0, len(reqs))
	for i := range reqs {
		out = append(out, mapRequest(&reqs[i]))
	}
	return out
}

type documentPayload struct {
	Slot         string `json:"slot" validate:"required,document_slot"`
	FileName     string `json:"fileName" validate:"required,max=255"`
	MimeType     string `json:"mimeType"`
	DocumentType string `json:"documentType"`
	Content      []byte `json:"content" validate:"required"`
}

// createRequestPayload accepts both the JSON body and the multipart form. In
// multipart submissions plantLocation and energySourceDetails arrive as JSON
// encoded fields and documents as files named by slot.
type createRequestPayload struct {
	CertifierID         string                     `json:"certifierId" form:"certifierId" validate:"required"`
	BatchID             string                     `json:"batchId" form:"batchId" validate:"required,max=128"`
	HydrogenProduced    float64                    `json:"hydrogenProduced" form:"hydrogenProduced" validate:"gte=0"`
	EnergySource        string                     `json:"energySource" form:"energySource" validate:"required,energy_source"`
	StartDate           string                     `json:"startDate" form:"startDate" validate:"required"`
	EndDate             string                     `json:"endDate" form:"endDate" validate:"required"`
	PlantLocation       models.PlantLocation       `json:"plantLocation" form:"-"`
	EnergySourceDetails models.EnergySourceDetails `json:"energySourceDetails" form:"-"`
	Notes               string                     `json:"notes" form:"notes"`
	Tags                []string                   `json:"tags" form:"tags"`
	Documents           []documentPayload          `json:"documents" form:"-" validate:"dive"`
}

func (p createRequestPayload) toInput() (services.CreateRequestInput, error) {
	start, err := parseDate("startDate", p.StartDate)
	if err != nil {
		return services.CreateRequestInput{}, err
	}
	end, err := parseDate("endDate", p.EndDate)
	if err != nil {
		return services.CreateRequestInput{}, err
	}

	docs := make([]services.DocumentInput, 0, len(p.Documents))
	for _, d := range p.Documents {
		docs = append(docs, services.DocumentInput{
			Slot:         models.DocumentSlot(d.Slot),
			FileName:     d.FileName,
			MediaType:    d.MimeType,
			DocumentType: d.DocumentType,
			Content:      d.Content,
		})
	}

	return services.CreateRequestInput{
		CertifierID: strings.TrimSpace(p.CertifierID),
		Data: models.RequestData{
			BatchID:             strings.TrimSpace(p.BatchID),
			HydrogenProduced:    p.HydrogenProduced,
			EnergySource:        models.EnergySource(p.EnergySource),
			ProductionPeriod:    models.ProductionPeriod{StartDate: start, EndDate: end},
			PlantLocation:       p.PlantLocation,
			EnergySourceDetails: p.EnergySourceDetails,
		},
		Notes:     p.Notes,
		Tags:      p.Tags,
		Documents: docs,
	}, nil
}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, appErrors.Validation("%s must be an ISO-8601 date", field)
}

type approvePayload struct {
	Notes            string                  `json:"notes" validate:"max=4000"`
	ComplianceChecks models.ComplianceChecks `json:"complianceChecks"`
	CreditAmount     decimal.Decimal         `json:"creditAmount" validate:"decimal_positive"`
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"required,max=2000"`
	Notes  string `json:"notes" validate:"max=4000"`
}

// POST /api/requests
func (h *RequestHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	var payload createRequestPayload
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if !h.bindMultipart(c, &payload) {
			return
		}
	} else if !bindAndValidate(c, &payload) {
		return
	}

	input, err := payload.toInput()
	if err != nil {
		response.Error(c, err)
		return
	}
	for _, doc := range input.Documents {
		if int64(len(doc.Content)) > h.maxFileBytes {
			response.Error(c, appErrors.Validation("%s exceeds the %d byte upload limit", doc.FileName, h.maxFileBytes))
			return
		}
	}

	req, err := h.requests.Create(requestContext(c), a, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, mapRequest(req))
}

func (h *RequestHandler) bindMultipart(c *gin.Context, payload *createRequestPayload) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileBytes*maxUploadFiles+1<<20)
	if err := c.ShouldBindWith(payload, binding.FormMultipart); err != nil {
		response.Error(c, appErrors.Validation("invalid multipart form").WithInternal(err))
		return false
	}

	for field, dest := range map[string]any{
		"plantLocation":       &payload.PlantLocation,
		"energySourceDetails": &payload.EnergySourceDetails,
	} {
		raw := strings.TrimSpace(c.PostForm(field))
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dest); err != nil {
			response.Error(c, appErrors.Validation("%s must be a JSON object", field).WithInternal(err))
			return false
		}
	}

	form := c.Request.MultipartForm
	if form != nil {
		total := 0
		for field, files := range form.File {
			if !models.DocumentSlot(field).Valid() {
				response.Error(c, appErrors.Validation("unexpected file field %q", field))
				return false
			}
			total += len(files)
		}
		if total > maxUploadFiles {
			response.Error(c, appErrors.Validation("at most %d files may be uploaded at once", maxUploadFiles))
			return false
		}
		for _, slot := range models.DocumentSlots {
			for _, fh := range form.File[string(slot)] {
				doc, err := h.readUpload(slot, fh)
				if err != nil {
					response.Error(c, err)
					return false
				}
				payload.Documents = append(payload.Documents, doc)
			}
		}
	}

	return validatePayload(c, payload)
}

// readUpload loads a multipart file into a document payload, enforcing the size cap.
func (h *RequestHandler) readUpload(slot models.DocumentSlot, fh *multipart.FileHeader) (documentPayload, error) {
	if fh.Size > h.maxFileBytes {
		return documentPayload{}, appErrors.Validation("%s exceeds the %d byte upload limit", fh.Filename, h.maxFileBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return documentPayload{}, appErrors.Validation("unreadable upload %s", fh.Filename).WithInternal(err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.maxFileBytes+1))
	if err != nil {
		return documentPayload{}, appErrors.Validation("unreadable upload %s", fh.Filename).WithInternal(err)
	}
	if int64(len(content)) > h.maxFileBytes {
		return documentPayload{}, appErrors.Validation("%s exceeds the %d byte upload limit", fh.Filename, h.maxFileBytes)
	}

	documentType := ""
	if slot == models.SlotCertificationDocs {
		documentType = "certification"
	}
	return documentPayload{
		Slot:         string(slot),
		FileName:     fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		DocumentType: documentType,
		Content:      content,
	}, nil
}

// GET /api/requests
func (h *RequestHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	page, per := pagination(c)

	filters := services.RequestFilters{
		Status:      models.RequestStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		ProducerID:  c.Query("producer_id"),
		CertifierID: c.Query("certifier_id"),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		response.Error(c, appErrors.Validation("status %q is not recognised", filters.Status))
		return
	}

	reqs, total, err := h.requests.List(requestContext(c), a, services.RequestListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, mapRequests(reqs), pageMeta(page, per, total))
}

// GET /api/requests/pending
func (h *RequestHandler) Pending(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	page, per := pagination(c)

	reqs, total, err := h.requests.Pending(requestContext(c), a, page, per)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, mapRequests(reqs), pageMeta(page, per, total))
}

// GET /api/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	req, err := h.requests.Get(requestContext(c), a, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapRequest(req))
}

// GET /api/requests/:id/verify
func (h *RequestHandler) Verify(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	result, err := h.requests.Verify(requestContext(c), a, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/requests/:id/documents/:slot
func (h *RequestHandler) UploadDocument(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	slot := models.DocumentSlot(c.Param("slot"))
	if !slot.Valid() {
		response.Error(c, appErrors.Validation("document slot %q is not recognised", slot))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Validation("file is required").WithInternal(err))
		return
	}
	upload, err := h.readUpload(slot, fh)
	if err != nil {
		response.Error(c, err)
		return
	}
	if documentType := strings.TrimSpace(c.PostForm("documentType")); documentType != "" {
		upload.DocumentType = documentType
	}

	doc, err := h.requests.AttachDocument(requestContext(c), a, c.Param("id"), services.DocumentInput{
		Slot:         slot,
		FileName:     upload.FileName,
		MediaType:    upload.MimeType,
		DocumentType: upload.DocumentType,
		Content:      upload.Content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, doc)
}

// POST /api/requests/:id/approve
func (h *RequestHandler) Approve(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var payload approvePayload
	if !bindAndValidate(c, &payload) {
		return
	}

	req, err := h.reviews.Approve(requestContext(c), a, c.Param("id"), services.ApproveInput{
		Notes:            payload.Notes,
		ComplianceChecks: payload.ComplianceChecks,
		CreditAmount:     payload.CreditAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapRequest(req))
}

// POST /api/requests/:id/reject
func (h *RequestHandler) Reject(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var payload rejectPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	req, err := h.reviews.Reject(requestContext(c), a, c.Param("id"), services.RejectInput{
		Reason: payload.Reason,
		Notes:  payload.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapRequest(req))
}
