package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mofadvisor/internal/model"
	"github.com/xxxsen/mofadvisor/internal/pkg/errcode"
	"github.com/xxxsen/mofadvisor/internal/pkg/response"
	"github.com/xxxsen/mofadvisor/internal/service"
)

type ingester interface {
	IngestSource(ctx context.Context, force bool) (*model.IngestReport, error)
	Upload(ctx context.Context, files []service.UploadFile, force bool) (*model.IngestReport, error)
	Status(ctx context.Context) (*model.IngestStatus, error)
	Documents(ctx context.Context) ([]model.IndexedDocument, error)
	Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error)
}

type IngestHandler struct {
	ingest        ingester
	maxUploadSize int64
}

// NewIngestHandler limits each uploaded file to maxUploadSize bytes; a whole
// batch may carry at most maxBatchFiles of them.
func NewIngestHandler(ingest ingester, maxUploadSize int64) *IngestHandler {
	return &IngestHandler{ingest: ingest, maxUploadSize: maxUploadSize}
}

const maxBatchFiles = 50

type ingestRunRequest struct {
	Force bool `json:"force"`
}

func (h *IngestHandler) Run(c *gin.Context) {
	var req ingestRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	report, err := h.ingest.IngestSource(c.Request.Context(), req.Force)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

// Upload accepts one "file" or several "files" parts.
func (h *IngestHandler) Upload(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize*maxBatchFiles+(1<<20))
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, errcode.ErrUploadTooLarge, "upload too large")
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	headers := append(append([]*multipart.FileHeader{}, form.File["file"]...), form.File["files"]...)
	if len(headers) == 0 {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if len(headers) > maxBatchFiles {
		response.Error(c, errcode.ErrInvalidFile, "too many files (max "+strconv.Itoa(maxBatchFiles)+")")
		return
	}
	force, err := parseForce(c.PostForm("force"))
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid force")
		return
	}
	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		if h.maxUploadSize > 0 && fh.Size > h.maxUploadSize {
			response.Error(c, errcode.ErrUploadTooLarge, fh.Filename+" too large (max "+formatSize(h.maxUploadSize)+")")
			return
		}
		content, err := readFormFile(fh)
		if err != nil {
			response.Error(c, errcode.ErrInvalidFile, "failed to read file")
			return
		}
		files = append(files, service.UploadFile{Name: fh.Filename, Content: content})
	}
	report, err := h.ingest.Upload(c.Request.Context(), files, force)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

func (h *IngestHandler) Status(c *gin.Context) {
	status, err := h.ingest.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *IngestHandler) Documents(c *gin.Context) {
	docs, err := h.ingest.Documents(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs})
}

func (h *IngestHandler) Entries(c *gin.Context) {
	id := strings.TrimSpace(c.Query("document_id"))
	if id == "" {
		response.Error(c, errcode.ErrInvalid, "document_id required")
		return
	}
	entries, err := h.ingest.Entries(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	for i := range entries {
		entries[i].Embedding = nil
	}
	response.Success(c, gin.H{"document_id": id, "entries": entries})
}

func parseForce(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case bytes >= mb:
		return strconv.FormatInt(bytes/mb, 10) + "MB"
	case bytes >= kb:
		return strconv.FormatInt(bytes/kb, 10) + "KB"
	default:
		return strconv.FormatInt(bytes, 10) + "B"
	}
}
