package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mofadvisor/internal/pkg/response"
)

// Properties describes the running deployment to clients.
type Properties struct {
	IndexType       string  `json:"index_type"`
	SourceType      string  `json:"source_type"`
	TopK            int     `json:"top_k"`
	Threshold       float64 `json:"threshold"`
	EmbeddingModel  string  `json:"embedding_model"`
	MaxUploadSizeMB int64   `json:"max_upload_size_mb"`
}

type PropertiesHandler struct {
	properties Properties
}

func NewPropertiesHandler(properties Properties) *PropertiesHandler {
	return &PropertiesHandler{properties: properties}
}

func (h *PropertiesHandler) Get(c *gin.Context) {
	response.Success(c, gin.H{"properties": h.properties})
}
