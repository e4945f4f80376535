package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mofadvisor/internal/model"
	"github.com/xxxsen/mofadvisor/internal/pkg/errcode"
	"github.com/xxxsen/mofadvisor/internal/pkg/response"
)

type suggester interface {
	Suggest(ctx context.Context, metalSite, linker string) (*model.SuggestionResult, error)
}

type SuggestHandler struct {
	suggest suggester
}

func NewSuggestHandler(suggest suggester) *SuggestHandler {
	return &SuggestHandler{suggest: suggest}
}

type suggestRequest struct {
	MetalSite     string `json:"metal_site"`
	OrganicLinker string `json:"organic_linker"`
}

func (h *SuggestHandler) Suggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.suggest.Suggest(c.Request.Context(), req.MetalSite, req.OrganicLinker)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
