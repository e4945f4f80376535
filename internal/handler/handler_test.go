package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/handler"
	"github.com/xxxsen/mofadvisor/internal/middleware"
	"github.com/xxxsen/mofadvisor/internal/model"
	"github.com/xxxsen/mofadvisor/internal/pkg/errcode"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
	"github.com/xxxsen/mofadvisor/internal/service"
)

type fakeSuggester struct {
	err      error
	metal    string
	linker   string
	response *model.SuggestionResult
}

func (f *fakeSuggester) Suggest(ctx context.Context, metalSite, linker string) (*model.SuggestionResult, error) {
	f.metal, f.linker = metalSite, linker
	return f.response, f.err
}

type fakeIngester struct {
	force    []bool
	uploaded []service.UploadFile
	err      error
	entries  []model.IndexEntry
}

func (f *fakeIngester) IngestSource(ctx context.Context, force bool) (*model.IngestReport, error) {
	f.force = append(f.force, force)
	if f.err != nil {
		return nil, f.err
	}
	return &model.IngestReport{RunID: "run", Force: force, Processed: 2}, nil
}

func (f *fakeIngester) Upload(ctx context.Context, files []service.UploadFile, force bool) (*model.IngestReport, error) {
	f.uploaded = files
	f.force = append(f.force, force)
	if f.err != nil {
		return nil, f.err
	}
	return &model.IngestReport{RunID: "upload", Force: force, Processed: len(files)}, nil
}

func (f *fakeIngester) Status(ctx context.Context) (*model.IngestStatus, error) {
	return &model.IngestStatus{DocumentsInSource: 3, DocumentsIndexed: 2, Pending: []string{"c.md"}, Indexed: []string{"a.md", "b.md"}}, nil
}

func (f *fakeIngester) Documents(ctx context.Context) ([]model.IndexedDocument, error) {
	return []model.IndexedDocument{{DocumentID: "a.md", Records: 1}}, nil
}

func (f *fakeIngester) Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error) {
	return f.entries, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, s *fakeSuggester, i *fakeIngester) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps := handler.RouterDeps{
		Suggest:    handler.NewSuggestHandler(s),
		Ingest:     handler.NewIngestHandler(i, 1024),
		Properties: handler.NewPropertiesHandler(handler.Properties{IndexType: "memory", TopK: 5, Threshold: 0.55}),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
		),
	)
	require.NoError(t, err)
	return engine
}

func do(t *testing.T, router http.Handler, req *http.Request) envelope {
	t.Helper()
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return env
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSuggestHandler(t *testing.T) {
	s := &fakeSuggester{response: &model.SuggestionResult{
		MetalSite: "copper", OrganicLinker: "btc", Mode: model.ModeRetrieved, Text: "t", Citations: []string{"hkust1.md"},
	}}
	router := setupRouter(t, s, &fakeIngester{})

	env := do(t, router, jsonRequest(http.MethodPost, "/api/v1/suggest", `{"metal_site":"Copper","organic_linker":"BTC"}`))
	require.Equal(t, 0, env.Code)
	require.Equal(t, "Copper", s.metal)
	var result model.SuggestionResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Equal(t, model.ModeRetrieved, result.Mode)
	require.Equal(t, []string{"hkust1.md"}, result.Citations)

	env = do(t, router, jsonRequest(http.MethodPost, "/api/v1/suggest", `{"metal_site":`))
	require.Equal(t, errcode.ErrInvalid, env.Code)
}

func TestSuggestHandlerErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", appErr.NewValidationError("metal_site", "is required"), errcode.ErrInvalid},
		{"provider failure", fmt.Errorf("generate suggestion: %w", ai.ErrProviderFailure), errcode.ErrAIUnavailable},
		{"provider missing", ai.ErrUnavailable, errcode.ErrAIUnavailable},
		{"index down", fmt.Errorf("%w: dial tcp", appErr.ErrIndexUnavailable), errcode.ErrIndexUnavailable},
		{"unknown", fmt.Errorf("boom"), errcode.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(t, &fakeSuggester{err: tt.err}, &fakeIngester{})
			env := do(t, router, jsonRequest(http.MethodPost, "/api/v1/suggest", `{"metal_site":"","organic_linker":"btc"}`))
			require.Equal(t, tt.code, env.Code)
		})
	}
}

func TestIngestRunHandler(t *testing.T) {
	ing := &fakeIngester{}
	router := setupRouter(t, &fakeSuggester{}, ing)

	env := do(t, router, httptest.NewRequest(http.MethodPost, "/api/v1/ingest/run", nil))
	require.Equal(t, 0, env.Code)
	env = do(t, router, jsonRequest(http.MethodPost, "/api/v1/ingest/run", `{"force":true}`))
	require.Equal(t, 0, env.Code)
	require.Equal(t, []bool{false, true}, ing.force)

	var report model.IngestReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.True(t, report.Force)
	require.Equal(t, 2, report.Processed)
}

func multipartRequest(t *testing.T, field string, files map[string]string, force string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	if force != "" {
		require.NoError(t, w.WriteField("force", force))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestIngestUploadHandler(t *testing.T) {
	ing := &fakeIngester{}
	router := setupRouter(t, &fakeSuggester{}, ing)

	env := do(t, router, multipartRequest(t, "file", map[string]string{"cu.md": "# Cu"}, ""))
	require.Equal(t, 0, env.Code)
	require.Len(t, ing.uploaded, 1)
	require.Equal(t, "cu.md", ing.uploaded[0].Name)
	require.Equal(t, []byte("# Cu"), ing.uploaded[0].Content)

	env = do(t, router, multipartRequest(t, "files", map[string]string{"a.md": "a", "b.txt": "b"}, "true"))
	require.Equal(t, 0, env.Code)
	require.Len(t, ing.uploaded, 2)
	require.Equal(t, []bool{false, true}, ing.force)

	env = do(t, router, multipartRequest(t, "file", map[string]string{"big.md": string(make([]byte, 2048))}, ""))
	require.Equal(t, errcode.ErrUploadTooLarge, env.Code)

	env = do(t, router, multipartRequest(t, "other", map[string]string{"x.md": "x"}, ""))
	require.Equal(t, errcode.ErrInvalidFile, env.Code)

	env = do(t, router, multipartRequest(t, "file", map[string]string{"x.md": "x"}, "maybe"))
	require.Equal(t, errcode.ErrInvalid, env.Code)

	ing.err = appErr.NewValidationError("file", "unsupported file type")
	env = do(t, router, multipartRequest(t, "file", map[string]string{"x.pdf": "x"}, ""))
	require.Equal(t, errcode.ErrInvalid, env.Code)
	require.Contains(t, env.Msg, "unsupported file type")
}

func TestIngestInspectionHandlers(t *testing.T) {
	ing := &fakeIngester{entries: []model.IndexEntry{{DocumentID: "a.md", Embedding: []float32{1, 2}}}}
	router := setupRouter(t, &fakeSuggester{}, ing)

	env := do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/status", nil))
	require.Equal(t, 0, env.Code)
	var status model.IngestStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Equal(t, []string{"c.md"}, status.Pending)

	env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/documents", nil))
	require.Equal(t, 0, env.Code)
	require.Contains(t, string(env.Data), `"a.md"`)

	env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/entries?document_id=a.md", nil))
	require.Equal(t, 0, env.Code)
	var entries struct {
		Entries []model.IndexEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries.Entries, 1)
	require.Nil(t, entries.Entries[0].Embedding)

	env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/entries", nil))
	require.Equal(t, errcode.ErrInvalid, env.Code)

	env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/properties", nil))
	require.Equal(t, 0, env.Code)
	require.Contains(t, string(env.Data), `"index_type":"memory"`)
}
