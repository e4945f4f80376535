package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/xxxsen/mofadvisor/internal/config"
	"github.com/xxxsen/mofadvisor/internal/model"
	apperrors "github.com/xxxsen/mofadvisor/internal/pkg/errors"
)

// Source is the add-only document collection ingestion reads from.
// List returns metadata only; Load reads content and computes the fingerprint.
type Source interface {
	Type() string
	List(ctx context.Context) ([]model.Document, error)
	Load(ctx context.Context, id string) (*model.Document, error)
	Save(ctx context.Context, name string, content []byte) (*model.Document, error)
}

type Factory func(args interface{}) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.SourceConfig) (Source, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("source.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

// Fingerprint is the sha256 hex digest of the document content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

var supportedExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// IsSupported reports whether name has an extension the extractor understands.
func IsSupported(name string) bool {
	return supportedExts[strings.ToLower(path.Ext(name))]
}

// ValidateName checks an upload file name. Only plain base names are accepted.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewValidationError("file", "name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return apperrors.NewValidationError("file", "invalid file name")
	}
	if !IsSupported(name) {
		return apperrors.NewValidationError("file", "unsupported file type, expected .md, .markdown or .txt")
	}
	return nil
}

func newDocument(id string, content []byte, mtime int64) *model.Document {
	return &model.Document{
		ID:          id,
		Content:     string(content),
		Fingerprint: Fingerprint(content),
		Mtime:       mtime,
		Size:        int64(len(content)),
	}
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("source config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode source config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode source config: %w", err)
	}
	return nil
}
