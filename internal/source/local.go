package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxxsen/mofadvisor/internal/model"
	apperrors "github.com/xxxsen/mofadvisor/internal/pkg/errors"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localSource struct {
	dir string
}

func init() {
	Register("local", createLocalSource)
}

func createLocalSource(args interface{}) (Source, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local source dir is required")
	}
	return NewLocal(config.Dir), nil
}

// NewLocal serves documents under dir. Ids are slash separated paths relative to dir.
func NewLocal(dir string) Source {
	return &localSource{dir: dir}
}

func (s *localSource) Type() string {
	return "local"
}

func (s *localSource) List(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != s.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !IsSupported(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		docs = append(docs, model.Document{
			ID:    filepath.ToSlash(rel),
			Mtime: info.ModTime().Unix(),
			Size:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list local source: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *localSource) Load(ctx context.Context, id string) (*model.Document, error) {
	full, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return newDocument(id, content, info.ModTime().Unix()), nil
}

// Save writes content to a temp file and renames it into place so List never
// observes a partially written document.
func (s *localSource) Save(ctx context.Context, name string, content []byte) (*model.Document, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	full := filepath.Join(s.dir, name)
	if err := os.Rename(tmpName, full); err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return newDocument(name, content, info.ModTime().Unix()), nil
}

func (s *localSource) resolve(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if id == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperrors.NewValidationError("document_id", "invalid document id")
	}
	return filepath.Join(s.dir, clean), nil
}
