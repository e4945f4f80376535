package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mofadvisor/internal/model"
	"github.com/xxxsen/mofadvisor/internal/pkg/dbutil"
)

const tableEmbeddingCache = "embedding_cache"

// EmbeddingCacheRepo persists vectors keyed by model, task type and content
// hash. It backs the db embedding cache and its cleanup job.
type EmbeddingCacheRepo struct {
	db *sqlx.DB
}

type embeddingCacheRow struct {
	Embedding pgvector.Vector `db:"embedding"`
	Ctime     int64           `db:"ctime"`
}

func NewEmbeddingCacheRepo(conn *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: sqlx.NewDb(conn, "postgres")}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	where := map[string]interface{}{
		"model_name":   modelName,
		"task_type":    taskType,
		"content_hash": contentHash,
	}
	sqlStr, args, err := builder.BuildSelect(tableEmbeddingCache, where, []string{"embedding", "ctime"})
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var row embeddingCacheRow
	if err := r.db.GetContext(ctx, &row, sqlStr, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row.Embedding.Slice(), true, nil
}

// Save overwrites an existing vector for the same key.
func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ModelName,
		item.TaskType,
		item.ContentHash,
		pgvector.NewVector(item.Embedding),
		item.Ctime,
	)
	return err
}

// DeleteBefore drops rows whose ctime (unix seconds) is older than cutoff.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete(tableEmbeddingCache, map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
