package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mofadvisor/internal/config"
	appdb "github.com/xxxsen/mofadvisor/internal/db"
	"github.com/xxxsen/mofadvisor/internal/model"
	"github.com/xxxsen/mofadvisor/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
)

const (
	tableDocuments = "indexed_documents"
	tableEntries   = "index_entries"
)

var documentFields = []string{"document_id", "fingerprint", "records", "ingested_at"}

type postgresIndex struct {
	db *sqlx.DB
}

type documentRow struct {
	DocumentID  string `db:"document_id"`
	Fingerprint string `db:"fingerprint"`
	Records     int    `db:"records"`
	IngestedAt  int64  `db:"ingested_at"`
}

type entryRow struct {
	DocumentID  string          `db:"document_id"`
	Ordinal     int             `db:"ordinal"`
	Fingerprint string          `db:"fingerprint"`
	Record      []byte          `db:"record"`
	Embedding   pgvector.Vector `db:"embedding"`
	IngestedAt  int64           `db:"ingested_at"`
	Score       float64         `db:"score"`
}

func init() {
	Register("postgres", createPostgresIndex)
}

func createPostgresIndex(args interface{}) (Index, error) {
	cfg := config.DatabaseConfig{}
	if err := decodeConfig(args, &cfg); err != nil {
		return nil, err
	}
	sqlDB, err := appdb.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := appdb.ApplyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return NewPostgres(sqlDB), nil
}

// NewPostgres uses an already migrated database. Scores are 1 - cosine distance.
func NewPostgres(sqlDB *sql.DB) Index {
	return &postgresIndex{db: sqlx.NewDb(sqlDB, "postgres")}
}

func (p *postgresIndex) Upsert(ctx context.Context, doc model.IndexedDocument, entries []model.IndexEntry) error {
	if err := validateUpsert(doc, entries); err != nil {
		return err
	}
	return pgError("upsert", p.replace(ctx, doc, entries))
}

func (p *postgresIndex) replace(ctx context.Context, doc model.IndexedDocument, entries []model.IndexEntry) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	sqlStr, args, err := builder.BuildDelete(tableDocuments, map[string]interface{}{"document_id": doc.DocumentID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}

	sqlStr, args, err = builder.BuildInsert(tableDocuments, []map[string]interface{}{{
		"document_id": doc.DocumentID,
		"fingerprint": doc.Fingerprint,
		"records":     len(entries),
		"ingested_at": doc.IngestedAt,
	}})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}

	if len(entries) > 0 {
		rows := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			record, err := json.Marshal(e.Record)
			if err != nil {
				return err
			}
			rows = append(rows, map[string]interface{}{
				"document_id":    e.DocumentID,
				"ordinal":        e.Ordinal,
				"fingerprint":    e.Fingerprint,
				"metal_site":     e.Record.MetalSite,
				"organic_linker": e.Record.OrganicLinker,
				"record":         string(record),
				"embedding":      pgvector.NewVector(e.Embedding),
				"ingested_at":    e.IngestedAt,
			})
		}
		sqlStr, args, err = builder.BuildInsert(tableEntries, rows)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *postgresIndex) Delete(ctx context.Context, documentID string) error {
	sqlStr, args, err := builder.BuildDelete(tableDocuments, map[string]interface{}{"document_id": documentID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = p.db.ExecContext(ctx, sqlStr, args...)
	return pgError("delete", err)
}

func (p *postgresIndex) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "TRUNCATE "+tableEntries+", "+tableDocuments)
	return pgError("clear", err)
}

func (p *postgresIndex) Get(ctx context.Context, documentID string) (*model.IndexedDocument, bool, error) {
	sqlStr, args, err := builder.BuildSelect(tableDocuments, map[string]interface{}{"document_id": documentID}, documentFields)
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var row documentRow
	if err := p.db.GetContext(ctx, &row, sqlStr, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, pgError("get", err)
	}
	doc := row.toModel()
	return &doc, true, nil
}

func (p *postgresIndex) Documents(ctx context.Context) ([]model.IndexedDocument, error) {
	sqlStr, args, err := builder.BuildSelect(tableDocuments, map[string]interface{}{"_orderby": "document_id asc"}, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var rows []documentRow
	if err := p.db.SelectContext(ctx, &rows, sqlStr, args...); err != nil {
		return nil, pgError("list documents", err)
	}
	out := make([]model.IndexedDocument, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (p *postgresIndex) Entries(ctx context.Context, documentID string) ([]model.IndexEntry, error) {
	sqlStr, args, err := builder.BuildSelect(tableEntries, map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "ordinal asc",
	}, []string{"document_id", "ordinal", "fingerprint", "record", "embedding", "ingested_at"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var rows []entryRow
	if err := p.db.SelectContext(ctx, &rows, sqlStr, args...); err != nil {
		return nil, pgError("list entries", err)
	}
	out := make([]model.IndexEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *postgresIndex) Query(ctx context.Context, vector []float32, k int) ([]model.ScoredEntry, error) {
	if k <= 0 {
		return nil, nil
	}
	const query = `
		SELECT document_id, ordinal, fingerprint, record, embedding, ingested_at,
			1 - (embedding <=> $1) AS score
		FROM index_entries
		WHERE vector_dims(embedding) = $2
		ORDER BY embedding <=> $1, ingested_at DESC, document_id, ordinal
		LIMIT $3
	`
	var rows []entryRow
	if err := p.db.SelectContext(ctx, &rows, query, pgvector.NewVector(vector), len(vector), k); err != nil {
		return nil, pgError("query", err)
	}
	out := make([]model.ScoredEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, model.ScoredEntry{Entry: e, Score: row.Score})
	}
	Rank(out)
	return out, nil
}

// pgError marks connection-level failures as ErrIndexUnavailable so callers
// can tell an outage from a bad statement.
func pgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if dbutil.IsUnavailable(err) {
		return fmt.Errorf("postgres %s: %w: %w", op, appErr.ErrIndexUnavailable, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

func (p *postgresIndex) Close() error {
	return p.db.Close()
}

func (r documentRow) toModel() model.IndexedDocument {
	return model.IndexedDocument{
		DocumentID:  r.DocumentID,
		Fingerprint: r.Fingerprint,
		Records:     r.Records,
		IngestedAt:  r.IngestedAt,
	}
}

func (r entryRow) toModel() (model.IndexEntry, error) {
	e := model.IndexEntry{
		DocumentID:  r.DocumentID,
		Ordinal:     r.Ordinal,
		Fingerprint: r.Fingerprint,
		Embedding:   r.Embedding.Slice(),
		IngestedAt:  r.IngestedAt,
	}
	if err := json.Unmarshal(r.Record, &e.Record); err != nil {
		return e, fmt.Errorf("decode record %s/%d: %w", r.DocumentID, r.Ordinal, err)
	}
	return e, nil
}
