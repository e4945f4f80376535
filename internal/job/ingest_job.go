package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/model"
)

type sourceIngester interface {
	IngestSource(ctx context.Context, force bool) (*model.IngestReport, error)
}

// IngestJob picks up new and changed documents from the source. It never forces
// a rebuild.
type IngestJob struct {
	ingest sourceIngester
}

func NewIngestJob(ingest sourceIngester) *IngestJob {
	return &IngestJob{ingest: ingest}
}

func (j *IngestJob) Name() string {
	return "incremental_ingest"
}

func (j *IngestJob) Run(ctx context.Context) error {
	report, err := j.ingest.IngestSource(ctx, false)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		logutil.GetLogger(ctx).Warn("scheduled ingestion had failures",
			zap.String("run_id", report.RunID),
			zap.Int("failed", report.Failed),
		)
	}
	return nil
}
