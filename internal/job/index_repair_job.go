package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/service"
)

type DocumentRepairer interface {
	RepairAll(ctx context.Context) (*service.RepairSummary, error)
}

// IndexRepairJob backfills chunks of partially indexed documents.
type IndexRepairJob struct {
	docs DocumentRepairer
}

func NewIndexRepairJob(docs DocumentRepairer) *IndexRepairJob {
	return &IndexRepairJob{docs: docs}
}

func (j *IndexRepairJob) Name() string {
	return "index_repair"
}

func (j *IndexRepairJob) Run(ctx context.Context) error {
	summary, err := j.docs.RepairAll(ctx)
	if summary != nil {
		logutil.GetLogger(ctx).Info("index repair pass done",
			zap.Int("scanned", summary.Scanned),
			zap.Int("repaired", summary.Repaired),
			zap.Int("failed", summary.Failed))
	}
	return err
}
