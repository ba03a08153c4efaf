package audit

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ledger/pkg/observability"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// CensorshipService redacts previously recorded values of an item
type CensorshipService struct {
	sink     Sink
	rotation *RotationManager
	log      *logrus.Logger
	metrics  *observability.Metrics
}

// NewCensorshipService creates a censorship service. rotation may be nil, in
// which case file sinks are asked for their own rotation manager.
func NewCensorshipService(sink Sink, rotation *RotationManager, logger *logrus.Logger, metrics *observability.Metrics) *CensorshipService {
	if rotation == nil {
		if fs, ok := sink.(FileSink); ok {
			rotation = fs.Rotation()
		}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CensorshipService{sink: sink, rotation: rotation, log: logger, metrics: metrics}
}

// Censor redacts fieldNames in every record of itemID and returns the ids of
// the records it touched, in first-seen order. Running it twice yields the
// same ids and leaves the files unchanged.
func (c *CensorshipService) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	fieldNames = lo.Compact(fieldNames)
	if len(fieldNames) == 0 {
		return nil, fmt.Errorf("no fields to censor: %w", sentinel.ErrArgument)
	}
	if itemID == "" {
		return nil, fmt.Errorf("item id is required: %w", sentinel.ErrArgument)
	}

	var ids []string
	var err error
	if censor, ok := c.sink.(FileCensor); ok && c.rotation != nil {
		ids, err = censorFiles(ctx, c.rotation, censor, fieldNames, itemID)
	} else {
		ids, err = c.sink.Censor(ctx, fieldNames, itemID)
		ids = lo.Uniq(ids)
	}
	if err != nil {
		return nil, err
	}

	c.metrics.RecordCensored(len(ids))
	c.log.WithFields(logrus.Fields{
		"item_id": itemID,
		"fields":  fieldNames,
		"records": len(ids),
	}).Info("censored audit records")

	return ids, nil
}
