package service

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// enrich pads rows missing a required field. Fetches run concurrently and all
// complete before the rows are returned; padded rows are merged in place and
// written back to the store.
func (s *SyncService) enrich(ctx context.Context, st store.Store, desc QueryDescriptor, rows []model.Entity) ([]model.Entity, error) {
	if desc.Padding == nil || len(desc.Required) == 0 {
		return rows, nil
	}

	pk, _ := s.index.PrimaryKey(desc.Table)
	padded := make([]model.Entity, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	for i, row := range rows {
		if !row.Missing(desc.Required) {
			continue
		}
		id, ok := row.ID(pk)
		if !ok {
			continue
		}

		i := i
		g.Go(func() error {
			e, err := desc.Padding(gctx, id)
			if err != nil {
				s.metrics.RecordPadding(desc.Table, "failed")
				return fmt.Errorf("failed to pad %s %s: %w", desc.Table, id, err)
			}
			if e == nil {
				s.metrics.RecordPadding(desc.Table, "empty")
				return nil
			}
			s.metrics.RecordPadding(desc.Table, "success")
			padded[i] = e
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("Result padding failed",
			zap.String("table", desc.Table),
			zap.Error(err))
		return nil, err
	}

	var writes []model.Entity
	for i, p := range padded {
		if p == nil {
			continue
		}
		rows[i].Merge(p)
		writes = append(writes, rows[i].Clone())
	}

	if len(writes) > 0 {
		if _, err := st.Upsert(context.WithoutCancel(ctx), desc.Table, writes...); err != nil {
			return nil, fmt.Errorf("failed to store padded %s rows: %w", desc.Table, err)
		}
		s.logger.Debug("Padded partial rows",
			zap.String("table", desc.Table),
			zap.Int("count", len(writes)))
	}

	return rows, nil
}
