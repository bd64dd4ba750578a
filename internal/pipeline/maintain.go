package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/categorize"
	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/internal/storage"
)

// Recategorize recomputes keyword tags for every stored record, keeping cluster tags,
// and returns how many records changed. Run it after editing the rules.
func (p *Pipeline) Recategorize(ctx context.Context) (int, error) {
	var changed []*models.Record
	err := p.eachPage(ctx, storage.ListOptions{}, func(records []*models.Record) error {
		for _, r := range records {
			if !p.categorizer.Retag(r) {
				continue
			}
			if err := p.store.UpdateCategories(ctx, r.ID, r.Categories); err != nil {
				return fmt.Errorf("update %s: %w", r.ID, err)
			}
			changed = append(changed, r)
		}
		return nil
	})
	if err != nil {
		return len(changed), err
	}
	p.reindex(ctx, changed)
	p.logger.Info("recategorize finished", zap.Int("changed", len(changed)))
	return len(changed), nil
}

// ClusterRequest selects the batch Cluster runs over.
type ClusterRequest struct {
	ModelID string
	// Limit caps the batch; zero clusters every matching record.
	Limit          int
	MinClusterSize int
	// Save folds the cluster labels into the stored categories.
	Save bool
}

// ClusterReport is the outcome of one Cluster call. Labels and IDs are parallel.
type ClusterReport struct {
	IDs        []string                  `json:"ids"`
	Assignment *models.ClusterAssignment `json:"assignment"`
	Clusters   int                       `json:"clusters"`
	Noise      int                       `json:"noise"`
	Saved      int                       `json:"saved"`
}

// Cluster groups stored prompts by embedding similarity. Clustering never fails; a
// degraded run labels everything as noise and says so in Assignment.Method.
func (p *Pipeline) Cluster(ctx context.Context, req ClusterRequest) (*ClusterReport, error) {
	var batch []*models.Record
	err := p.eachPage(ctx, storage.ListOptions{ModelID: req.ModelID}, func(records []*models.Record) error {
		for _, r := range records {
			if req.Limit > 0 && len(batch) >= req.Limit {
				return errBatchFull
			}
			batch = append(batch, r)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return nil, err
	}

	prompts := make([]string, len(batch))
	ids := make([]string, len(batch))
	for i, r := range batch {
		prompts[i] = r.PromptText
		ids[i] = r.ID
	}
	a := p.categorizer.ClusterBatch(ctx, prompts, req.MinClusterSize)
	rep := &ClusterReport{IDs: ids, Assignment: a}
	seen := map[int]struct{}{}
	for _, l := range a.Labels {
		if l == models.NoiseLabel {
			rep.Noise++
			continue
		}
		seen[l] = struct{}{}
	}
	rep.Clusters = len(seen)

	if req.Save && len(batch) > 0 {
		if err := categorize.FoldClusterLabels(batch, a); err != nil {
			return rep, err
		}
		for _, r := range batch {
			if err := p.store.UpdateCategories(ctx, r.ID, r.Categories); err != nil {
				return rep, fmt.Errorf("update %s: %w", r.ID, err)
			}
			rep.Saved++
		}
		p.reindex(ctx, batch)
	}
	p.logger.Info("cluster finished",
		zap.String("method", a.Method),
		zap.Int("records", len(batch)),
		zap.Int("clusters", rep.Clusters),
		zap.Int("noise", rep.Noise),
		zap.Int("saved", rep.Saved))
	return rep, nil
}

var errBatchFull = errors.New("batch full")

func (p *Pipeline) reindex(ctx context.Context, records []*models.Record) {
	if p.index == nil || len(records) == 0 {
		return
	}
	if err := p.index.IndexRecords(ctx, records); err != nil {
		p.logger.Warn("prompt index update failed", zap.Error(err))
	}
}
