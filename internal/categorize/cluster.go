package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/models"
)

// densityMinBatch is the smallest batch handed to density clustering; smaller batches
// are partitioned with k-means.
const densityMinBatch = 5

var errNoEmbedder = errors.New("no embedding provider configured")

// ClusterBatch embeds prompts, projects the embeddings to a few dimensions and clusters
// them. minClusterSize <= 0 uses the configured value. Labels are parallel to prompts,
// and Summary has an entry for every label present.
//
// Clustering is advisory: any failure along the way is logged and the whole batch is
// labeled noise. ClusterBatch never returns an error.
func (c *Categorizer) ClusterBatch(ctx context.Context, prompts []string, minClusterSize int) *models.ClusterAssignment {
	if len(prompts) == 0 {
		return &models.ClusterAssignment{Labels: []int{}, Summary: map[int]string{}, Method: models.MethodKMeans}
	}
	if minClusterSize <= 0 {
		minClusterSize = c.cfg.MinClusterSize
	}
	if minClusterSize <= 0 {
		minClusterSize = 1
	}

	labels, method, err := c.clusterLabels(ctx, prompts, minClusterSize)
	if err != nil {
		c.logger.Warn("clustering failed, labeling batch as noise",
			zap.Int("prompts", len(prompts)),
			zap.Error(err))
		return models.NoiseAssignment(len(prompts))
	}
	a := &models.ClusterAssignment{
		Labels:  labels,
		Summary: Summarize(prompts, labels, c.cfg.SummaryWords),
		Method:  method,
	}
	c.logger.Info("clustered prompts",
		zap.Int("prompts", len(prompts)),
		zap.String("method", method),
		zap.Int("clusters", clusterCount(labels)))
	return a
}

// clusterLabels runs the pipeline and converts panics from the numeric code into errors.
func (c *Categorizer) clusterLabels(ctx context.Context, prompts []string, minClusterSize int) (labels []int, method string, err error) {
	defer func() {
		if r := recover(); r != nil {
			labels, method, err = nil, "", fmt.Errorf("clustering panicked: %v", r)
		}
	}()

	if c.embedder == nil {
		return nil, "", errNoEmbedder
	}
	vecs, err := c.embedder.EmbedBatch(ctx, prompts)
	if err != nil {
		return nil, "", fmt.Errorf("embed prompts: %w", err)
	}
	if len(vecs) != len(prompts) {
		return nil, "", fmt.Errorf("embedder returned %d vectors for %d prompts", len(vecs), len(prompts))
	}

	points, err := Project(ctx, vecs, c.cfg.Neighbors, c.cfg.Components)
	if err != nil {
		c.logger.Debug("spectral projection failed, using pca", zap.Error(err))
		if points, err = ProjectLinear(vecs, c.cfg.Components); err != nil {
			return nil, "", fmt.Errorf("project embeddings: %w", err)
		}
	}

	if len(prompts) >= densityMinBatch {
		return DBSCAN(points, minClusterSize), models.MethodDensity, nil
	}
	k := c.cfg.KMeansK
	if k <= 0 {
		k = 3
	}
	return KMeans(points, k), models.MethodKMeans, nil
}

func clusterCount(labels []int) int {
	seen := map[int]struct{}{}
	for _, l := range labels {
		if l != models.NoiseLabel {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

// FoldClusterLabels writes each record's cluster tag into its categories, replacing
// any earlier cluster tag. Noise removes the cluster tag. records and a.Labels must be
// parallel.
func FoldClusterLabels(records []*models.Record, a *models.ClusterAssignment) error {
	if a == nil || len(a.Labels) != len(records) {
		n := 0
		if a != nil {
			n = len(a.Labels)
		}
		return fmt.Errorf("fold cluster labels: %d labels for %d records", n, len(records))
	}
	for i, r := range records {
		tags := make([]string, 0, len(r.Categories)+1)
		for _, t := range r.Categories {
			if !strings.HasPrefix(t, ClusterTagPrefix) {
				tags = append(tags, t)
			}
		}
		if tag := models.ClusterTag(a.Labels[i]); tag != "" {
			tags = append(tags, tag)
		}
		r.SetCategories(tags)
	}
	return nil
}
