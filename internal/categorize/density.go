package categorize

import (
	"math"
	"sort"

	"github.com/hyperjump/atsume/internal/models"
)

// DBSCAN clusters points by density. A point is a core point when at least
// minClusterSize points (itself included) lie within eps of it; eps is the median
// distance from each point to its (minClusterSize-1)-th nearest neighbor, so the
// radius adapts to the batch. Clusters smaller than minClusterSize become noise. Cluster ids
// are numbered from 0 in order of their first member.
func DBSCAN(points [][]float64, minClusterSize int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = models.NoiseLabel
	}
	if n == 0 {
		return labels
	}
	if minClusterSize < 1 {
		minClusterSize = 1
	}

	dist := pairwise(points)
	eps := neighborhoodRadius(dist, minClusterSize-1)
	region := func(p int) []int {
		var out []int
		for q := 0; q < n; q++ {
			if dist[p][q] <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	const unvisited = -2
	for i := range labels {
		labels[i] = unvisited
	}
	next := 0
	for p := 0; p < n; p++ {
		if labels[p] != unvisited {
			continue
		}
		seeds := region(p)
		if len(seeds) < minClusterSize {
			labels[p] = models.NoiseLabel
			continue
		}
		id := next
		next++
		labels[p] = id
		for len(seeds) > 0 {
			q := seeds[0]
			seeds = seeds[1:]
			if labels[q] == models.NoiseLabel {
				labels[q] = id
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = id
			if nb := region(q); len(nb) >= minClusterSize {
				seeds = append(seeds, nb...)
			}
		}
	}

	return compactLabels(labels, minClusterSize)
}

// compactLabels turns clusters smaller than minSize into noise and renumbers the rest
// from 0 in order of first appearance.
func compactLabels(labels []int, minSize int) []int {
	sizes := map[int]int{}
	for _, l := range labels {
		sizes[l]++
	}
	remap := map[int]int{}
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == models.NoiseLabel || sizes[l] < minSize {
			out[i] = models.NoiseLabel
			continue
		}
		id, ok := remap[l]
		if !ok {
			id = len(remap)
			remap[l] = id
		}
		out[i] = id
	}
	return out
}

func neighborhoodRadius(dist [][]float64, k int) float64 {
	n := len(dist)
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}
	if k < 1 {
		return 0
	}
	kth := make([]float64, n)
	row := make([]float64, 0, n)
	for i := range dist {
		row = row[:0]
		for j, d := range dist[i] {
			if j != i {
				row = append(row, d)
			}
		}
		sort.Float64s(row)
		kth[i] = row[k-1]
	}
	sort.Float64s(kth)
	eps := kth[n/2]
	if n%2 == 0 {
		eps = (kth[n/2-1] + kth[n/2]) / 2
	}
	return eps + 1e-12
}

func pairwise(points [][]float64) [][]float64 {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := euclidean(points[i], points[j])
			dist[i][j], dist[j][i] = d, d
		}
	}
	return dist
}

func euclidean(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}
