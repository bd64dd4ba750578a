package categorize

import "math"

const kmeansMaxIter = 100

// KMeans partitions points into at most k clusters with Lloyd's algorithm. Seeds are
// chosen deterministically (first point, then repeatedly the point farthest from all
// chosen seeds), so equal input gives equal labels. It never produces noise. Cluster
// ids are numbered from 0 in order of their first member.
func KMeans(points [][]float64, k int) []int {
	n := len(points)
	labels := make([]int, n)
	if n == 0 {
		return labels
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}

	for i := range labels {
		labels[i] = -1
	}
	centers := seedCenters(points, k)
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, center := range centers {
				if d := euclidean(p, center); d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		updateCenters(points, labels, centers)
	}
	return compactLabels(labels, 1)
}

func seedCenters(points [][]float64, k int) [][]float64 {
	centers := [][]float64{append([]float64(nil), points[0]...)}
	for len(centers) < k {
		far, farDist := -1, -1.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				d = math.Min(d, euclidean(p, c))
			}
			if d > farDist {
				far, farDist = i, d
			}
		}
		centers = append(centers, append([]float64(nil), points[far]...))
	}
	return centers
}

// updateCenters moves each center to the mean of its members. Empty clusters keep
// their previous center.
func updateCenters(points [][]float64, labels []int, centers [][]float64) {
	dims := len(points[0])
	counts := make([]int, len(centers))
	sums := make([][]float64, len(centers))
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	for i, p := range points {
		counts[labels[i]]++
		for j, v := range p {
			sums[labels[i]][j] += v
		}
	}
	for c := range centers {
		if counts[c] == 0 {
			continue
		}
		for j := range centers[c] {
			centers[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}
