package models

import "fmt"

// NoiseLabel marks a prompt the density clustering could not assign to a stable cluster.
const NoiseLabel = -1

// Clustering paths reported in ClusterAssignment.Method.
const (
	MethodDensity  = "density"
	MethodKMeans   = "kmeans"
	MethodDegraded = "degraded"
)

// ClusterAssignment is the result of one batch clustering pass.
// Labels is parallel to the input prompts. Summary maps every label present in Labels
// to its representative words; the noise label maps to "noise".
type ClusterAssignment struct {
	Labels  []int          `json:"labels"`
	Summary map[int]string `json:"summary"`
	// Method is one of MethodDensity, MethodKMeans or MethodDegraded.
	Method string `json:"method"`
}

// NoiseAssignment labels n prompts as noise.
func NoiseAssignment(n int) *ClusterAssignment {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}
	summary := map[int]string{}
	if n > 0 {
		summary[NoiseLabel] = "noise"
	}
	return &ClusterAssignment{Labels: labels, Summary: summary, Method: MethodDegraded}
}

// ClusterTag returns the category tag for a cluster label, or "" for noise.
func ClusterTag(label int) string {
	if label == NoiseLabel {
		return ""
	}
	return fmt.Sprintf("cluster:%d", label)
}
