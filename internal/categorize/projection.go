package categorize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/atsume/internal/vector"
)

var (
	errTooFewSamples = errors.New("too few samples for spectral projection")
	errDisconnected  = errors.New("neighbor graph has an isolated vertex")
)

// Project maps unit-length embeddings to `components` dimensions with Laplacian
// eigenmaps over a symmetric k-nearest-neighbor similarity graph. It fails when the
// batch is too small for the neighborhood or the graph is degenerate; callers fall
// back to ProjectLinear.
func Project(ctx context.Context, vecs [][]float32, neighbors, components int) ([][]float64, error) {
	n := len(vecs)
	if components <= 0 {
		components = 2
	}
	if n < components+2 {
		return nil, fmt.Errorf("%w: %d samples, %d components", errTooFewSamples, n, components)
	}
	k := neighbors
	if k <= 0 || k > n-1 {
		k = n - 1
	}

	idx, err := vector.NewMemoryIndex(len(vecs[0]))
	if err != nil {
		return nil, err
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return nil, err
	}
	knn, err := idx.Neighbors(ctx, k)
	if err != nil {
		return nil, err
	}

	// Symmetric affinity: cosine similarity clipped at zero, kept if either side
	// lists the other as a neighbor.
	w := mat.NewSymDense(n, nil)
	for i, hits := range knn {
		for _, h := range hits {
			s := math.Max(h.Score, 0)
			if s > w.At(i, h.Position) {
				w.SetSym(i, h.Position, s)
			}
		}
	}
	deg := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			deg[i] += w.At(i, j)
		}
		if deg[i] <= 0 {
			return nil, errDisconnected
		}
	}

	// Normalized Laplacian L = I - D^-1/2 W D^-1/2.
	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := -w.At(i, j) / math.Sqrt(deg[i]*deg[j])
			if i == j {
				v += 1
			}
			lap.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(lap, true); !ok {
		return nil, errors.New("eigendecomposition did not converge")
	}
	var ev mat.Dense
	eig.VectorsTo(&ev)

	// Eigenvalues come back ascending; skip the trivial first eigenvector.
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, components)
		scale := 1 / math.Sqrt(deg[i])
		for c := 0; c < components; c++ {
			v := ev.At(i, c+1) * scale
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New("spectral projection produced non-finite coordinates")
			}
			row[c] = v
		}
		out[i] = row
	}
	return out, nil
}

// ProjectLinear projects embeddings onto their top principal components. Components
// beyond the data's rank are zero.
func ProjectLinear(vecs [][]float32, components int) ([][]float64, error) {
	n := len(vecs)
	if n == 0 {
		return nil, nil
	}
	if components <= 0 {
		components = 2
	}
	d := len(vecs[0])
	if d == 0 {
		return nil, errors.New("empty embeddings")
	}

	means := make([]float64, d)
	for _, v := range vecs {
		if len(v) != d {
			return nil, fmt.Errorf("embedding length mismatch: %d != %d", len(v), d)
		}
		for j, x := range v {
			means[j] += float64(x)
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	x := mat.NewDense(n, d, nil)
	for i, v := range vecs {
		for j, val := range v {
			x.Set(i, j, float64(val)-means[j])
		}
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, components)
	}
	if n == 1 {
		return out, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, errors.New("svd did not converge")
	}
	var u mat.Dense
	svd.UTo(&u)
	sv := svd.Values(nil)
	_, uc := u.Dims()
	for c := 0; c < components && c < uc && c < len(sv); c++ {
		for i := 0; i < n; i++ {
			out[i][c] = u.At(i, c) * sv[c]
		}
	}
	return out, nil
}
