// Package kmeans implements Lloyd's k-means with seeded k-means++ initialization.
// The cluster count is fixed at three.
package kmeans

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/vinodismyname/mcpsales/config"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// K is the number of clusters produced by Fit.
const K = 3

// Options tunes the fit. Zero values fall back to config defaults.
type Options struct {
	Seed    uint64
	MaxIter int
	NInit   int
}

// DefaultOptions returns the reproducible defaults.
func DefaultOptions() Options {
	return Options{
		Seed:    config.DefaultClusterSeed,
		MaxIter: config.DefaultClusterMaxIter,
		NInit:   config.DefaultClusterNInit,
	}
}

// Model is a fitted clustering: one label per input point and K centroids.
type Model struct {
	Labels     []int       `json:"labels"`
	Centroids  [][]float64 `json:"centroids"`
	Inertia    float64     `json:"inertia"`
	Iterations int         `json:"iterations"`
}

// Fit clusters points (n x d). Identical input and options always yield an identical Model.
func Fit(points [][]float64, opts Options) (Model, error) {
	if opts.MaxIter <= 0 {
		opts.MaxIter = config.DefaultClusterMaxIter
	}
	if opts.NInit <= 0 {
		opts.NInit = config.DefaultClusterNInit
	}
	if err := checkShape(points); err != nil {
		return Model{}, err
	}
	if n := distinct(points); n < K {
		return Model{}, fmt.Errorf("%w: %d distinct points, need %d", sales.ErrInsufficientData, n, K)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var best Model
	for run := 0; run < opts.NInit; run++ {
		m := lloyd(points, seedCentroids(points, rng), opts.MaxIter)
		if run == 0 || m.Inertia < best.Inertia {
			best = m
		}
	}
	return best, nil
}

// Predict returns the index of the nearest centroid, lowest index on ties.
func (m Model) Predict(p []float64) int {
	return nearest(m.Centroids, p)
}

func checkShape(points [][]float64) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: no points", sales.ErrInsufficientData)
	}
	d := len(points[0])
	if d == 0 {
		return fmt.Errorf("kmeans: zero-dimensional points")
	}
	for i, p := range points {
		if len(p) != d {
			return fmt.Errorf("kmeans: point %d has %d dims, want %d", i, len(p), d)
		}
	}
	return nil
}

func distinct(points [][]float64) int {
	seen := make(map[string]struct{}, len(points))
	var sb strings.Builder
	for _, p := range points {
		sb.Reset()
		for _, v := range p {
			sb.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
			sb.WriteByte('|')
		}
		seen[sb.String()] = struct{}{}
	}
	return len(seen)
}

// seedCentroids runs k-means++: first center uniform, then D²-weighted draws.
func seedCentroids(points [][]float64, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, K)
	centroids = append(centroids, clone(points[rng.IntN(len(points))]))

	d2 := make([]float64, len(points))
	for len(centroids) < K {
		for i, p := range points {
			d2[i] = sqDist(p, centroids[nearest(centroids, p)])
		}
		total := floats.Sum(d2)
		target := rng.Float64() * total
		pick := len(points) - 1
		var acc float64
		for i, w := range d2 {
			if w == 0 {
				continue
			}
			acc += w
			if acc > target {
				pick = i
				break
			}
		}
		// Guard against rounding landing on an already chosen point.
		if d2[pick] == 0 {
			pick = floats.MaxIdx(d2)
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64, maxIter int) Model {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	iter := 0
	converged := false
	for iter < maxIter {
		iter++
		changed := false
		for i, p := range points {
			if c := nearest(centroids, p); c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			converged = true
			break
		}
		centroids = updateCentroids(points, labels, centroids)
	}
	if !converged {
		for i, p := range points {
			labels[i] = nearest(centroids, p)
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return Model{Labels: labels, Centroids: centroids, Inertia: inertia, Iterations: iter}
}

// updateCentroids moves each centroid to the mean of its members; empty clusters keep their position.
func updateCentroids(points [][]float64, labels []int, prev [][]float64) [][]float64 {
	dims := len(points[0])
	next := make([][]float64, len(prev))
	for c := range prev {
		var col [][]float64
		for i, l := range labels {
			if l == c {
				col = append(col, points[i])
			}
		}
		if len(col) == 0 {
			next[c] = clone(prev[c])
			continue
		}
		next[c] = make([]float64, dims)
		vals := make([]float64, len(col))
		for d := 0; d < dims; d++ {
			for j, p := range col {
				vals[j] = p[d]
			}
			next[c][d] = stat.Mean(vals, nil)
		}
	}
	return next
}

func nearest(centroids [][]float64, p []float64) int {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centroids {
		if d := sqDist(p, ctr); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
