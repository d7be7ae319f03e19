package anomaly

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649015329

// node is a split or, when left is nil, a leaf holding the number of samples that reached it
type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
}

// Forest is an isolation forest: an ensemble of random trees where outliers are isolated
// closer to the root than inliers
type Forest struct {
	trees      []*node
	sampleSize int
}

// Fit builds trees over the rows of data. Each tree sees a sample of min(sampleSize, n)
// rows drawn without replacement and grows to depth ceil(log2(sample)).
func Fit(data [][]float64, trees, sampleSize int, rng *rand.Rand) *Forest {
	n := len(data)
	psi := sampleSize
	if psi > n {
		psi = n
	}
	limit := 0
	if psi > 1 {
		limit = int(math.Ceil(math.Log2(float64(psi))))
	}

	f := &Forest{sampleSize: psi, trees: make([]*node, trees)}
	for t := range f.trees {
		idx := rng.Perm(n)[:psi]
		f.trees[t] = grow(data, idx, 0, limit, rng)
	}
	return f
}

func grow(data [][]float64, idx []int, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{size: len(idx)}
	}

	// only features with spread can split
	var candidates []int
	for j := range data[idx[0]] {
		lo, hi := bounds(data, idx, j)
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(idx)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	lo, hi := bounds(data, idx, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if data[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    grow(data, left, depth+1, limit, rng),
		right:   grow(data, right, depth+1, limit, rng),
		size:    len(idx),
	}
}

func bounds(data [][]float64, idx []int, feature int) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := data[i][feature]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func pathLength(n *node, x []float64, depth int) float64 {
	for n.left != nil {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePath(n.size)
}

// averagePath is the mean path length of an unsuccessful search in a binary search tree of n nodes
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n - 1)
	return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
}

// Score returns the anomaly score in (0, 1]; values near 1 are easy to isolate
func (f *Forest) Score(x []float64) float64 {
	norm := averagePath(f.sampleSize)
	if norm == 0 || len(f.trees) == 0 {
		return 0.5
	}
	paths := make([]float64, len(f.trees))
	for i, t := range f.trees {
		paths[i] = pathLength(t, x, 0)
	}
	return math.Pow(2, -stat.Mean(paths, nil)/norm)
}
