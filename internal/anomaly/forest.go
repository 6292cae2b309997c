package anomaly

import (
	"math"
	"math/rand"
)

const (
	numTrees     = 24
	maxSubsample = 128
)

// eulerGamma is the Euler–Mascheroni constant used in the average-path
// normalization term.
const eulerGamma = 0.5772156649015329

// forest is an ensemble of random partition trees built over normalized
// vectors. A vector that separates from the training data in few random
// splits receives a short average path and therefore a high score.
type forest struct {
	trees     []*node
	subsample int
}

type node struct {
	// Internal nodes split on dim at value split.
	dim   int
	split float64
	left  *node
	right *node

	// Leaves record how many training vectors they hold.
	size int
	leaf bool
}

// fitForest builds the ensemble from the given normalized vectors.
func fitForest(vectors [][]float64, rng *rand.Rand) *forest {
	sub := len(vectors)
	if sub > maxSubsample {
		sub = maxSubsample
	}
	depthLimit := int(math.Ceil(math.Log2(float64(sub)))) + 1

	f := &forest{trees: make([]*node, numTrees), subsample: sub}
	for i := range f.trees {
		samp := make([][]float64, sub)
		for j := range samp {
			samp[j] = vectors[rng.Intn(len(vectors))]
		}
		f.trees[i] = buildTree(samp, 0, depthLimit, rng)
	}
	return f
}

func buildTree(vectors [][]float64, depth, limit int, rng *rand.Rand) *node {
	if len(vectors) <= 1 || depth >= limit {
		return &node{leaf: true, size: len(vectors)}
	}

	dims := len(vectors[0])
	// Pick a random dimension that still has spread; give up after a few
	// tries (all-constant node) and close the leaf.
	for try := 0; try < dims*2; try++ {
		dim := rng.Intn(dims)
		lo, hi := vectors[0][dim], vectors[0][dim]
		for _, v := range vectors[1:] {
			if v[dim] < lo {
				lo = v[dim]
			}
			if v[dim] > hi {
				hi = v[dim]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, v := range vectors {
			if v[dim] < split {
				left = append(left, v)
			} else {
				right = append(right, v)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &node{
			dim:   dim,
			split: split,
			left:  buildTree(left, depth+1, limit, rng),
			right: buildTree(right, depth+1, limit, rng),
		}
	}
	return &node{leaf: true, size: len(vectors)}
}

// score returns the normalized isolation score for v in [0, 1].
func (f *forest) score(v []float64) float64 {
	if len(f.trees) == 0 || f.subsample < 2 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, v, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLen(f.subsample))
}

func pathLength(n *node, v []float64, depth int) float64 {
	if n.leaf {
		return float64(depth) + avgPathLen(n.size)
	}
	if v[n.dim] < n.split {
		return pathLength(n.left, v, depth+1)
	}
	return pathLength(n.right, v, depth+1)
}

// avgPathLen is the expected path length of an unsuccessful BST search among
// n points, the standard normalization term for isolation scoring.
func avgPathLen(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}
