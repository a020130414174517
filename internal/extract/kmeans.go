package extract

import (
	"math"
	"math/rand"
	"sort"
)

// kmeans clusters standardized feature vectors with a fixed seed so a
// given episode window always produces the same clusters. Points are
// row-major [n][d]; the return value assigns each row a cluster index in
// [0, k).
func kmeans(points [][]float64, k int, seed int64, maxIter int) []int {
	n := len(points)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	d := len(points[0])

	rng := rand.New(rand.NewSource(seed))
	centroids := make([][]float64, k)
	for i, idx := range rng.Perm(n)[:k] {
		centroids[i] = append([]float64(nil), points[idx]...)
	}

	assign := make([]int, n)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if dist := sqDist(p, centroid); dist < bestDist {
					best, bestDist = c, dist
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, d)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: reseed from a deterministic point.
				centroids[c] = append([]float64(nil), points[rng.Intn(n)]...)
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return assign
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// featureMatrix flattens per-episode feature maps into standardized
// (zero-mean, unit-variance) rows over the union of feature names.
// Missing features default to the column mean, so they carry no signal.
// The name slice is sorted for stable column ordering.
func featureMatrix(features []map[string]float64) ([][]float64, []string) {
	nameSet := make(map[string]bool)
	for _, f := range features {
		for name := range f {
			nameSet[name] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, nil
	}

	n := len(features)
	means := make([]float64, len(names))
	counts := make([]int, len(names))
	for _, f := range features {
		for j, name := range names {
			if v, ok := f[name]; ok {
				means[j] += v
				counts[j]++
			}
		}
	}
	for j := range means {
		if counts[j] > 0 {
			means[j] /= float64(counts[j])
		}
	}

	stds := make([]float64, len(names))
	for _, f := range features {
		for j, name := range names {
			if v, ok := f[name]; ok {
				d := v - means[j]
				stds[j] += d * d
			}
		}
	}
	for j := range stds {
		if counts[j] > 0 {
			stds[j] = math.Sqrt(stds[j] / float64(counts[j]))
		}
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	rows := make([][]float64, n)
	for i, f := range features {
		row := make([]float64, len(names))
		for j, name := range names {
			v, ok := f[name]
			if !ok {
				v = means[j]
			}
			row[j] = (v - means[j]) / stds[j]
		}
		rows[i] = row
	}
	return rows, names
}

// percentile returns the p-th percentile (0..100) of values by nearest-rank
// on a sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// mode returns the most frequent non-empty value, breaking ties
// lexicographically.
func mode(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		if v != "" {
			counts[v]++
		}
	}
	best, bestCount := "", 0
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}
