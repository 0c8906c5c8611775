package opt

import (
	"math"
	"math/rand"
	"sort"
)

// kmeansPoint is a lat/lon pair with an attached cost used for cluster stats.
type kmeansPoint struct {
	Lat, Lng float64
	Cost     float64
}

// kmeans runs Lloyd's algorithm on geographic points. k is clamped to the
// point count. Output centers are sorted by (lat, lng) so cluster ids are
// stable for a fixed seed.
func kmeans(points []kmeansPoint, k int, seed int64, iters int) ([][2]float64, []int) {
	if len(points) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(points) {
		k = len(points)
	}
	if iters <= 0 {
		iters = 50
	}
	rng := rand.New(rand.NewSource(seed))

	centers := make([][2]float64, k)
	for i, pi := range rng.Perm(len(points))[:k] {
		centers[i] = [2]float64{points[pi].Lat, points[pi].Lng}
	}

	labels := make([]int, len(points))
	for it := 0; it < iters; it++ {
		changed := false
		for j, p := range points {
			best, bestD := 0, math.Inf(1)
			for c := range centers {
				d := sqDist(p.Lat, p.Lng, centers[c][0], centers[c][1])
				if d < bestD {
					best, bestD = c, d
				}
			}
			if labels[j] != best {
				labels[j] = best
				changed = true
			}
		}
		for c := range centers {
			sumLat, sumLng, n := 0.0, 0.0, 0
			for j, p := range points {
				if labels[j] == c {
					sumLat += p.Lat
					sumLng += p.Lng
					n++
				}
			}
			if n > 0 {
				centers[c] = [2]float64{sumLat / float64(n), sumLng / float64(n)}
			}
		}
		if !changed {
			break
		}
	}

	// relabel in centroid order for deterministic cluster ids
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ca, cb := centers[order[a]], centers[order[b]]
		if ca[0] != cb[0] {
			return ca[0] < cb[0]
		}
		return ca[1] < cb[1]
	})
	remap := make([]int, k)
	sorted := make([][2]float64, k)
	for newID, oldID := range order {
		remap[oldID] = newID
		sorted[newID] = centers[oldID]
	}
	for j := range labels {
		labels[j] = remap[labels[j]]
	}
	return sorted, labels
}

func sqDist(aLat, aLng, bLat, bLng float64) float64 {
	dLat := aLat - bLat
	dLng := aLng - bLng
	return dLat*dLat + dLng*dLng
}
