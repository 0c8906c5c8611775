package opt

import (
	"math"
	"sort"

	"geoplan/internal/model"
)

const clusterSeed = 42

// Summarize builds the flat summary block shared by plan stats and insights.
func Summarize(stores []model.PlannedStore) model.PlanStats {
	st := model.PlanStats{TotalCandidates: len(stores)}
	if len(stores) == 0 {
		return st
	}
	var openCost, closedCost float64
	bounds := model.GeoBounds{
		MinLat: math.Inf(1), MaxLat: math.Inf(-1),
		MinLon: math.Inf(1), MaxLon: math.Inf(-1),
	}
	for _, s := range stores {
		if s.Open {
			st.StoresOpen++
			openCost += s.FixedCost
		} else {
			st.ClosedStores++
			closedCost += s.FixedCost
		}
		bounds.MinLat = math.Min(bounds.MinLat, s.Lat)
		bounds.MaxLat = math.Max(bounds.MaxLat, s.Lat)
		bounds.MinLon = math.Min(bounds.MinLon, s.Lng)
		bounds.MaxLon = math.Max(bounds.MaxLon, s.Lng)
	}
	st.OpenPct = round2(float64(st.StoresOpen) / float64(len(stores)) * 100)
	if st.StoresOpen > 0 {
		st.AvgFixedCostOpen = openCost / float64(st.StoresOpen)
	}
	if st.ClosedStores > 0 {
		st.AvgFixedCostClosed = closedCost / float64(st.ClosedStores)
	}
	st.GeoBounds = &bounds
	return st
}

// CoverageStats summarizes the customer travel-time distribution.
func CoverageStats(assignments []model.Assignment) model.Coverage {
	if len(assignments) == 0 {
		return model.Coverage{}
	}
	times := make([]float64, 0, len(assignments))
	sum := 0.0
	for _, a := range assignments {
		times = append(times, a.TravelMin)
		sum += a.TravelMin
	}
	sort.Float64s(times)
	return model.Coverage{
		AvgTravelMin: sum / float64(len(times)),
		P90TravelMin: percentile(times, 90),
		MaxTravelMin: times[len(times)-1],
	}
}

// GeographicClusters groups open stores into up to n KMeans regions,
// ordered by cluster id.
func GeographicClusters(stores []model.PlannedStore, n int) []model.Cluster {
	pts := make([]kmeansPoint, 0, len(stores))
	for _, s := range stores {
		if s.Open {
			pts = append(pts, kmeansPoint{Lat: s.Lat, Lng: s.Lng, Cost: s.FixedCost})
		}
	}
	if len(pts) == 0 {
		return []model.Cluster{}
	}
	centers, labels := kmeans(pts, n, clusterSeed, 0)
	out := make([]model.Cluster, len(centers))
	for c := range centers {
		out[c] = model.Cluster{
			ClusterID: c,
			CenterLat: centers[c][0],
			CenterLon: centers[c][1],
		}
	}
	for j, p := range pts {
		c := labels[j]
		out[c].Count++
		out[c].AvgFixedCost += p.Cost
	}
	for c := range out {
		if out[c].Count > 0 {
			out[c].AvgFixedCost /= float64(out[c].Count)
		}
	}
	return out
}

// BuildInsights assembles the analytics block for a completed plan.
func BuildInsights(plan model.PlanResult) model.Insights {
	return model.Insights{
		Summary:  Summarize(plan.Stores),
		Coverage: CoverageStats(plan.Assignments),
		Clusters: GeographicClusters(plan.Stores, 5),
	}
}

// percentile returns the p-th percentile of sorted values using nearest-rank
// linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
