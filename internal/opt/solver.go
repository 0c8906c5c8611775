package opt

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Site is a darkstore candidate.
type Site struct {
	ID        int64
	Lat, Lng  float64
	FixedCost float64
}

// Customer is a demand point to be served.
type Customer struct {
	ID       int64
	Lat, Lng float64
	Demand   int
}

// TravelFunc returns travel time in minutes between two coordinates.
// When nil, a haversine estimate at Problem.SpeedKph is used.
type TravelFunc func(aLat, aLng, bLat, bLng float64) float64

type Problem struct {
	Sites        []Site
	Customers    []Customer
	MaxTravelMin float64
	Capacity     int
	SpeedKph     float64
	TravelWeight float64 // objective weight per assigned travel minute
	FailPenalty  float64 // objective cost per unservable customer
	Travel       TravelFunc
	IterationsLimit int
	InitialTemp     float64
	Cooling         float64
}

// Solution holds open decisions and the customer->site assignment.
// Assign[j] is an index into Sites, or -1 when customer j cannot be served
// within the travel and capacity limits; TravelMin[j] is the assigned
// travel time (0 when unassigned).
type Solution struct {
	Open      []bool
	Assign    []int
	TravelMin []float64
	Cost      float64
}

type Metrics struct {
	Iterations    int
	Improvements  int
	AcceptedWorse int
	BestCost      float64
	FinalCost     float64
}

var ErrEmptyProblem = errors.New("opt: no sites or no customers")

// Solve runs a greedy construction plus simulated-annealing open/close moves
// within the time budget. Deterministic for a fixed seed and budget-free
// iteration limit.
func Solve(p Problem, seed int64, timeBudget time.Duration) (Solution, Metrics, error) {
	if len(p.Sites) == 0 || len(p.Customers) == 0 {
		return Solution{}, Metrics{}, ErrEmptyProblem
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	if p.SpeedKph <= 0 {
		p.SpeedKph = 30
	}
	if p.TravelWeight <= 0 {
		p.TravelWeight = 0.01
	}
	if p.FailPenalty <= 0 {
		p.FailPenalty = 50
	}
	if p.Capacity <= 0 {
		p.Capacity = 200
	}
	travel := buildTravelMatrix(p)

	curr := greedySeed(p, travel)
	best := curr

	temp := 1.0
	if p.InitialTemp > 0 {
		temp = p.InitialTemp
	}
	cool := 0.995
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}
	m := Metrics{BestCost: best.Cost}
	deadline := time.Now().Add(timeBudget)
	for time.Now().Before(deadline) {
		m.Iterations++
		if p.IterationsLimit > 0 && m.Iterations > p.IterationsLimit {
			break
		}
		cand := neighbor(curr, rng)
		assignAll(p, travel, &cand)
		if cand.Cost < best.Cost {
			best = cand
			m.Improvements++
		}
		if cand.Cost < curr.Cost || rng.Float64() < math.Exp((curr.Cost-cand.Cost)/math.Max(temp, 1e-9)) {
			if cand.Cost >= curr.Cost {
				m.AcceptedWorse++
			}
			curr = cand
		}
		temp *= cool
	}
	m.FinalCost = curr.Cost
	m.BestCost = best.Cost
	return best, m, nil
}

func buildTravelMatrix(p Problem) [][]float64 {
	tf := p.Travel
	if tf == nil {
		tf = func(aLat, aLng, bLat, bLng float64) float64 {
			return haversineMeters(aLat, aLng, bLat, bLng) / 1000.0 / p.SpeedKph * 60.0
		}
	}
	t := make([][]float64, len(p.Sites))
	for i, s := range p.Sites {
		row := make([]float64, len(p.Customers))
		for j, c := range p.Customers {
			row[j] = tf(s.Lat, s.Lng, c.Lat, c.Lng)
		}
		t[i] = row
	}
	return t
}

// greedySeed opens sites by covered-demand per fixed cost until every
// coverable customer has at least one open site in range.
func greedySeed(p Problem, travel [][]float64) Solution {
	open := make([]bool, len(p.Sites))
	covered := make([]bool, len(p.Customers))
	for {
		bestIdx, bestScore := -1, 0.0
		for i := range p.Sites {
			if open[i] {
				continue
			}
			gain := 0
			for j := range p.Customers {
				if !covered[j] && travel[i][j] <= p.MaxTravelMin {
					gain += maxInt(p.Customers[j].Demand, 1)
				}
			}
			if gain == 0 {
				continue
			}
			score := float64(gain) / math.Max(p.Sites[i].FixedCost, 1e-9)
			if score > bestScore {
				bestScore, bestIdx = score, i
			}
		}
		if bestIdx < 0 {
			break
		}
		open[bestIdx] = true
		for j := range p.Customers {
			if travel[bestIdx][j] <= p.MaxTravelMin {
				covered[j] = true
			}
		}
	}
	s := Solution{Open: open}
	assignAll(p, travel, &s)
	return s
}

// assignAll assigns each customer to the nearest open in-range site with
// remaining capacity, scarcest customers first, and recomputes the cost.
func assignAll(p Problem, travel [][]float64, s *Solution) {
	n := len(p.Customers)
	s.Assign = make([]int, n)
	s.TravelMin = make([]float64, n)
	load := make([]int, len(p.Sites))

	type cand struct {
		j       int
		nearest float64
	}
	order := make([]cand, 0, n)
	for j := range p.Customers {
		best := math.Inf(1)
		for i := range p.Sites {
			if s.Open[i] && travel[i][j] < best {
				best = travel[i][j]
			}
		}
		order = append(order, cand{j: j, nearest: best})
	}
	// customers with the fewest nearby options grab capacity first
	sort.Slice(order, func(a, b int) bool { return order[a].nearest > order[b].nearest })

	failed := 0
	travelCost := 0.0
	for _, c := range order {
		j := c.j
		bestIdx, bestT := -1, math.Inf(1)
		for i := range p.Sites {
			if !s.Open[i] || travel[i][j] > p.MaxTravelMin {
				continue
			}
			if load[i]+maxInt(p.Customers[j].Demand, 1) > p.Capacity {
				continue
			}
			if travel[i][j] < bestT {
				bestIdx, bestT = i, travel[i][j]
			}
		}
		if bestIdx < 0 {
			s.Assign[j] = -1
			failed++
			continue
		}
		s.Assign[j] = bestIdx
		s.TravelMin[j] = bestT
		load[bestIdx] += maxInt(p.Customers[j].Demand, 1)
		travelCost += bestT
	}

	fixed := 0.0
	for i, o := range s.Open {
		if o {
			fixed += p.Sites[i].FixedCost
		}
	}
	s.Cost = fixed + p.TravelWeight*travelCost + p.FailPenalty*float64(failed)
}

// neighbor flips one site's open decision; never closes the last open site.
func neighbor(s Solution, rng *rand.Rand) Solution {
	out := Solution{Open: append([]bool(nil), s.Open...)}
	openCount := 0
	for _, o := range out.Open {
		if o {
			openCount++
		}
	}
	for tries := 0; tries < 10; tries++ {
		i := rng.Intn(len(out.Open))
		if out.Open[i] && openCount <= 1 {
			continue
		}
		out.Open[i] = !out.Open[i]
		break
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
