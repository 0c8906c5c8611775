// planctl drives a planning session against a running plan API:
// list cities, run an optimization, print stats and insights, and
// optionally geocode a location to focus on.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"geoplan/internal/geocode"
	"geoplan/internal/maprender"
	"geoplan/internal/model"
	"geoplan/internal/planclient"
	"geoplan/internal/shell"
)

func main() {
	var (
		apiURL   = flag.String("api", "", "plan API base URL (default $GEOPLAN_API_URL or http://localhost:8080)")
		city     = flag.String("city", "", "city to plan (default: first listed)")
		maxTime  = flag.Int("max-time", 10, "max travel time per customer in minutes")
		capacity = flag.Int("capacity", 200, "orders per store per day")
		search   = flag.String("search", "", "geocode a location and focus the map on it")
		reset    = flag.Bool("reset", false, "clear server-side plan state and exit")
		listOnly = flag.Bool("cities", false, "list cities and exit")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	plans := planclient.New(*apiURL)

	if *reset {
		if err := plans.Reset(ctx); err != nil {
			log.Fatalf("reset failed: %v", err)
		}
		fmt.Println("state cleared")
		return
	}

	sh := shell.New(plans, geocode.NewClient(), maprender.New(model.GeoPoint{}, 11))
	defer sh.Close()

	sh.LoadCities(ctx)
	st := sh.Snapshot()
	if *listOnly {
		for _, c := range st.Cities {
			fmt.Println(c)
		}
		return
	}
	if *city != "" {
		sh.SelectCity(*city)
	}

	if *search != "" {
		places, err := sh.Geo.Search(ctx, *search)
		if err != nil {
			log.Fatalf("geocode failed: %v", err)
		}
		if len(places) == 0 {
			fmt.Println("no results")
		} else {
			for i, p := range places {
				fmt.Printf("%d. %s (%.4f, %.4f)\n", i+1, p.Name, p.Lat, p.Lng)
			}
			sh.LocationSelected(places[0])
		}
	}

	params := model.PlanRequest{MaxTimeMin: *maxTime, Capacity: *capacity}
	if err := sh.RunOptimization(ctx, params); err != nil {
		log.Fatalf("optimization failed: %v", err)
	}

	st = sh.Snapshot()
	if st.Stats == nil {
		fmt.Println("run superseded; no stats")
		os.Exit(0)
	}
	s := st.Stats
	fmt.Printf("city: %s\n", st.City)
	fmt.Printf("stores open: %d / %d (%.1f%%)\n", s.StoresOpen, s.TotalCandidates, s.OpenPct)
	fmt.Printf("avg travel: %.2f min\n", s.AvgTravelMin)
	fmt.Printf("customers: %d (%d unserved)\n", s.TotalCustomers, s.FailedCustomers)
	fmt.Printf("solve time: %.2fs\n", s.ExecutionTimeSec)

	if st.Insights != nil {
		cov := st.Insights.Coverage
		fmt.Printf("coverage: avg %.2f / p90 %.2f / max %.2f min\n",
			cov.AvgTravelMin, cov.P90TravelMin, cov.MaxTravelMin)
		for _, cl := range st.Insights.Clusters {
			fmt.Printf("cluster %d: %d stores around (%.4f, %.4f), avg fixed cost %.2f\n",
				cl.ClusterID, cl.Count, cl.CenterLat, cl.CenterLon, cl.AvgFixedCost)
		}
	}
	if st.LastError != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", st.LastError)
	}
}
