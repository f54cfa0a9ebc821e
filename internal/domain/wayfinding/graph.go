// Package wayfinding computes walking routes through the facility graph.
package wayfinding

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidDistance indicates a corridor with a negative or NaN distance
var ErrInvalidDistance = errors.New("invalid corridor distance")

// Location is a named node in the facility
type Location struct {
	Code string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Edge is an undirected walkable connection. Distance is in meters.
type Edge struct {
	From     string
	To       string
	Distance float64
}

type arc struct {
	to     string
	weight float64
}

// Graph is an undirected weighted graph of facility locations.
// It is read-only after BuildGraph returns and safe for concurrent use.
type Graph struct {
	locations map[string]Location
	adjacency map[string][]arc
}

// BuildGraph constructs the facility graph. Each edge becomes two arcs of
// equal weight. Parallel edges are kept and distances are not checked; use
// Validate for that. Edges naming a code that is not in locations are
// ignored. Locations without edges stay isolated.
func BuildGraph(locations []Location, edges []Edge) *Graph {
	g := &Graph{
		locations: make(map[string]Location, len(locations)),
		adjacency: make(map[string][]arc, len(locations)),
	}
	for _, loc := range locations {
		if _, ok := g.locations[loc.Code]; ok {
			continue
		}
		g.locations[loc.Code] = loc
		g.adjacency[loc.Code] = nil
	}
	for _, e := range edges {
		if !g.Has(e.From) || !g.Has(e.To) {
			continue
		}
		g.adjacency[e.From] = append(g.adjacency[e.From], arc{to: e.To, weight: e.Distance})
		g.adjacency[e.To] = append(g.adjacency[e.To], arc{to: e.From, weight: e.Distance})
	}
	return g
}

// Validate reports corridors whose distance is negative or NaN. The router
// never traverses such corridors.
func (g *Graph) Validate() error {
	var errs []error
	for _, code := range g.codes() {
		for _, a := range g.adjacency[code] {
			if code <= a.to && !usable(a.weight) {
				errs = append(errs, fmt.Errorf("%w: %s-%s %v", ErrInvalidDistance, code, a.to, a.weight))
			}
		}
	}
	return errors.Join(errs...)
}

func usable(weight float64) bool { return weight >= 0 }

func (g *Graph) codes() []string {
	out := make([]string, 0, len(g.locations))
	for code := range g.locations {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Has reports whether code is a vertex of the graph
func (g *Graph) Has(code string) bool {
	_, ok := g.locations[code]
	return ok
}

// Location returns the location for a code
func (g *Graph) Location(code string) (Location, bool) {
	loc, ok := g.locations[code]
	return loc, ok
}

// Len returns the number of locations
func (g *Graph) Len() int { return len(g.locations) }

// ListLocations returns all locations sorted by display name
func (g *Graph) ListLocations() []Location {
	out := make([]Location, 0, len(g.locations))
	for _, loc := range g.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// EdgeWeight returns the smallest weight among edges joining a and b
func (g *Graph) EdgeWeight(a, b string) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, e := range g.adjacency[a] {
		if e.to == b && (!found || e.weight < best) {
			best, found = e.weight, true
		}
	}
	return best, found
}

// Degree returns the number of arcs leaving code
func (g *Graph) Degree(code string) int {
	return len(g.adjacency[code])
}

// ReferenceFacility returns the locations and corridors of the main hospital campus
func ReferenceFacility() ([]Location, []Edge) {
	locations := []Location{
		{Code: "PKG", Name: "Parking Garage", Icon: "🅿️"},
		{Code: "ME", Name: "Main Entrance", Icon: "🚪"},
		{Code: "ER", Name: "Emergency Room", Icon: "🚑"},
		{Code: "OPC", Name: "Outpatient Clinic", Icon: "🏥"},
		{Code: "RAD", Name: "Radiology", Icon: "🩻"},
		{Code: "LAB", Name: "Laboratory", Icon: "🧪"},
		{Code: "SUR", Name: "Surgical Center", Icon: "🔬"},
		{Code: "IWA", Name: "Inpatient Ward A", Icon: "🛏️"},
		{Code: "IWB", Name: "Inpatient Ward B", Icon: "🏨"},
		{Code: "PHR", Name: "Pharmacy", Icon: "💊"},
		{Code: "CAF", Name: "Cafeteria", Icon: "🍽️"},
	}
	edges := []Edge{
		{"PKG", "ME", 100},
		{"ME", "OPC", 120},
		{"ME", "CAF", 50},
		{"ME", "IWA", 150},
		{"ER", "RAD", 60},
		{"ER", "SUR", 90},
		{"OPC", "LAB", 70},
		{"OPC", "PHR", 80},
		{"RAD", "LAB", 40},
		{"RAD", "IWA", 110},
		{"RAD", "IWB", 130},
		{"LAB", "PHR", 50},
		{"IWA", "IWB", 80},
		{"IWA", "SUR", 100},
		{"IWB", "SUR", 70},
		{"CAF", "IWA", 140},
	}
	return locations, edges
}
