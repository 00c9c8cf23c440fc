package cluster

import (
	"cmp"
	"math"
	"slices"

	"github.com/couchcryptid/wardrive/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius used to turn meters into radians.
const EarthRadiusMeters = 6_371_000.0

// Noise labels a point that belongs to no cluster.
const Noise = -1

const (
	unvisited  = -2
	maxSamples = 8
)

// Point is a WGS-84 position in degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Centroid is the arithmetic mean position of a cluster's members.
type Centroid struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Sample is a distinct network shown for a cluster.
type Sample struct {
	SSID     string `json:"ssid" yaml:"ssid"`
	Security string `json:"security" yaml:"security"`
}

// Cluster summarizes one hotspot. IDs are only stable within a single run.
type Cluster struct {
	ID       int      `json:"id" yaml:"id"`
	Count    int      `json:"count" yaml:"count"`
	Centroid Centroid `json:"centroid" yaml:"centroid"`
	AvgRSSI  float64  `json:"avg_rssi" yaml:"avg_rssi"`
	Samples  []Sample `json:"samples" yaml:"samples"`
}

// Clusterer runs DBSCAN with a fixed radius and density threshold.
type Clusterer struct {
	epsMeters  float64
	minSamples int
}

// New creates a Clusterer. minSamples below 1 is treated as 1.
func New(epsMeters float64, minSamples int) *Clusterer {
	if minSamples < 1 {
		minSamples = 1
	}
	return &Clusterer{epsMeters: epsMeters, minSamples: minSamples}
}

// Cluster groups the OPEN and WEP observations in records. Secure
// observations are ignored. The result is empty, never nil, when nothing
// qualifies.
func (c *Clusterer) Cluster(records []domain.Observation) []Cluster {
	members := make([]domain.Observation, 0, len(records))
	points := make([]Point, 0, len(records))
	for _, rec := range records {
		if !rec.Insecure() || !finite(rec.Latitude) || !finite(rec.Longitude) {
			continue
		}
		members = append(members, rec)
		points = append(points, Point{Latitude: rec.Latitude, Longitude: rec.Longitude})
	}
	if len(points) == 0 {
		return []Cluster{}
	}

	labels := c.Label(points)

	clusters := []Cluster{}
	byLabel := map[int]int{}
	groups := [][]domain.Observation{}
	for i, label := range labels {
		if label == Noise {
			continue
		}
		idx, ok := byLabel[label]
		if !ok {
			idx = len(groups)
			byLabel[label] = idx
			groups = append(groups, nil)
			clusters = append(clusters, Cluster{ID: label})
		}
		groups[idx] = append(groups[idx], members[i])
	}
	for i := range clusters {
		summarize(&clusters[i], groups[i])
	}
	// A noise point seen early may become a border of a later cluster.
	slices.SortFunc(clusters, func(a, b Cluster) int { return cmp.Compare(a.ID, b.ID) })
	return clusters
}

// Label returns one cluster ID per point, or Noise.
func (c *Clusterer) Label(points []Point) []int {
	eps := c.epsMeters / EarthRadiusMeters

	lat := make([]float64, len(points))
	lon := make([]float64, len(points))
	cosLat := make([]float64, len(points))
	for i, p := range points {
		lat[i] = p.Latitude * math.Pi / 180
		lon[i] = p.Longitude * math.Pi / 180
		cosLat[i] = math.Cos(lat[i])
	}

	region := func(i int) []int {
		var out []int
		for j := range points {
			if angle(lat[i], lon[i], cosLat[i], lat[j], lon[j], cosLat[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbors := region(i)
		if len(neighbors) < c.minSamples {
			labels[i] = Noise
			continue
		}

		id := next
		next++
		labels[i] = id

		seeds := neighbors
		for k := 0; k < len(seeds); k++ {
			p := seeds[k]
			if labels[p] == Noise {
				// Already known to be non-core: a border member.
				labels[p] = id
				continue
			}
			if labels[p] != unvisited {
				continue
			}
			labels[p] = id
			if pn := region(p); len(pn) >= c.minSamples {
				seeds = append(seeds, pn...)
			}
		}
	}
	return labels
}

// angle is the haversine central angle between two points in radians.
func angle(lat1, lon1, cos1, lat2, lon2, cos2 float64) float64 {
	sinDLat := math.Sin((lat2 - lat1) / 2)
	sinDLon := math.Sin((lon2 - lon1) / 2)
	a := sinDLat*sinDLat + cos1*cos2*sinDLon*sinDLon
	if a > 1 {
		a = 1
	}
	return 2 * math.Asin(math.Sqrt(a))
}

// DistanceMeters is the haversine distance between two points.
func DistanceMeters(a, b Point) float64 {
	lat1, lat2 := a.Latitude*math.Pi/180, b.Latitude*math.Pi/180
	return EarthRadiusMeters * angle(lat1, a.Longitude*math.Pi/180, math.Cos(lat1), lat2, b.Longitude*math.Pi/180, math.Cos(lat2))
}

func summarize(c *Cluster, members []domain.Observation) {
	var sumLat, sumLon, sumRSSI float64
	seen := map[Sample]struct{}{}
	c.Samples = []Sample{}
	for _, m := range members {
		sumLat += m.Latitude
		sumLon += m.Longitude
		sumRSSI += float64(m.RSSI)
		s := Sample{SSID: m.SSID, Security: m.Security}
		if _, dup := seen[s]; dup || len(c.Samples) == maxSamples {
			continue
		}
		seen[s] = struct{}{}
		c.Samples = append(c.Samples, s)
	}
	n := float64(len(members))
	c.Count = len(members)
	c.Centroid = Centroid{Latitude: sumLat / n, Longitude: sumLon / n}
	c.AvgRSSI = math.Round(sumRSSI/n*100) / 100
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
