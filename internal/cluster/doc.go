// Package cluster finds geographic hotspots of insecure access points.
//
// # Algorithm
//
// DBSCAN over great-circle distance. Coordinates are converted to radians
// and the neighborhood radius to an angle:
//
//	epsRadians = epsMeters / 6,371,000
//
// Two points are neighbors when their haversine angle is at most epsRadians.
// A point whose neighborhood (itself included) holds at least minSamples
// points is a core point. Core points reachable from each other share a
// cluster; non-core points inside a core point's neighborhood join that
// cluster as border members; everything else is noise and is dropped.
//
// Points are visited in input order and cluster IDs are assigned in the order
// clusters are discovered, so a fixed input order, radius and minSamples
// always produce the same labels. A border point within reach of two
// clusters joins the one discovered first.
//
// # Summaries
//
// The centroid is the plain arithmetic mean of member latitudes and
// longitudes. It is not geodesically corrected; at radii of tens to a few
// hundred meters away from the poles and the antimeridian the error is
// negligible.
package cluster
