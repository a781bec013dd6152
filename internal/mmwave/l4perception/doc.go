// Package l4perception owns Layer 4 (Perception) of the mmWave data model.
//
// Responsibilities: density-based grouping of a frame's points into
// candidate objects and the per-cluster summary statistics the tracker
// consumes (centroid, extent, mean velocity, density, SNR and RCS).
// Key types: ClusterAlgorithm, Cluster, Params, DBSCAN, GridDBSCAN.
//
// Clusters are created fresh for every frame and are never mutated
// after Cluster returns.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5.
package l4perception
