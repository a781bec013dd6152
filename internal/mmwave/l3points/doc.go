// Package l3points owns Layer 3 (Point clouds) of the mmWave data model.
//
// Responsibilities: the per-frame point cloud as parallel attribute
// slices in sensor spherical coordinates, conversion to and from
// Cartesian coordinates, and radar cross-section estimation from SNR.
// Key types: PointCloud, Metadata.
//
// Axis convention: y points forward out of the sensor, x to the right,
// z up. Azimuth is atan2(x, y), so zero azimuth is boresight.
//
// Dependency rule: L3 may depend on L1 and L2.
package l3points
