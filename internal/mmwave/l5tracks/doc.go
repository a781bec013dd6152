// Package l5tracks owns Layer 5 (Tracks) of the mmWave data model.
//
// Responsibilities: multi-object tracking of l4perception clusters with a
// constant-velocity Kalman filter in 3D, cluster-to-track association
// (greedy nearest neighbour by default, Hungarian on request), and the
// track lifecycle (tentative, confirmed, deleted).
// Key types: Tracker, Track, Config.
//
// Greedy association processes tracks in creation order and gives each
// the closest unclaimed cluster within MaxDistance. It is not globally
// optimal; AssociationHungarian trades that ordering dependence for an
// optimal assignment over the same gate.
//
// Dependency rule: L5 may depend on L1-L4. No SQL/database code is
// allowed in this package.
package l5tracks
