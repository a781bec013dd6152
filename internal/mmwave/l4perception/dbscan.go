package l4perception

import (
	"math"

	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// DBSCAN clusters points by Euclidean density reachability in 3D.
type DBSCAN struct {
	Eps            float64
	MinSamples     int
	CentroidMethod CentroidMethod
}

func (d *DBSCAN) Name() string { return AlgorithmDBSCAN }

// Cluster returns the clusters of pc in discovery order. Noise points and
// points with non-finite coordinates are left out.
func (d *DBSCAN) Cluster(pc *l3points.PointCloud) []Cluster {
	n := pc.Len()
	if n == 0 || n < d.MinSamples {
		return nil
	}
	xyz := pc.CartesianPoints()
	finite := func(i int) bool {
		for _, v := range xyz[i] {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
		return true
	}

	si := NewSpatialIndex(d.Eps)
	si.Build(xyz, finite)

	labels, numClusters := expandAll(n, d.MinSamples, finite, func(i int) []int {
		return si.RegionQuery(xyz, i, d.Eps)
	})
	return buildClusters(pc, xyz, labels, numClusters, d.CentroidMethod)
}

// expandAll runs the DBSCAN labelling pass over n points. neighbors(i)
// must include i itself. Labels: 0 unvisited, -1 noise, >0 cluster.
func expandAll(n, minSamples int, eligible func(int) bool, neighbors func(int) []int) ([]int, int) {
	labels := make([]int, n)
	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}
		if !eligible(i) {
			labels[i] = labelNoise
			continue
		}
		seeds := neighbors(i)
		if len(seeds) < minSamples {
			labels[i] = labelNoise
			continue
		}
		clusterID++
		expandCluster(labels, i, seeds, clusterID, minSamples, neighbors)
	}
	return labels, clusterID
}

// expandCluster grows a cluster breadth-first from a core point.
func expandCluster(labels []int, seedIdx int, queue []int, clusterID, minSamples int, neighbors func(int) []int) {
	labels[seedIdx] = clusterID
	for j := 0; j < len(queue); j++ {
		idx := queue[j]
		if labels[idx] == labelNoise {
			labels[idx] = clusterID // border point
		}
		if labels[idx] != labelUnvisited {
			continue
		}
		labels[idx] = clusterID
		if next := neighbors(idx); len(next) >= minSamples {
			queue = append(queue, next...)
		}
	}
}

var _ ClusterAlgorithm = (*DBSCAN)(nil)
