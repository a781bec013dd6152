package l4perception

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

// MinVolume keeps density finite for flat or single-point clusters (m³).
const MinVolume = 1e-6

// CentroidMethod selects how a cluster's reported position is computed.
type CentroidMethod string

const (
	CentroidMean        CentroidMethod = "mean"
	CentroidMedian      CentroidMethod = "median"
	CentroidSNRWeighted CentroidMethod = "snr_weighted"
)

// Cluster summarises one group of points from a single frame.
type Cluster struct {
	Label        int        // 1-based, in discovery order
	Centroid     [3]float32 // x, y, z metres
	Size         [3]float32 // axis-aligned extent, metres
	Velocity     float32    // mean radial velocity, m/s
	PointIndices []int      // indices into the source cloud
	NumPoints    int
	Volume       float32
	Density      float32 // points per m³
	AvgSNR       float32
	AvgRCS       float32
	Points       *l3points.PointCloud
}

// buildClusters turns DBSCAN labels into clusters ordered by label.
func buildClusters(pc *l3points.PointCloud, xyz [][3]float32, labels []int, numClusters int, method CentroidMethod) []Cluster {
	if numClusters == 0 {
		return nil
	}
	members := make([][]int, numClusters+1)
	for i, l := range labels {
		if l > 0 {
			members[l] = append(members[l], i)
		}
	}
	clusters := make([]Cluster, 0, numClusters)
	for label := 1; label <= numClusters; label++ {
		if len(members[label]) == 0 {
			continue
		}
		clusters = append(clusters, computeClusterMetrics(pc, xyz, members[label], label, method))
	}
	return clusters
}

// computeClusterMetrics fills in the summary statistics for one cluster.
func computeClusterMetrics(pc *l3points.PointCloud, xyz [][3]float32, idx []int, label int, method CentroidMethod) Cluster {
	n := len(idx)
	cols := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	vel := make([]float64, n)
	snr := make([]float64, n)
	rcs := make([]float64, n)
	for j, i := range idx {
		for a := 0; a < 3; a++ {
			cols[a][j] = float64(xyz[i][a])
		}
		vel[j] = float64(pc.Velocity[i])
		snr[j] = float64(pc.SNR[i])
		rcs[j] = float64(pc.RCS[i])
	}

	var weights []float64
	if method == CentroidSNRWeighted {
		weights = make([]float64, n)
		for j, s := range snr {
			weights[j] = math.Pow(10, s/10)
		}
		if floats.Sum(weights) <= 0 {
			weights = nil
		}
	}

	c := Cluster{
		Label:        label,
		PointIndices: append([]int(nil), idx...),
		NumPoints:    n,
		Velocity:     float32(stat.Mean(vel, nil)),
		AvgSNR:       float32(stat.Mean(snr, nil)),
		AvgRCS:       float32(stat.Mean(rcs, nil)),
		Points:       pc.Subset(idx),
	}
	volume := 1.0
	for a := 0; a < 3; a++ {
		switch method {
		case CentroidMedian:
			c.Centroid[a] = float32(median(cols[a]))
		default:
			c.Centroid[a] = float32(stat.Mean(cols[a], weights))
		}
		extent := floats.Max(cols[a]) - floats.Min(cols[a])
		c.Size[a] = float32(extent)
		volume *= extent
	}
	volume = math.Max(volume, MinVolume)
	c.Volume = float32(volume)
	c.Density = float32(float64(n) / volume)
	return c
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
