package l4perception

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave/internal/config"
	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

func cloudXYZ(t *testing.T, pts [][3]float32, vel []float32) *l3points.PointCloud {
	t.Helper()
	x, y, z := make([]float32, len(pts)), make([]float32, len(pts)), make([]float32, len(pts))
	for i, p := range pts {
		x[i], y[i], z[i] = p[0], p[1], p[2]
	}
	pc, err := l3points.FromCartesian(x, y, z, vel, nil, nil)
	require.NoError(t, err)
	return pc
}

func blob(cx, cy, cz float32, n int, spread float32) [][3]float32 {
	pts := make([][3]float32, 0, n)
	for i := 0; i < n; i++ {
		a := float64(i) / float64(n) * 2 * math.Pi
		pts = append(pts, [3]float32{cx + spread*float32(math.Cos(a)), cy + spread*float32(math.Sin(a)), cz})
	}
	return pts
}

func mustDBSCAN(t *testing.T, eps float64, minSamples int) ClusterAlgorithm {
	t.Helper()
	alg, err := NewClusterAlgorithm("dbscan", Params{Eps: eps, MinSamples: minSamples})
	require.NoError(t, err)
	return alg
}

func TestDBSCAN_SquareOfFourPoints(t *testing.T) {
	t.Parallel()

	pc := cloudXYZ(t, [][3]float32{{0, 0, 0}, {0.1, 0, 0}, {0, 0.1, 0}, {0.1, 0.1, 0}}, nil)
	clusters := mustDBSCAN(t, 0.2, 2).Cluster(pc)

	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.Equal(t, 4, c.NumPoints)
	assert.Equal(t, []int{0, 1, 2, 3}, c.PointIndices)
	if diff := cmp.Diff(c.Centroid, [3]float32{0.05, 0.05, 0}, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("centroid (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(c.Size, [3]float32{0.1, 0.1, 0}, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("size (-got +want):\n%s", diff)
	}
	assert.InDelta(t, MinVolume, c.Volume, 1e-12, "flat cluster uses the volume floor")
	assert.InDelta(t, 4/MinVolume, c.Density, 1)
	assert.Equal(t, 1, c.Label)
	assert.Equal(t, 4, c.Points.Len())
}

func TestDBSCAN_FewerPointsThanMinSamples(t *testing.T) {
	t.Parallel()
	pc := cloudXYZ(t, [][3]float32{{0, 1, 0}, {0, 1.01, 0}}, nil)
	assert.Empty(t, mustDBSCAN(t, 0.5, 3).Cluster(pc))
	assert.Empty(t, mustDBSCAN(t, 0.5, 3).Cluster(&l3points.PointCloud{}))
}

func TestDBSCAN_NoiseExcluded(t *testing.T) {
	t.Parallel()

	pts := append(blob(0, 5, 0, 6, 0.1), blob(3, 8, 0, 6, 0.1)...)
	pts = append(pts, [3]float32{-10, 20, 0})
	vel := make([]float32, len(pts))
	for i := 6; i < 12; i++ {
		vel[i] = 2
	}
	clusters := mustDBSCAN(t, 0.3, 3).Cluster(cloudXYZ(t, pts, vel))

	require.Len(t, clusters, 2)
	assert.Equal(t, 1, clusters[0].Label)
	assert.Equal(t, 2, clusters[1].Label)
	assert.InDelta(t, 0, clusters[0].Velocity, 1e-6)
	assert.InDelta(t, 2, clusters[1].Velocity, 1e-6)
	total := 0
	for _, c := range clusters {
		total += c.NumPoints
		assert.NotContains(t, c.PointIndices, 12)
	}
	assert.Equal(t, 12, total)
}

func TestDBSCAN_BorderPointJoinsCluster(t *testing.T) {
	t.Parallel()
	// the last point has one neighbour so it is not core, but it is
	// density-reachable from the core point at x=0.2
	pts := [][3]float32{{0, 1, 0}, {0.1, 1, 0}, {0.2, 1, 0}, {0.45, 1, 0}}
	clusters := mustDBSCAN(t, 0.26, 3).Cluster(cloudXYZ(t, pts, nil))
	require.Len(t, clusters, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, clusters[0].PointIndices)
}

func TestDBSCAN_NonFinitePointsIgnored(t *testing.T) {
	t.Parallel()
	pc := cloudXYZ(t, [][3]float32{{0, 1, 0}, {0.05, 1, 0}, {0.1, 1, 0}}, nil)
	pc.Range = append(pc.Range, float32(math.NaN()))
	pc.Azimuth = append(pc.Azimuth, 0)
	pc.Elevation = append(pc.Elevation, 0)
	pc.Velocity = append(pc.Velocity, 0)
	pc.RCS = append(pc.RCS, 0)
	pc.SNR = append(pc.SNR, 0)

	clusters := mustDBSCAN(t, 0.2, 2).Cluster(pc)
	require.Len(t, clusters, 1)
	assert.Equal(t, []int{0, 1, 2}, clusters[0].PointIndices)
}

func TestDBSCAN_MonotonicInEps(t *testing.T) {
	t.Parallel()

	t.Run("dense blobs", func(t *testing.T) {
		var pts [][3]float32
		for i := 0; i < 5; i++ {
			pts = append(pts, blob(float32(i)*1.5, 10, 0, 8, 0.2)...)
		}
		pc := cloudXYZ(t, pts, nil)
		prev := math.MaxInt
		for _, eps := range []float64{0.2, 0.4, 0.8, 1.2, 1.6, 3} {
			got := len(mustDBSCAN(t, eps, 3).Cluster(pc))
			assert.LessOrEqual(t, got, prev, "eps=%v", eps)
			prev = got
		}
		assert.Equal(t, 1, prev)
	})

	t.Run("random points single-sample cores", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		pts := make([][3]float32, 200)
		for i := range pts {
			pts[i] = [3]float32{rng.Float32() * 10, 1 + rng.Float32()*10, rng.Float32()}
		}
		pc := cloudXYZ(t, pts, nil)
		prev := math.MaxInt
		for eps := 0.05; eps < 3; eps *= 1.5 {
			got := len(mustDBSCAN(t, eps, 1).Cluster(pc))
			assert.LessOrEqual(t, got, prev, "eps=%v", eps)
			prev = got
		}
	})
}

func TestClusterMetrics_CentroidMethods(t *testing.T) {
	t.Parallel()

	pts := [][3]float32{{0, 1, 0}, {0.1, 1, 0}, {0.2, 1, 0}, {1.0, 1, 0}}
	pc := cloudXYZ(t, pts, nil)
	pc.SNR = []float32{0, 0, 0, 30}
	xyz := pc.CartesianPoints()
	idx := []int{0, 1, 2, 3}

	mean := computeClusterMetrics(pc, xyz, idx, 1, CentroidMean)
	assert.InDelta(t, 0.325, mean.Centroid[0], 1e-6)
	assert.InDelta(t, 7.5, mean.AvgSNR, 1e-6)

	med := computeClusterMetrics(pc, xyz, idx, 1, CentroidMedian)
	assert.InDelta(t, 0.15, med.Centroid[0], 1e-6)

	weighted := computeClusterMetrics(pc, xyz, idx, 1, CentroidSNRWeighted)
	assert.Greater(t, weighted.Centroid[0], float32(0.99), "30 dB point dominates")

	assert.InDelta(t, 1.0, mean.Size[0], 1e-6)
	assert.InDelta(t, MinVolume, mean.Volume, 1e-12)
}

func TestGridDBSCAN(t *testing.T) {
	t.Parallel()

	newGrid := func(t *testing.T, rangeEps, azEps float64, minSamples int) ClusterAlgorithm {
		t.Helper()
		alg, err := NewClusterAlgorithm("GridBasedDBSCAN", Params{
			GridFeatures: []Feature{FeatureRange, FeatureAzimuth},
			GridEps:      []float64{rangeEps, azEps},
			MinSamples:   minSamples,
		})
		require.NoError(t, err)
		return alg
	}

	// two radial lines of points at 0 and 0.2 rad
	var rng, az []float32
	for i := 0; i < 5; i++ {
		rng = append(rng, 2+0.1*float32(i), 2+0.1*float32(i))
		az = append(az, 0, 0.2)
	}
	pc, err := l3points.New(rng, nil, az, make([]float32, len(rng)), nil, nil, l3points.Metadata{})
	require.NoError(t, err)

	t.Run("anisotropic radius separates azimuths", func(t *testing.T) {
		clusters := newGrid(t, 0.15, 0.05, 2).Cluster(pc)
		require.Len(t, clusters, 2)
		assert.Equal(t, []int{0, 2, 4, 6, 8}, clusters[0].PointIndices)
		assert.Equal(t, []int{1, 3, 5, 7, 9}, clusters[1].PointIndices)
	})

	t.Run("wide azimuth radius merges", func(t *testing.T) {
		clusters := newGrid(t, 0.15, 0.5, 2).Cluster(pc)
		require.Len(t, clusters, 1)
		assert.Equal(t, 10, clusters[0].NumPoints)
	})

	t.Run("no core points yields no clusters", func(t *testing.T) {
		var clusters []Cluster
		require.NotPanics(t, func() { clusters = newGrid(t, 0.01, 0.01, 2).Cluster(pc) })
		assert.Empty(t, clusters)
	})
}

func TestNewClusterAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		alg     string
		params  Params
		wantErr error
		want    string
	}{
		{name: "dbscan", alg: "DBSCAN", params: Params{Eps: 0.5, MinSamples: 3}, want: AlgorithmDBSCAN},
		{name: "grid defaults features", alg: "grid-dbscan", params: Params{GridEps: []float64{0.2, 0.1}, MinSamples: 2}, want: AlgorithmGridDBSCAN},
		{name: "optics", alg: "OPTICS", params: Params{MinSamples: 3}, want: AlgorithmOPTICS},
		{name: "kmeans", alg: "k-means", params: Params{NumClusters: 3}, want: AlgorithmKMeans},
		{name: "unknown", alg: "hdbscan", params: DefaultParams(), wantErr: ErrUnknownAlgorithm},
		{name: "optics bad xi", alg: "optics", params: Params{MinSamples: 3, Xi: 1.5}, wantErr: ErrInvalidParams},
		{name: "optics zero min samples", alg: "optics", params: Params{}, wantErr: ErrInvalidParams},
		{name: "kmeans zero clusters", alg: "kmeans", params: Params{}, wantErr: ErrInvalidParams},
		{name: "empty name", alg: "", params: DefaultParams(), wantErr: ErrUnknownAlgorithm},
		{name: "zero eps", alg: "dbscan", params: Params{MinSamples: 3}, wantErr: ErrInvalidParams},
		{name: "zero min samples", alg: "dbscan", params: Params{Eps: 1}, wantErr: ErrInvalidParams},
		{name: "grid radius count", alg: "grid_dbscan", params: Params{GridEps: []float64{1}, MinSamples: 2}, wantErr: ErrInvalidParams},
		{name: "grid bad feature", alg: "grid_dbscan", params: Params{GridFeatures: []Feature{"doppler"}, GridEps: []float64{1}, MinSamples: 2}, wantErr: ErrInvalidParams},
		{name: "bad centroid", alg: "dbscan", params: Params{Eps: 1, MinSamples: 1, CentroidMethod: "mode"}, wantErr: ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alg, err := NewClusterAlgorithm(tt.alg, tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, alg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, alg.Name())
		})
	}
}

func TestParamsFromTuning(t *testing.T) {
	t.Parallel()

	got := ParamsFromTuning(config.DefaultTuningConfig())
	want := Params{
		Eps:            DefaultEps,
		MinSamples:     DefaultMinSamples,
		GridFeatures:   []Feature{FeatureRange, FeatureAzimuth},
		GridEps:        []float64{0.5, 0.1},
		CentroidMethod: CentroidMean,
		Xi:             DefaultXi,
		NumClusters:    2,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ParamsFromTuning (-got +want):\n%s", diff)
	}

	alg, err := FromTuning(config.DefaultTuningConfig())
	require.NoError(t, err)
	assert.Equal(t, AlgorithmDBSCAN, alg.Name())

	cfg := config.DefaultTuningConfig()
	name := "grid_dbscan"
	cfg.Clustering.Algorithm = &name
	alg, err = FromTuning(cfg)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmGridDBSCAN, alg.Name())
}

func threeBlobs() [][3]float32 {
	pts := blob(0, 5, 0, 8, 0.2)
	pts = append(pts, blob(4, 5, 0, 8, 0.2)...)
	return append(pts, blob(0, 10, 0, 8, 0.2)...)
}

func TestOPTICS_SeparatesBlobs(t *testing.T) {
	t.Parallel()

	alg, err := NewClusterAlgorithm("optics", Params{MinSamples: 4})
	require.NoError(t, err)
	clusters := alg.Cluster(cloudXYZ(t, threeBlobs(), nil))

	require.Len(t, clusters, 3)
	centres := [][3]float32{{0, 5, 0}, {4, 5, 0}, {0, 10, 0}}
	for i, c := range clusters {
		assert.Equal(t, i+1, c.Label)
		assert.Equal(t, 8, c.NumPoints)
		assert.Equal(t, []int{8 * i, 8*i + 1, 8*i + 2, 8*i + 3, 8*i + 4, 8*i + 5, 8*i + 6, 8*i + 7}, c.PointIndices)
		if diff := cmp.Diff(c.Centroid, centres[i], cmpopts.EquateApprox(0, 1e-4)); diff != "" {
			t.Errorf("cluster %d centroid (-got +want):\n%s", i, diff)
		}
	}
}

func TestOPTICS_SquareOfFourPoints(t *testing.T) {
	t.Parallel()

	alg, err := NewClusterAlgorithm("optics", Params{MinSamples: 2})
	require.NoError(t, err)
	pc := cloudXYZ(t, [][3]float32{{0, 0, 0}, {0.1, 0, 0}, {0, 0.1, 0}, {0.1, 0.1, 0}}, nil)
	clusters := alg.Cluster(pc)

	require.Len(t, clusters, 1)
	assert.Equal(t, 4, clusters[0].NumPoints)
	if diff := cmp.Diff(clusters[0].Centroid, [3]float32{0.05, 0.05, 0}, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("centroid (-got +want):\n%s", diff)
	}
}

func TestOPTICS_DegenerateInput(t *testing.T) {
	t.Parallel()

	alg, err := NewClusterAlgorithm("optics", Params{MinSamples: 3})
	require.NoError(t, err)
	assert.Empty(t, alg.Cluster(&l3points.PointCloud{}))
	assert.Empty(t, alg.Cluster(cloudXYZ(t, [][3]float32{{0, 1, 0}, {0, 1.1, 0}}, nil)))

	nan := float32(math.NaN())
	pts := append(blob(0, 5, 0, 8, 0.2), [3]float32{nan, 1, 0})
	var clusters []Cluster
	require.NotPanics(t, func() { clusters = alg.Cluster(cloudXYZ(t, pts, nil)) })
	for _, c := range clusters {
		assert.NotContains(t, c.PointIndices, 8)
	}
}

func TestKMeans(t *testing.T) {
	t.Parallel()

	t.Run("one cluster per blob in point order", func(t *testing.T) {
		alg, err := NewClusterAlgorithm("kmeans", Params{NumClusters: 3})
		require.NoError(t, err)
		clusters := alg.Cluster(cloudXYZ(t, threeBlobs(), nil))

		require.Len(t, clusters, 3)
		centres := [][3]float32{{0, 5, 0}, {4, 5, 0}, {0, 10, 0}}
		for i, c := range clusters {
			assert.Equal(t, 8, c.NumPoints)
			assert.Equal(t, 8*i, c.PointIndices[0])
			if diff := cmp.Diff(c.Centroid, centres[i], cmpopts.EquateApprox(0, 1e-4)); diff != "" {
				t.Errorf("cluster %d centroid (-got +want):\n%s", i, diff)
			}
		}
	})

	t.Run("reproducible", func(t *testing.T) {
		alg, err := NewClusterAlgorithm("kmeans", Params{NumClusters: 4})
		require.NoError(t, err)
		rng := rand.New(rand.NewSource(7))
		pts := make([][3]float32, 40)
		for i := range pts {
			pts[i] = [3]float32{rng.Float32() * 10, rng.Float32() * 10, 0}
		}
		pc := cloudXYZ(t, pts, nil)
		if diff := cmp.Diff(alg.Cluster(pc), alg.Cluster(pc)); diff != "" {
			t.Errorf("second run differs (-first +second):\n%s", diff)
		}
	})

	t.Run("more clusters than points", func(t *testing.T) {
		alg, err := NewClusterAlgorithm("kmeans", Params{NumClusters: 5})
		require.NoError(t, err)
		clusters := alg.Cluster(cloudXYZ(t, [][3]float32{{0, 1, 0}, {3, 4, 0}}, nil))
		require.Len(t, clusters, 2)
		assert.Equal(t, []int{0}, clusters[0].PointIndices)
		assert.Equal(t, []int{1}, clusters[1].PointIndices)
	})

	t.Run("empty cloud", func(t *testing.T) {
		alg, err := NewClusterAlgorithm("kmeans", Params{NumClusters: 2})
		require.NoError(t, err)
		assert.Empty(t, alg.Cluster(&l3points.PointCloud{}))
	})
}

func TestSpatialIndex_RegionQuery(t *testing.T) {
	t.Parallel()
	pts := [][3]float32{{0, 0, 0}, {0.4, 0, 0}, {0, 0, 0.45}, {-0.5, -0.5, -0.5}, {2, 2, 2}}
	si := NewSpatialIndex(0.5)
	si.Build(pts, nil)
	got := si.RegionQuery(pts, 0, 0.5)
	assert.ElementsMatch(t, []int{0, 1, 2}, got)

	si.Build(pts, func(i int) bool { return i != 1 })
	assert.ElementsMatch(t, []int{0, 2}, si.RegionQuery(pts, 0, 0.5))
}
