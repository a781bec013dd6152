package l4perception

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/mmwave/internal/config"
	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
)

const (
	AlgorithmDBSCAN     = "dbscan"
	AlgorithmGridDBSCAN = "grid_dbscan"
	AlgorithmOPTICS     = "optics"
	AlgorithmKMeans     = "kmeans"

	DefaultEps        = 0.5
	DefaultMinSamples = 5
)

var (
	ErrUnknownAlgorithm = errors.New("l4perception: unknown clustering algorithm")
	ErrInvalidParams    = errors.New("l4perception: invalid clustering parameters")
)

// ClusterAlgorithm groups one frame's points into clusters.
type ClusterAlgorithm interface {
	Cluster(pc *l3points.PointCloud) []Cluster
	Name() string
}

// Params configures any supported algorithm. Fields an algorithm does not
// use are ignored.
type Params struct {
	Eps            float64 // DBSCAN radius, metres
	MinSamples     int     // core-point threshold, including the point itself
	GridFeatures   []Feature
	GridEps        []float64
	CentroidMethod CentroidMethod
	Xi             float64 // OPTICS steepness; 0 means DefaultXi
	NumClusters    int     // k-means cluster count
}

// DefaultParams matches the shipped tuning defaults.
func DefaultParams() Params {
	return Params{
		Eps:            DefaultEps,
		MinSamples:     DefaultMinSamples,
		CentroidMethod: CentroidMean,
	}
}

// ParamsFromTuning reads the clustering section of a tuning config.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	features := make([]Feature, 0, len(cfg.GetGridFeatures()))
	for _, f := range cfg.GetGridFeatures() {
		features = append(features, Feature(strings.ToLower(f)))
	}
	return Params{
		Eps:            cfg.GetEps(),
		MinSamples:     cfg.GetMinSamples(),
		GridFeatures:   features,
		GridEps:        cfg.GetGridEps(),
		CentroidMethod: CentroidMethod(cfg.GetCentroidMethod()),
		Xi:             cfg.GetXi(),
		NumClusters:    cfg.GetNumClusters(),
	}
}

// FromTuning builds the configured algorithm.
func FromTuning(cfg *config.TuningConfig) (ClusterAlgorithm, error) {
	return NewClusterAlgorithm(cfg.GetClusterAlgorithm(), ParamsFromTuning(cfg))
}

// NewClusterAlgorithm returns the named algorithm, failing on unknown
// names or invalid parameters. Names are case-insensitive; "griddbscan"
// and "gridbaseddbscan" are accepted for grid_dbscan and "k_means" for
// kmeans.
func NewClusterAlgorithm(name string, p Params) (ClusterAlgorithm, error) {
	method := p.CentroidMethod
	switch method {
	case "":
		method = CentroidMean
	case CentroidMean, CentroidMedian, CentroidSNRWeighted:
	default:
		return nil, fmt.Errorf("%w: unknown centroid method %q", ErrInvalidParams, method)
	}

	switch strings.ToLower(strings.ReplaceAll(name, "-", "_")) {
	case AlgorithmDBSCAN:
		if !(p.Eps > 0) {
			return nil, fmt.Errorf("%w: eps must be positive, got %v", ErrInvalidParams, p.Eps)
		}
		if p.MinSamples < 1 {
			return nil, fmt.Errorf("%w: min_samples must be at least 1, got %d", ErrInvalidParams, p.MinSamples)
		}
		return &DBSCAN{Eps: p.Eps, MinSamples: p.MinSamples, CentroidMethod: method}, nil
	case AlgorithmGridDBSCAN, "griddbscan", "gridbaseddbscan", "grid_based_dbscan":
		features := p.GridFeatures
		if len(features) == 0 {
			features = DefaultGridFeatures
		}
		g := &GridDBSCAN{
			Features:       append([]Feature(nil), features...),
			Eps:            append([]float64(nil), p.GridEps...),
			MinSamples:     p.MinSamples,
			CentroidMethod: method,
		}
		if err := g.validate(); err != nil {
			return nil, err
		}
		return g, nil
	case AlgorithmOPTICS:
		if p.MinSamples < 1 {
			return nil, fmt.Errorf("%w: min_samples must be at least 1, got %d", ErrInvalidParams, p.MinSamples)
		}
		xi := p.Xi
		if xi == 0 {
			xi = DefaultXi
		}
		if !(xi > 0 && xi < 1) {
			return nil, fmt.Errorf("%w: xi must be in (0, 1), got %v", ErrInvalidParams, p.Xi)
		}
		return &OPTICS{MinSamples: p.MinSamples, Xi: xi, CentroidMethod: method}, nil
	case AlgorithmKMeans, "k_means":
		if p.NumClusters < 1 {
			return nil, fmt.Errorf("%w: n_clusters must be at least 1, got %d", ErrInvalidParams, p.NumClusters)
		}
		return &KMeans{NumClusters: p.NumClusters, CentroidMethod: method}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}
