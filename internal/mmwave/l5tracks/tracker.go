package l5tracks

import (
	"math"
	"sync"

	"github.com/banshee-data/mmwave/internal/config"
	"github.com/banshee-data/mmwave/internal/mmwave/l4perception"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // fewer than MinHits associations
	TrackConfirmed TrackState = "confirmed" // reported to callers
	TrackDeleted   TrackState = "deleted"   // too many consecutive misses
)

// Association selects the cluster-to-track matching strategy.
type Association string

const (
	AssociationGreedy    Association = "greedy"
	AssociationHungarian Association = "hungarian"
)

// Config holds tracker parameters.
type Config struct {
	DT          float32 // seconds per frame
	MaxDistance float32 // association gate, metres
	MinHits     int     // associations needed for confirmation
	MaxMisses   int     // consecutive misses tolerated before deletion
	Association Association

	ProcessNoise            float64 // position process noise variance
	VelocityNoiseScale      float64 // velocity process noise as a fraction of ProcessNoise
	MeasurementNoise        float64 // centroid measurement variance
	InitialVelocityVariance float64
}

// DefaultConfig returns the baseline tracker parameters.
func DefaultConfig() Config {
	return Config{
		DT:                      0.1,
		MaxDistance:             2.0,
		MinHits:                 3,
		MaxMisses:               5,
		Association:             AssociationGreedy,
		ProcessNoise:            0.1,
		VelocityNoiseScale:      0.2,
		MeasurementNoise:        0.1,
		InitialVelocityVariance: 2,
	}
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	c := DefaultConfig()
	c.DT = float32(cfg.GetTrackingDT())
	c.MaxDistance = float32(cfg.GetMaxDistance())
	c.MinHits = cfg.GetMinHits()
	c.MaxMisses = cfg.GetMaxMisses()
	c.Association = Association(cfg.GetAssociation())
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DT <= 0 {
		c.DT = d.DT
	}
	if c.MaxDistance <= 0 {
		c.MaxDistance = d.MaxDistance
	}
	if c.MinHits <= 0 {
		c.MinHits = d.MinHits
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = d.MaxMisses
	}
	if c.Association == "" {
		c.Association = d.Association
	}
	if c.ProcessNoise <= 0 {
		c.ProcessNoise = d.ProcessNoise
	}
	if c.VelocityNoiseScale <= 0 {
		c.VelocityNoiseScale = d.VelocityNoiseScale
	}
	if c.MeasurementNoise <= 0 {
		c.MeasurementNoise = d.MeasurementNoise
	}
	if c.InitialVelocityVariance <= 0 {
		c.InitialVelocityVariance = d.InitialVelocityVariance
	}
	return c
}

// Track is one object estimate. State is [x, y, z, vx, vy, vz] and
// Covariance the row-major 6x6 state covariance.
type Track struct {
	ID         uint64
	State      [stateDim]float32
	Covariance [stateDim * stateDim]float32
	Age        uint32 // frames since birth, counting the birth frame
	Hits       uint32
	Misses     uint32 // consecutive
	Status     TrackState

	// LastCluster is the most recent associated cluster.
	LastCluster *l4perception.Cluster
}

// Position returns the estimated x, y, z.
func (t *Track) Position() [3]float32 {
	return [3]float32{t.State[0], t.State[1], t.State[2]}
}

// Velocity returns the estimated vx, vy, vz.
func (t *Track) Velocity() [3]float32 {
	return [3]float32{t.State[3], t.State[4], t.State[5]}
}

// Speed is the magnitude of the velocity estimate in m/s.
func (t *Track) Speed() float32 {
	v := t.Velocity()
	return float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
}

// Stats counts lifecycle transitions since the tracker was created or reset.
type Stats struct {
	Frames    uint64
	Created   uint64
	Confirmed uint64
	Deleted   uint64
}

// Tracker owns the live track set. It is safe for concurrent use; Update
// calls are serialised.
type Tracker struct {
	config Config
	model  *kalmanModel

	tracks []*Track // creation order
	nextID uint64
	stats  Stats

	mu sync.RWMutex
}

// NewTracker creates a tracker. Zero fields in cfg take their defaults.
func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		config: cfg,
		model:  newKalmanModel(cfg),
	}
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}

// Reset drops every track and restarts IDs at zero.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 0
	t.stats = Stats{}
}

// Update advances every track by one frame using this frame's clusters
// and returns copies of the confirmed tracks.
func (t *Tracker) Update(clusters []l4perception.Cluster) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Frames++

	// Step 1: predict
	for _, tr := range t.tracks {
		t.model.predict(tr)
	}

	// Step 2: associate against predicted positions
	assign := t.associate(clusters)

	// Step 3: correct matched tracks; Step 4: age the rest
	claimed := make([]bool, len(clusters))
	for ti, tr := range t.tracks {
		tr.Age++
		ci := assign[ti]
		if ci < 0 {
			tr.Misses++
			continue
		}
		claimed[ci] = true
		if !t.model.update(tr, clusters[ci].Centroid) {
			monitoring.Logf("[tracker] singular innovation for track %d, keeping prediction", tr.ID)
		}
		c := clusters[ci]
		tr.LastCluster = &c
		tr.Hits++
		tr.Misses = 0
	}

	// Step 5: birth
	for ci := range clusters {
		if claimed[ci] {
			continue
		}
		c := clusters[ci]
		tr := &Track{ID: t.nextID, Age: 1, Hits: 1, LastCluster: &c}
		t.model.initTrackState(tr, c.Centroid, c.Velocity)
		t.nextID++
		t.stats.Created++
		t.tracks = append(t.tracks, tr)
	}

	// Step 6: death, then status refresh
	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if int(tr.Misses) > t.config.MaxMisses {
			tr.Status = TrackDeleted
			t.stats.Deleted++
			continue
		}
		if int(tr.Hits) >= t.config.MinHits {
			if tr.Status != TrackConfirmed {
				t.stats.Confirmed++
			}
			tr.Status = TrackConfirmed
		} else {
			tr.Status = TrackTentative
		}
		live = append(live, tr)
	}
	for i := len(live); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = live

	return t.confirmedLocked()
}

// associate returns, for each track in order, the index of its cluster or -1.
func (t *Tracker) associate(clusters []l4perception.Cluster) []int {
	assign := make([]int, len(t.tracks))
	for i := range assign {
		assign[i] = -1
	}
	if len(t.tracks) == 0 || len(clusters) == 0 {
		return assign
	}
	gate := float64(t.config.MaxDistance)

	if t.config.Association == AssociationHungarian {
		cost := make([][]float64, len(t.tracks))
		for ti, tr := range t.tracks {
			cost[ti] = make([]float64, len(clusters))
			for ci := range clusters {
				d := distance(tr, &clusters[ci])
				if d > gate {
					d = forbiddenCost
				}
				cost[ti][ci] = d
			}
		}
		return hungarianAssign(cost)
	}

	used := make([]bool, len(clusters))
	for ti, tr := range t.tracks {
		best, bestDist := -1, math.Inf(1)
		for ci := range clusters {
			if used[ci] {
				continue
			}
			if d := distance(tr, &clusters[ci]); d <= gate && d < bestDist {
				best, bestDist = ci, d
			}
		}
		if best >= 0 {
			used[best] = true
			assign[ti] = best
		}
	}
	return assign
}

func distance(tr *Track, c *l4perception.Cluster) float64 {
	var sum float64
	for a := 0; a < 3; a++ {
		d := float64(tr.State[a]) - float64(c.Centroid[a])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (t *Tracker) confirmedLocked() []Track {
	var out []Track
	for _, tr := range t.tracks {
		if tr.Status == TrackConfirmed {
			out = append(out, *tr)
		}
	}
	return out
}

// ConfirmedTracks returns copies of the confirmed tracks in creation order.
func (t *Tracker) ConfirmedTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.confirmedLocked()
}

// Tracks returns copies of every live track, tentative included.
func (t *Tracker) Tracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = *tr
	}
	return out
}

// GetTrackCount reports live tracks by state.
func (t *Tracker) GetTrackCount() (total, tentative, confirmed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tr := range t.tracks {
		total++
		if tr.Status == TrackConfirmed {
			confirmed++
		} else {
			tentative++
		}
	}
	return total, tentative, confirmed
}

// Stats returns the lifecycle counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
