package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root of the radar tuning file. Every field is a
// pointer so partial files are safe; the Get* methods supply defaults for
// anything left unset. The same schema is accepted as JSON or YAML.
type TuningConfig struct {
	Clustering *ClusteringConfig `json:"clustering,omitempty" yaml:"clustering,omitempty"`
	Tracking   *TrackingConfig   `json:"tracking,omitempty" yaml:"tracking,omitempty"`
	Pipeline   *PipelineConfig   `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Device     *DeviceConfig     `json:"device,omitempty" yaml:"device,omitempty"`
	Radar      *RadarConfig      `json:"radar,omitempty" yaml:"radar,omitempty"`
}

// ClusteringConfig selects and parameterises the clustering algorithm.
type ClusteringConfig struct {
	Enabled        *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Algorithm      *string   `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Eps            *float64  `json:"eps,omitempty" yaml:"eps,omitempty"`
	MinSamples     *int      `json:"min_samples,omitempty" yaml:"min_samples,omitempty"`
	GridEps        []float64 `json:"grid_eps,omitempty" yaml:"grid_eps,omitempty"`
	GridFeatures   []string  `json:"grid_features,omitempty" yaml:"grid_features,omitempty"`
	CentroidMethod *string   `json:"centroid_method,omitempty" yaml:"centroid_method,omitempty"`
	Xi             *float64  `json:"xi,omitempty" yaml:"xi,omitempty"`                 // OPTICS steepness
	NumClusters    *int      `json:"n_clusters,omitempty" yaml:"n_clusters,omitempty"` // k-means
}

// TrackingConfig holds tracker parameters.
type TrackingConfig struct {
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	DT          *float64 `json:"dt,omitempty" yaml:"dt,omitempty"`
	MaxDistance *float64 `json:"max_distance,omitempty" yaml:"max_distance,omitempty"`
	MinHits     *int     `json:"min_hits,omitempty" yaml:"min_hits,omitempty"`
	MaxMisses   *int     `json:"max_misses,omitempty" yaml:"max_misses,omitempty"`
	Association *string  `json:"association,omitempty" yaml:"association,omitempty"`
}

// PipelineConfig holds frame queue parameters.
type PipelineConfig struct {
	QueueSize *int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// DeviceConfig describes how to reach the sensor.
type DeviceConfig struct {
	Transport       *string `json:"transport,omitempty" yaml:"transport,omitempty"` // auto, serial, network
	CLIPort         *string `json:"cli_port,omitempty" yaml:"cli_port,omitempty"`
	DataPort        *string `json:"data_port,omitempty" yaml:"data_port,omitempty"`
	CLIBaud         *int    `json:"cli_baud,omitempty" yaml:"cli_baud,omitempty"`
	DataBaud        *int    `json:"data_baud,omitempty" yaml:"data_baud,omitempty"`
	ControlEndpoint *string `json:"control_endpoint,omitempty" yaml:"control_endpoint,omitempty"`
	DataEndpoint    *string `json:"data_endpoint,omitempty" yaml:"data_endpoint,omitempty"`
	NumFrames       *int    `json:"num_frames,omitempty" yaml:"num_frames,omitempty"`
	MaxSyncAttempts *int    `json:"max_sync_attempts,omitempty" yaml:"max_sync_attempts,omitempty"`
	MaxFrameBytes   *int    `json:"max_frame_bytes,omitempty" yaml:"max_frame_bytes,omitempty"`
	ReadTimeout     *string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"` // duration string like "100ms"
	ProfilePath     *string `json:"profile_path,omitempty" yaml:"profile_path,omitempty"`
}

// RadarConfig holds the runtime overrides applied to the profile before
// it is sent to the device.
type RadarConfig struct {
	ClutterRemoval *bool    `json:"clutter_removal,omitempty" yaml:"clutter_removal,omitempty"`
	FramePeriodMs  *float64 `json:"frame_period_ms,omitempty" yaml:"frame_period_ms,omitempty"`
	MOBEnabled     *bool    `json:"mob_enabled,omitempty" yaml:"mob_enabled,omitempty"`
	MOBThreshold   *float64 `json:"mob_threshold,omitempty" yaml:"mob_threshold,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a fully populated config holding the
// compiled-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		Clustering: &ClusteringConfig{
			Enabled:        ptrBool(e.GetClusteringEnabled()),
			Algorithm:      ptrString(e.GetClusterAlgorithm()),
			Eps:            ptrFloat64(e.GetEps()),
			MinSamples:     ptrInt(e.GetMinSamples()),
			GridEps:        e.GetGridEps(),
			GridFeatures:   e.GetGridFeatures(),
			CentroidMethod: ptrString(e.GetCentroidMethod()),
			Xi:             ptrFloat64(e.GetXi()),
			NumClusters:    ptrInt(e.GetNumClusters()),
		},
		Tracking: &TrackingConfig{
			Enabled:     ptrBool(e.GetTrackingEnabled()),
			DT:          ptrFloat64(e.GetTrackingDT()),
			MaxDistance: ptrFloat64(e.GetMaxDistance()),
			MinHits:     ptrInt(e.GetMinHits()),
			MaxMisses:   ptrInt(e.GetMaxMisses()),
			Association: ptrString(e.GetAssociation()),
		},
		Pipeline: &PipelineConfig{QueueSize: ptrInt(e.GetQueueSize())},
		Device: &DeviceConfig{
			Transport:       ptrString(e.GetTransport()),
			CLIPort:         ptrString(e.GetCLIPort()),
			DataPort:        ptrString(e.GetDataPort()),
			CLIBaud:         ptrInt(e.GetCLIBaud()),
			DataBaud:        ptrInt(e.GetDataBaud()),
			ControlEndpoint: ptrString(e.GetControlEndpoint()),
			DataEndpoint:    ptrString(e.GetDataEndpoint()),
			NumFrames:       ptrInt(e.GetNumFrames()),
			MaxSyncAttempts: ptrInt(e.GetMaxSyncAttempts()),
			MaxFrameBytes:   ptrInt(e.GetMaxFrameBytes()),
			ReadTimeout:     ptrString(e.GetReadTimeout().String()),
			ProfilePath:     ptrString(e.GetProfilePath()),
		},
		Radar: &RadarConfig{
			ClutterRemoval: ptrBool(e.GetClutterRemoval()),
			FramePeriodMs:  ptrFloat64(e.GetFramePeriodMs()),
			MOBEnabled:     ptrBool(e.GetMOBEnabled()),
			MOBThreshold:   ptrFloat64(e.GetMOBThreshold()),
		},
	}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file
// no larger than 1MB and validates it.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. When no file is found it returns the compiled
// defaults. It panics only if a file is found but does not load.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/mmwave/l5tracks/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadTuningConfig(path)
		if err != nil {
			panic("cannot load " + path + ": " + err.Error())
		}
		return cfg
	}
	return DefaultTuningConfig()
}

// Validate checks that every set value is within range.
func (c *TuningConfig) Validate() error {
	if cl := c.Clustering; cl != nil {
		if cl.Eps != nil && (*cl.Eps < 0.1 || *cl.Eps > 2.0) {
			return fmt.Errorf("clustering.eps must be between 0.1 and 2.0, got %f", *cl.Eps)
		}
		if cl.MinSamples != nil && (*cl.MinSamples < 1 || *cl.MinSamples > 20) {
			return fmt.Errorf("clustering.min_samples must be between 1 and 20, got %d", *cl.MinSamples)
		}
		if len(cl.GridEps) > 0 && len(cl.GridFeatures) > 0 && len(cl.GridEps) != len(cl.GridFeatures) {
			return fmt.Errorf("clustering.grid_eps has %d entries but grid_features has %d", len(cl.GridEps), len(cl.GridFeatures))
		}
		for i, e := range cl.GridEps {
			if e <= 0 {
				return fmt.Errorf("clustering.grid_eps[%d] must be positive, got %f", i, e)
			}
		}
		if cl.CentroidMethod != nil {
			switch *cl.CentroidMethod {
			case "mean", "median", "snr_weighted":
			default:
				return fmt.Errorf("clustering.centroid_method must be mean, median or snr_weighted, got %q", *cl.CentroidMethod)
			}
		}
		if cl.Xi != nil && (*cl.Xi <= 0 || *cl.Xi >= 1) {
			return fmt.Errorf("clustering.xi must be between 0 and 1 exclusive, got %f", *cl.Xi)
		}
		if cl.NumClusters != nil && *cl.NumClusters < 1 {
			return fmt.Errorf("clustering.n_clusters must be at least 1, got %d", *cl.NumClusters)
		}
	}

	if tr := c.Tracking; tr != nil {
		if tr.DT != nil && (*tr.DT < 0.01 || *tr.DT > 1.0) {
			return fmt.Errorf("tracking.dt must be between 0.01 and 1.0, got %f", *tr.DT)
		}
		if tr.MaxDistance != nil && (*tr.MaxDistance < 0.5 || *tr.MaxDistance > 5.0) {
			return fmt.Errorf("tracking.max_distance must be between 0.5 and 5.0, got %f", *tr.MaxDistance)
		}
		if tr.MinHits != nil && (*tr.MinHits < 1 || *tr.MinHits > 10) {
			return fmt.Errorf("tracking.min_hits must be between 1 and 10, got %d", *tr.MinHits)
		}
		if tr.MaxMisses != nil && *tr.MaxMisses < 1 {
			return fmt.Errorf("tracking.max_misses must be at least 1, got %d", *tr.MaxMisses)
		}
		if tr.Association != nil && *tr.Association != "greedy" && *tr.Association != "hungarian" {
			return fmt.Errorf("tracking.association must be greedy or hungarian, got %q", *tr.Association)
		}
	}

	if p := c.Pipeline; p != nil && p.QueueSize != nil && *p.QueueSize < 1 {
		return fmt.Errorf("pipeline.queue_size must be at least 1, got %d", *p.QueueSize)
	}

	if d := c.Device; d != nil {
		if d.Transport != nil {
			switch *d.Transport {
			case "auto", "serial", "network":
			default:
				return fmt.Errorf("device.transport must be auto, serial or network, got %q", *d.Transport)
			}
		}
		if d.NumFrames != nil && *d.NumFrames < 0 {
			return fmt.Errorf("device.num_frames must be non-negative, got %d", *d.NumFrames)
		}
		if d.MaxSyncAttempts != nil && *d.MaxSyncAttempts < 1 {
			return fmt.Errorf("device.max_sync_attempts must be at least 1, got %d", *d.MaxSyncAttempts)
		}
		if d.MaxFrameBytes != nil && *d.MaxFrameBytes < 40 {
			return fmt.Errorf("device.max_frame_bytes must be at least 40, got %d", *d.MaxFrameBytes)
		}
		if d.ReadTimeout != nil && *d.ReadTimeout != "" {
			if _, err := time.ParseDuration(*d.ReadTimeout); err != nil {
				return fmt.Errorf("invalid device.read_timeout '%s': %w", *d.ReadTimeout, err)
			}
		}
	}

	if r := c.Radar; r != nil && r.FramePeriodMs != nil && *r.FramePeriodMs <= 0 {
		return fmt.Errorf("radar.frame_period_ms must be positive, got %f", *r.FramePeriodMs)
	}
	return nil
}

func (c *TuningConfig) clustering() *ClusteringConfig {
	if c == nil || c.Clustering == nil {
		return &ClusteringConfig{}
	}
	return c.Clustering
}

func (c *TuningConfig) tracking() *TrackingConfig {
	if c == nil || c.Tracking == nil {
		return &TrackingConfig{}
	}
	return c.Tracking
}

func (c *TuningConfig) device() *DeviceConfig {
	if c == nil || c.Device == nil {
		return &DeviceConfig{}
	}
	return c.Device
}

func (c *TuningConfig) radar() *RadarConfig {
	if c == nil || c.Radar == nil {
		return &RadarConfig{}
	}
	return c.Radar
}

// GetClusteringEnabled returns clustering.enabled or the default.
func (c *TuningConfig) GetClusteringEnabled() bool {
	if v := c.clustering().Enabled; v != nil {
		return *v
	}
	return true
}

// GetClusterAlgorithm returns clustering.algorithm or the default.
func (c *TuningConfig) GetClusterAlgorithm() string {
	if v := c.clustering().Algorithm; v != nil && *v != "" {
		return *v
	}
	return "dbscan"
}

// GetEps returns clustering.eps or the default.
func (c *TuningConfig) GetEps() float64 {
	if v := c.clustering().Eps; v != nil {
		return *v
	}
	return 0.5
}

// GetMinSamples returns clustering.min_samples or the default.
func (c *TuningConfig) GetMinSamples() int {
	if v := c.clustering().MinSamples; v != nil {
		return *v
	}
	return 5
}

// GetXi returns clustering.xi or the default of 0.05.
func (c *TuningConfig) GetXi() float64 {
	if v := c.clustering().Xi; v != nil {
		return *v
	}
	return 0.05
}

// GetNumClusters returns clustering.n_clusters or the default.
func (c *TuningConfig) GetNumClusters() int {
	if v := c.clustering().NumClusters; v != nil {
		return *v
	}
	return 2
}

// GetGridEps returns clustering.grid_eps or the per-feature defaults for
// the default range/azimuth feature pair.
func (c *TuningConfig) GetGridEps() []float64 {
	if v := c.clustering().GridEps; len(v) > 0 {
		return append([]float64(nil), v...)
	}
	return []float64{0.5, 0.1}
}

// GetGridFeatures returns clustering.grid_features or the default.
func (c *TuningConfig) GetGridFeatures() []string {
	if v := c.clustering().GridFeatures; len(v) > 0 {
		return append([]string(nil), v...)
	}
	return []string{"range", "azimuth"}
}

// GetCentroidMethod returns clustering.centroid_method or the default.
func (c *TuningConfig) GetCentroidMethod() string {
	if v := c.clustering().CentroidMethod; v != nil && *v != "" {
		return *v
	}
	return "mean"
}

// GetTrackingEnabled returns tracking.enabled or the default.
func (c *TuningConfig) GetTrackingEnabled() bool {
	if v := c.tracking().Enabled; v != nil {
		return *v
	}
	return true
}

// GetTrackingDT returns tracking.dt in seconds or the default.
func (c *TuningConfig) GetTrackingDT() float64 {
	if v := c.tracking().DT; v != nil {
		return *v
	}
	return 0.1
}

// GetMaxDistance returns tracking.max_distance or the default.
func (c *TuningConfig) GetMaxDistance() float64 {
	if v := c.tracking().MaxDistance; v != nil {
		return *v
	}
	return 2.0
}

// GetMinHits returns tracking.min_hits or the default.
func (c *TuningConfig) GetMinHits() int {
	if v := c.tracking().MinHits; v != nil {
		return *v
	}
	return 3
}

// GetMaxMisses returns tracking.max_misses or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if v := c.tracking().MaxMisses; v != nil {
		return *v
	}
	return 5
}

// GetAssociation returns tracking.association or the default.
func (c *TuningConfig) GetAssociation() string {
	if v := c.tracking().Association; v != nil && *v != "" {
		return *v
	}
	return "greedy"
}

// GetQueueSize returns pipeline.queue_size or the default.
func (c *TuningConfig) GetQueueSize() int {
	if c != nil && c.Pipeline != nil && c.Pipeline.QueueSize != nil {
		return *c.Pipeline.QueueSize
	}
	return 30
}

// GetTransport returns device.transport or the default.
func (c *TuningConfig) GetTransport() string {
	if v := c.device().Transport; v != nil && *v != "" {
		return *v
	}
	return "auto"
}

// GetCLIPort returns device.cli_port or the default.
func (c *TuningConfig) GetCLIPort() string {
	if v := c.device().CLIPort; v != nil && *v != "" {
		return *v
	}
	return "/dev/ttyUSB0"
}

// GetDataPort returns device.data_port or the default.
func (c *TuningConfig) GetDataPort() string {
	if v := c.device().DataPort; v != nil && *v != "" {
		return *v
	}
	return "/dev/ttyUSB1"
}

// GetCLIBaud returns device.cli_baud or the default.
func (c *TuningConfig) GetCLIBaud() int {
	if v := c.device().CLIBaud; v != nil && *v > 0 {
		return *v
	}
	return 115200
}

// GetDataBaud returns device.data_baud or the default.
func (c *TuningConfig) GetDataBaud() int {
	if v := c.device().DataBaud; v != nil && *v > 0 {
		return *v
	}
	return 460800
}

// GetControlEndpoint returns device.control_endpoint or the default.
func (c *TuningConfig) GetControlEndpoint() string {
	if v := c.device().ControlEndpoint; v != nil && *v != "" {
		return *v
	}
	return "tcp://127.0.0.1:5557"
}

// GetDataEndpoint returns device.data_endpoint or the default.
func (c *TuningConfig) GetDataEndpoint() string {
	if v := c.device().DataEndpoint; v != nil && *v != "" {
		return *v
	}
	return "tcp://127.0.0.1:5556"
}

// GetNumFrames returns device.num_frames, 0 meaning unlimited.
func (c *TuningConfig) GetNumFrames() int {
	if v := c.device().NumFrames; v != nil {
		return *v
	}
	return 0
}

// GetMaxSyncAttempts returns device.max_sync_attempts or the default.
func (c *TuningConfig) GetMaxSyncAttempts() int {
	if v := c.device().MaxSyncAttempts; v != nil {
		return *v
	}
	return 10000
}

// GetMaxFrameBytes returns device.max_frame_bytes, the largest frame the
// synchroniser will buffer, defaulting to 1 MiB.
func (c *TuningConfig) GetMaxFrameBytes() int {
	if v := c.device().MaxFrameBytes; v != nil {
		return *v
	}
	return 1 << 20
}

// GetReadTimeout parses device.read_timeout.
func (c *TuningConfig) GetReadTimeout() time.Duration {
	v := c.device().ReadTimeout
	if v == nil || *v == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetProfilePath returns device.profile_path or the default.
func (c *TuningConfig) GetProfilePath() string {
	if v := c.device().ProfilePath; v != nil && *v != "" {
		return *v
	}
	return "config/profile_3d.cfg"
}

// GetClutterRemoval returns radar.clutter_removal or the default.
func (c *TuningConfig) GetClutterRemoval() bool {
	if v := c.radar().ClutterRemoval; v != nil {
		return *v
	}
	return false
}

// GetFramePeriodMs returns radar.frame_period_ms or the default.
func (c *TuningConfig) GetFramePeriodMs() float64 {
	if v := c.radar().FramePeriodMs; v != nil {
		return *v
	}
	return 100
}

// GetMOBEnabled returns radar.mob_enabled or the default.
func (c *TuningConfig) GetMOBEnabled() bool {
	if v := c.radar().MOBEnabled; v != nil {
		return *v
	}
	return false
}

// GetMOBThreshold returns radar.mob_threshold or the default.
func (c *TuningConfig) GetMOBThreshold() float64 {
	if v := c.radar().MOBThreshold; v != nil {
		return *v
	}
	return 0.5
}
