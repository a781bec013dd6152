package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.Clustering == nil || cfg.Clustering.Eps == nil || *cfg.Clustering.Eps != 0.5 {
		t.Errorf("Expected clustering.eps 0.5, got %v", cfg.Clustering)
	}
	if cfg.Tracking == nil || cfg.Tracking.MinHits == nil || *cfg.Tracking.MinHits != 3 {
		t.Errorf("Expected tracking.min_hits 3, got %v", cfg.Tracking)
	}
	if cfg.GetMaxMisses() != 5 {
		t.Errorf("GetMaxMisses() = %d, want 5", cfg.GetMaxMisses())
	}
	if cfg.GetQueueSize() != 30 {
		t.Errorf("GetQueueSize() = %d, want 30", cfg.GetQueueSize())
	}
	if cfg.GetReadTimeout() != 100*time.Millisecond {
		t.Errorf("GetReadTimeout() = %v, want 100ms", cfg.GetReadTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultsFileMatchesCompiledDefaults(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(fromFile, DefaultTuningConfig()); diff != "" {
		t.Errorf("tuning.defaults.json drifted from compiled defaults (-got +want):\n%s", diff)
	}
}

func TestNilConfigGetters(t *testing.T) {
	var cfg *TuningConfig
	if cfg.GetEps() != 0.5 {
		t.Errorf("GetEps() on nil = %f, want 0.5", cfg.GetEps())
	}
	if cfg.GetAssociation() != "greedy" {
		t.Errorf("GetAssociation() on nil = %q, want greedy", cfg.GetAssociation())
	}
	if cfg.GetQueueSize() != 30 {
		t.Errorf("GetQueueSize() on nil = %d, want 30", cfg.GetQueueSize())
	}
	if cfg.GetMaxFrameBytes() != 1<<20 {
		t.Errorf("GetMaxFrameBytes() on nil = %d, want 1 MiB", cfg.GetMaxFrameBytes())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "partial.json",
			body: `{
  "clustering": {"eps": 0.8, "algorithm": "grid_dbscan"},
  "tracking": {"min_hits": 4, "association": "hungarian"},
  "device": {"transport": "network"}
}`,
		},
		{
			name: "yaml",
			file: "partial.yaml",
			body: `clustering:
  eps: 0.8
  algorithm: grid_dbscan
tracking:
  min_hits: 4
  association: hungarian
device:
  transport: network
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			cfg, err := LoadTuningConfig(path)
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if cfg.GetEps() != 0.8 {
				t.Errorf("GetEps() = %f, want 0.8", cfg.GetEps())
			}
			if cfg.GetClusterAlgorithm() != "grid_dbscan" {
				t.Errorf("GetClusterAlgorithm() = %q, want grid_dbscan", cfg.GetClusterAlgorithm())
			}
			if cfg.GetMinHits() != 4 {
				t.Errorf("GetMinHits() = %d, want 4", cfg.GetMinHits())
			}
			if cfg.GetAssociation() != "hungarian" {
				t.Errorf("GetAssociation() = %q, want hungarian", cfg.GetAssociation())
			}
			if cfg.GetTransport() != "network" {
				t.Errorf("GetTransport() = %q, want network", cfg.GetTransport())
			}
			// Unset fields fall back to defaults.
			if cfg.GetMaxMisses() != 5 {
				t.Errorf("GetMaxMisses() = %d, want 5", cfg.GetMaxMisses())
			}
			if cfg.GetDataBaud() != 460800 {
				t.Errorf("GetDataBaud() = %d, want 460800", cfg.GetDataBaud())
			}
		})
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", "/nonexistent/path/to/config.json"},
		{"wrong extension", write("config.toml", "eps = 1")},
		{"invalid json", write("bad.json", `{"clustering": {"eps": "x"}`)},
		{"invalid yaml", write("bad.yaml", "clustering: [unclosed")},
		{"out of range", write("range.json", `{"tracking": {"max_distance": 9}}`)},
		{"too large", write("big.json", `{"pad": "`+string(make([]byte, 1024*1024))+`"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTuningConfig(tt.path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{"valid config", DefaultTuningConfig(), false},
		{"empty config is valid", &TuningConfig{}, false},
		{"eps too small", &TuningConfig{Clustering: &ClusteringConfig{Eps: ptrFloat64(0.05)}}, true},
		{"eps too large", &TuningConfig{Clustering: &ClusteringConfig{Eps: ptrFloat64(2.5)}}, true},
		{"min samples zero", &TuningConfig{Clustering: &ClusteringConfig{MinSamples: ptrInt(0)}}, true},
		{"grid eps length mismatch", &TuningConfig{Clustering: &ClusteringConfig{GridEps: []float64{1}, GridFeatures: []string{"x", "y"}}}, true},
		{"grid eps non-positive", &TuningConfig{Clustering: &ClusteringConfig{GridEps: []float64{0}}}, true},
		{"bad centroid method", &TuningConfig{Clustering: &ClusteringConfig{CentroidMethod: ptrString("mode")}}, true},
		{"xi zero", &TuningConfig{Clustering: &ClusteringConfig{Xi: ptrFloat64(0)}}, true},
		{"xi one", &TuningConfig{Clustering: &ClusteringConfig{Xi: ptrFloat64(1)}}, true},
		{"n clusters zero", &TuningConfig{Clustering: &ClusteringConfig{NumClusters: ptrInt(0)}}, true},
		{"dt too small", &TuningConfig{Tracking: &TrackingConfig{DT: ptrFloat64(0.001)}}, true},
		{"max distance too small", &TuningConfig{Tracking: &TrackingConfig{MaxDistance: ptrFloat64(0.1)}}, true},
		{"min hits too large", &TuningConfig{Tracking: &TrackingConfig{MinHits: ptrInt(11)}}, true},
		{"max misses zero", &TuningConfig{Tracking: &TrackingConfig{MaxMisses: ptrInt(0)}}, true},
		{"bad association", &TuningConfig{Tracking: &TrackingConfig{Association: ptrString("auction")}}, true},
		{"queue size zero", &TuningConfig{Pipeline: &PipelineConfig{QueueSize: ptrInt(0)}}, true},
		{"bad transport", &TuningConfig{Device: &DeviceConfig{Transport: ptrString("usb")}}, true},
		{"negative num frames", &TuningConfig{Device: &DeviceConfig{NumFrames: ptrInt(-1)}}, true},
		{"max frame bytes below preamble", &TuningConfig{Device: &DeviceConfig{MaxFrameBytes: ptrInt(32)}}, true},
		{"bad read timeout", &TuningConfig{Device: &DeviceConfig{ReadTimeout: ptrString("soon")}}, true},
		{"zero frame period", &TuningConfig{Radar: &RadarConfig{FramePeriodMs: ptrFloat64(0)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetReadTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{"250 milliseconds", &TuningConfig{Device: &DeviceConfig{ReadTimeout: ptrString("250ms")}}, 250 * time.Millisecond},
		{"1 second", &TuningConfig{Device: &DeviceConfig{ReadTimeout: ptrString("1s")}}, time.Second},
		{"nil section returns default", &TuningConfig{}, 100 * time.Millisecond},
		{"empty string returns default", &TuningConfig{Device: &DeviceConfig{ReadTimeout: ptrString("")}}, 100 * time.Millisecond},
		{"invalid duration returns default", &TuningConfig{Device: &DeviceConfig{ReadTimeout: ptrString("invalid")}}, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetReadTimeout(); got != tt.want {
				t.Errorf("GetReadTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGettersReturnCopies(t *testing.T) {
	cfg := DefaultTuningConfig()
	eps := cfg.GetGridEps()
	eps[0] = 99
	if cfg.GetGridEps()[0] == 99 {
		t.Error("GetGridEps() leaked its backing array")
	}
}
