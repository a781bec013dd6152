package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/mmwave/internal/config"
	"github.com/banshee-data/mmwave/internal/mmwave/device"
	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
	"github.com/banshee-data/mmwave/internal/mmwave/l2tlv"
	"github.com/banshee-data/mmwave/internal/mmwave/l3points"
	"github.com/banshee-data/mmwave/internal/mmwave/l4perception"
	"github.com/banshee-data/mmwave/internal/mmwave/l5tracks"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/monitoring"
)

// DefaultQueueSize matches the tuning default for pipeline.queue_size.
const DefaultQueueSize = 30

// FrameSource yields raw frames in stream order. device.Connection and
// recorder.Replayer satisfy it.
type FrameSource interface {
	TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error)
}

// Result is everything derived from one frame. Fields for disabled stages
// are nil.
type Result struct {
	ReceivedAt time.Time
	Raw        *l1frames.RawFrame
	Frame      *l2tlv.Frame
	Points     *l3points.PointCloud
	Clusters   []l4perception.Cluster
	// Tracks are the confirmed tracks after this frame.
	Tracks []l5tracks.Track
	// Latency is the time from receipt to the end of tracking.
	Latency time.Duration
}

// Sink receives each result in frame order. OnFrame runs on the worker
// goroutine, so a slow sink delays the queue.
type Sink interface {
	OnFrame(Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result)

func (f SinkFunc) OnFrame(r Result) { f(r) }

// Config wires the stages. A nil Clusterer disables clustering and
// tracking; a nil Tracker disables tracking only.
type Config struct {
	QueueSize int
	Decoder   l2tlv.Decoder
	Clusterer l4perception.ClusterAlgorithm
	Tracker   *l5tracks.Tracker
	Sinks     []Sink
}

// ConfigFromTuning builds the stages from the tuning config and the
// parameters of the active profile. An unknown clustering algorithm is an
// error.
func ConfigFromTuning(cfg *config.TuningConfig, params profile.Params) (Config, error) {
	c := Config{
		QueueSize: cfg.GetQueueSize(),
		Decoder: l2tlv.Decoder{
			RangeBins:       params.RangeBins,
			DopplerBins:     params.NumDopplerBins,
			VirtualAntennas: params.VirtualAntennas(),
		},
	}
	if cfg.GetClusteringEnabled() {
		alg, err := l4perception.FromTuning(cfg)
		if err != nil {
			return Config{}, fmt.Errorf("clustering: %w", err)
		}
		c.Clusterer = alg
	}
	if cfg.GetTrackingEnabled() {
		c.Tracker = l5tracks.NewTracker(l5tracks.ConfigFromTuning(cfg))
	}
	return c, nil
}

// Stats summarise a run.
type Stats struct {
	FramesRead      uint64
	FramesProcessed uint64
	FramesDropped   uint64
	Queued          int
	LastFrameNumber uint32
	LastLatency     time.Duration
}

type queued struct {
	raw *l1frames.RawFrame
	at  time.Time
}

// Pipeline moves frames from a source to the sinks.
type Pipeline struct {
	src   FrameSource
	cfg   Config
	queue *Queue[queued]
	now   func() time.Time

	mu    sync.Mutex
	sinks []Sink

	read        atomic.Uint64
	processed   atomic.Uint64
	lastFrame   atomic.Uint32
	lastLatency atomic.Int64
}

// New returns a pipeline over src. Run may be called once.
func New(src FrameSource, cfg Config) *Pipeline {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Pipeline{
		src:   src,
		cfg:   cfg,
		queue: NewQueue[queued](size),
		now:   time.Now,
		sinks: append([]Sink(nil), cfg.Sinks...),
	}
}

// AddSink registers s for subsequent frames.
func (p *Pipeline) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesRead:      p.read.Load(),
		FramesProcessed: p.processed.Load(),
		FramesDropped:   p.queue.Dropped(),
		Queued:          p.queue.Len(),
		LastFrameNumber: p.lastFrame.Load(),
		LastLatency:     time.Duration(p.lastLatency.Load()),
	}
}

// endOfStream reports errors that mean the source has no more frames.
func endOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, l1frames.ErrStreamEnded) ||
		errors.Is(err, device.ErrStreamClosed)
}

// Run reads and processes frames until ctx ends or the source fails. When
// the source simply runs out, queued frames are still processed and Run
// returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.work(ctx)
	}()

	err := p.readLoop(ctx)
	p.queue.Close()
	if err != nil && !endOfStream(err) {
		cancel()
	}
	wg.Wait()

	st := p.Stats()
	monitoring.Logf("[pipeline] stopped: %d frames read, %d processed, %d dropped", st.FramesRead, st.FramesProcessed, st.FramesDropped)

	switch {
	case err == nil, endOfStream(err):
		return nil
	default:
		return err
	}
}

func (p *Pipeline) readLoop(ctx context.Context) error {
	for {
		f, err := p.src.TryNextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if f == nil {
			continue
		}
		p.read.Add(1)
		if err := p.queue.Push(queued{raw: f, at: p.now()}); err != nil {
			return err
		}
	}
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		item, err := p.queue.Pop(ctx)
		if err != nil {
			return
		}
		res := p.process(item.raw, item.at)
		p.mu.Lock()
		sinks := p.sinks
		p.mu.Unlock()
		for _, s := range sinks {
			s.OnFrame(res)
		}
	}
}

// Process runs one frame through every stage synchronously, without the
// queue or the sinks.
func (p *Pipeline) Process(raw *l1frames.RawFrame) Result {
	return p.process(raw, p.now())
}

func (p *Pipeline) process(raw *l1frames.RawFrame, at time.Time) Result {
	res := Result{ReceivedAt: at, Raw: raw}
	res.Frame = p.cfg.Decoder.Decode(raw)
	res.Points = l3points.FromFrame(res.Frame)
	if p.cfg.Clusterer != nil {
		res.Clusters = p.cfg.Clusterer.Cluster(res.Points)
		if p.cfg.Tracker != nil {
			res.Tracks = p.cfg.Tracker.Update(res.Clusters)
		}
	}
	res.Latency = p.now().Sub(at)

	p.processed.Add(1)
	p.lastFrame.Store(raw.Header.FrameNumber)
	p.lastLatency.Store(int64(res.Latency))
	return res
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(ctx context.Context) (*l1frames.RawFrame, error)

func (f FrameSourceFunc) TryNextFrame(ctx context.Context) (*l1frames.RawFrame, error) {
	return f(ctx)
}
