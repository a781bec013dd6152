package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/mmwave/internal/config"
	"github.com/banshee-data/mmwave/internal/db"
	"github.com/banshee-data/mmwave/internal/mmwave/awr2544"
	"github.com/banshee-data/mmwave/internal/mmwave/device"
	"github.com/banshee-data/mmwave/internal/mmwave/monitor"
	"github.com/banshee-data/mmwave/internal/mmwave/pipeline"
	"github.com/banshee-data/mmwave/internal/mmwave/profile"
	"github.com/banshee-data/mmwave/internal/mmwave/recorder"
	"github.com/banshee-data/mmwave/internal/monitoring"
	"github.com/banshee-data/mmwave/internal/serialmux"
	"github.com/banshee-data/mmwave/internal/version"
)

const defaultDBFile = "mmwave.db"

type options struct {
	configPath  string
	profilePath string
	transport   string
	cliPort     string
	dataPort    string
	listen      string
	grpcListen  string
	dbPath      string
	recordDir   string
	replayPath  string
	replaySpeed float64
	logFile     string
	numFrames   int

	awrPcap   string
	awrListen string
	awrPort   int
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("radar", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Tuning config (.json/.yaml); defaults to "+config.DefaultConfigPath+" when present")
	fs.StringVar(&o.profilePath, "profile", "", "Chirp profile (.cfg); overrides device.profile_path")
	fs.StringVar(&o.transport, "transport", "", "Sensor transport: auto, serial or network")
	fs.StringVar(&o.cliPort, "cli-port", "", "CLI serial port")
	fs.StringVar(&o.dataPort, "data-port", "", "Data serial port")
	fs.StringVar(&o.listen, "listen", ":8080", "HTTP listen address for debug routes")
	fs.StringVar(&o.grpcListen, "grpc-listen", "", "gRPC health listen address; empty disables")
	fs.StringVar(&o.dbPath, "db", defaultDBFile, "SQLite database; empty disables persistence")
	fs.StringVar(&o.recordDir, "record", "", "Directory to record raw frames into")
	fs.StringVar(&o.replayPath, "replay", "", "Replay a recorded frame log instead of opening the sensor")
	fs.Float64Var(&o.replaySpeed, "replay-speed", 1, "Replay speed multiplier; 0 replays as fast as possible")
	fs.StringVar(&o.logFile, "log-file", "", "Also write logs to this size-rotated file")
	fs.IntVar(&o.numFrames, "num-frames", -1, "Stop after this many frames; 0 is unlimited, -1 keeps the config value")
	fs.StringVar(&o.awrPcap, "awr2544-pcap", "", "Decode AWR2544 ADC packets from a pcap/pcapng file")
	fs.StringVar(&o.awrListen, "awr2544-listen", "", "Receive AWR2544 ADC packets on this UDP address")
	fs.IntVar(&o.awrPort, "awr2544-port", awr2544.DefaultPort, "UDP destination port filter for -awr2544-pcap; 0 accepts all")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.replayPath != "" && (o.awrPcap != "" || o.awrListen != "") {
		return o, errors.New("-replay cannot be combined with -awr2544-pcap or -awr2544-listen")
	}
	if o.awrPcap != "" && o.awrListen != "" {
		return o, errors.New("choose one of -awr2544-pcap and -awr2544-listen")
	}
	if o.replaySpeed < 0 {
		return o, errors.New("-replay-speed must not be negative")
	}
	return o, nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		dbPath := fs.String("db", defaultDBFile, "SQLite database")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
	if o.logFile != "" {
		w := monitoring.NewRotatingWriter(o.logFile, 50, 5, 28)
		defer w.Close()
		monitoring.UseWriter(io.MultiWriter(os.Stderr, w))
	}
	log.Printf("radar %s", version.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("radar: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(o options) (*config.TuningConfig, error) {
	if o.configPath == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadTuningConfig(o.configPath)
}

func loadProfile(path string) (string, *profile.Profile, error) {
	if path == "" {
		return "", &profile.Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := profile.Parse(string(data))
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", path, err)
	}
	return string(data), p, nil
}

func deviceOptions(cfg *config.TuningConfig, o options) device.Options {
	opts := device.OptionsFromTuning(cfg)
	if o.cliPort != "" {
		opts.CLIPort = o.cliPort
	}
	if o.dataPort != "" {
		opts.DataPort = o.dataPort
	}
	if o.numFrames >= 0 {
		n := o.numFrames
		opts.NumFrames = n
		opts.Overrides.NumFrames = &n
	}
	return opts
}

// run wires the source, pipeline, sinks and servers, and returns once the
// source ends or ctx is cancelled.
func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	profilePath := o.profilePath
	if profilePath == "" {
		profilePath = cfg.GetProfilePath()
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	health := monitor.NewHealth()
	mux := http.NewServeMux()

	if o.grpcListen != "" {
		lis, err := net.Listen("tcp", o.grpcListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs := grpc.NewServer()
		health.Register(gs)
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveGRPC(ctx, gs, lis, health)
		}()
	}

	if o.awrPcap != "" || o.awrListen != "" {
		_, prof, err := loadProfile(profilePath)
		if err != nil {
			return err
		}
		m := monitor.New(monitor.Options{Health: health})
		m.AttachAdminRoutes(mux)
		if err := startHTTP(ctx, &wg, o.listen, mux); err != nil {
			return err
		}
		return runADC(ctx, o, prof, m)
	}

	var (
		src         pipeline.FrameSource
		profileText string
		prof        *profile.Profile
		sourceName  string
	)
	// Replay and the network bridge have no local CLI; the console routes
	// stay registered but discard commands.
	var cli serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()
	if o.replayPath != "" {
		rp, err := recorder.Open(o.replayPath)
		if err != nil {
			return err
		}
		defer rp.Close()
		rp.Speed = o.replaySpeed
		profileText = rp.Header().Profile
		if o.profilePath != "" {
			if profileText, prof, err = loadProfile(o.profilePath); err != nil {
				return err
			}
		} else if prof, err = profile.Parse(profileText); err != nil {
			return fmt.Errorf("recorded profile: %w", err)
		}
		src, sourceName = rp, o.replayPath
		log.Printf("replaying session %s recorded %s", rp.Header().SessionID, rp.Header().StartedAt.Format(time.RFC3339))
	} else {
		if profileText, prof, err = loadProfile(profilePath); err != nil {
			return err
		}
		transport := o.transport
		if transport == "" {
			transport = cfg.GetTransport()
		}
		conn, err := device.NewConnection(transport, deviceOptions(cfg, o))
		if err != nil {
			return err
		}
		if err := conn.Connect(ctx, prof); err != nil {
			conn.Close()
			return err
		}
		defer conn.Close()
		if sc, ok := conn.(*device.SerialConnection); ok && sc.CLI() != nil {
			cli = sc.CLI()
		}
		src, sourceName = conn, conn.Stats().Transport
	}
	cli.AttachAdminRoutes(mux)

	if o.recordDir != "" {
		rec, err := recorder.Create(o.recordDir, recorder.Header{Profile: profileText, Source: sourceName})
		if err != nil {
			return err
		}
		defer rec.Close()
		src = recorder.Tee(src, rec)
	}

	pcfg, err := pipeline.ConfigFromTuning(cfg, prof.Params())
	if err != nil {
		return err
	}
	p := pipeline.New(src, pcfg)

	m := monitor.New(monitor.Options{
		Axes:   monitor.AxesFromParams(prof.Params()),
		Stats:  func() any { return p.Stats() },
		Health: health,
	})
	p.AddSink(m)
	m.AttachAdminRoutes(mux)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()

	if o.dbPath != "" {
		database, err := db.NewDB(o.dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		sink, err := db.NewSessionSink(database, sourceName, profileText)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Printf("failed to end session: %v", err)
			}
		}()
		p.AddSink(sink)
		database.AttachAdminRoutes(mux)
	}

	if err := startHTTP(ctx, &wg, o.listen, mux); err != nil {
		return err
	}

	err = p.Run(ctx)
	m.Stopped()
	st := p.Stats()
	log.Printf("pipeline stopped: read=%d processed=%d dropped=%d", st.FramesRead, st.FramesProcessed, st.FramesDropped)
	return err
}

// runADC decodes the AWR2544 raw ADC stream into the monitor.
func runADC(ctx context.Context, o options, prof *profile.Profile, m *monitor.Monitor) error {
	cfg, err := awr2544.ConfigFromProfile(prof)
	if err != nil {
		return err
	}
	acc := awr2544.NewAccumulator(cfg)
	fn := awr2544.Decode(acc, m.OnADCFrame)
	defer func() {
		st := acc.Stats()
		log.Printf("awr2544: packets=%d frames=%d gaps=%d bad_frames=%d crc_failures=%d",
			st.Packets, st.Frames, st.Gaps, st.BadFrames, st.CRCFailures)
		m.Stopped()
	}()

	if o.awrPcap != "" {
		f, err := os.Open(o.awrPcap)
		if err != nil {
			return err
		}
		defer f.Close()
		return awr2544.ReadPcap(ctx, f, o.awrPort, fn)
	}
	l := &awr2544.Listener{Address: o.awrListen, RcvBuf: 8 << 20}
	return l.Run(ctx, fn)
}

// startHTTP serves mux until ctx ends. An empty address disables it.
func startHTTP(ctx context.Context, wg *sync.WaitGroup, addr string, mux *http.ServeMux) error {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("HTTP server listening on %s", lis.Addr())

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()
	return nil
}

func serveGRPC(ctx context.Context, gs *grpc.Server, lis net.Listener, health *monitor.Health) {
	go func() {
		<-ctx.Done()
		health.Shutdown()
		gs.GracefulStop()
	}()
	log.Printf("gRPC health service listening on %s", lis.Addr())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		log.Printf("gRPC server error: %v", err)
	}
}
