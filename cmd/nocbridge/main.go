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
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/nocbridge/internal/capture"
	"github.com/banshee-data/nocbridge/internal/config"
	"github.com/banshee-data/nocbridge/internal/db"
	"github.com/banshee-data/nocbridge/internal/hwsim"
	"github.com/banshee-data/nocbridge/internal/hwt"
	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/packet"
	"github.com/banshee-data/nocbridge/internal/rpc"
	"github.com/banshee-data/nocbridge/internal/seriallink"
	"github.com/banshee-data/nocbridge/internal/stats"
	"github.com/banshee-data/nocbridge/internal/testutil"
	"github.com/banshee-data/nocbridge/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Admin HTTP listen address")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC listen address (empty disables gRPC)")
	configFile  = flag.String("config", "", "Path to bridge JSON config (defaults built in)")
	serialPort  = flag.String("serial", "", "Serial device of an attached board; empty runs the simulated peer")
	baudRate    = flag.Int("baud", seriallink.DefaultBaudRate, "Serial baud rate")
	parity      = flag.String("parity", "N", "Serial parity (N, E or O)")
	loopback    = flag.Bool("loopback", true, "Simulated peer echoes every packet back on the receive path")
	dbFile      = flag.String("db", "nocbridge_trace.db", "Trace database path (empty disables tracing)")
	pcapFile    = flag.String("pcap", "", "Write a pcap capture of ring traffic to this file")
	demoCount   = flag.Int("demo", 0, "Send this many dummy packets after startup")
	demoEvery   = flag.Duration("demo-interval", 250*time.Millisecond, "Delay between demo packets")
	traceBuffer = flag.Int("trace-buffer", 4096, "Trace events buffered before the recorder drops them")
	statsWindow = flag.Int("stats-window", stats.DefaultWindow, "Exchanges kept for batching statistics")
	verbose     = flag.Bool("verbose", false, "Log every packet and exchange")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadSettings resolves the bridge settings from -config, or the built-in
// defaults when no file is given. -verbose overrides the file.
func loadSettings(path string, verbose bool) (config.Settings, error) {
	cfg := config.DefaultBridgeConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadBridgeConfig(path); err != nil {
			return config.Settings{}, err
		}
	}
	s := cfg.Settings()
	if verbose {
		s.Verbose = true
	}
	return s, s.Validate()
}

// openPeer returns the hardware side of the bridge: a serial link when a
// device is named, otherwise the in-process simulator.
func openPeer(device string, opts seriallink.PortOptions, codec packet.Codec, loopback bool) (hwt.Launcher, io.Closer, error) {
	if device == "" {
		var simOpts []hwsim.Option
		simOpts = append(simOpts, hwsim.WithCodec(codec))
		if loopback {
			simOpts = append(simOpts, hwsim.WithLoopback())
		}
		return hwsim.New(simOpts...), nil, nil
	}
	link, err := seriallink.NewRealLink(device, opts)
	if err != nil {
		return nil, nil, err
	}
	return link, link, nil
}

func runDemo(ctx context.Context, b *noc.Bridge, count int, every time.Duration) {
	for i := 0; i < count; i++ {
		p := testutil.DummyPacket(4 + i%32)
		p.LatencyCritical = i%8 == 7
		if err := b.SendPacket(p); err != nil {
			log.Printf("demo packet %d: %v", i, err)
			if errors.Is(err, noc.ErrClosed) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
		}
	}
	log.Printf("demo: sent %d packets", count)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Printf("nocbridge %s", version.String())

	settings, err := loadSettings(*configFile, *verbose)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	monitoring.SetVerbose(settings.Verbose)

	codec, err := packet.NewCodec(settings.HeaderSize)
	if err != nil {
		log.Fatalf("invalid header size: %v", err)
	}

	portOpts, err := seriallink.PortOptions{BaudRate: *baudRate, Parity: *parity}.Normalize()
	if err != nil {
		log.Fatalf("invalid serial options: %v", err)
	}
	peer, peerCloser, err := openPeer(*serialPort, portOpts, codec, *loopback)
	if err != nil {
		log.Fatalf("failed to open hardware peer: %v", err)
	}
	if peerCloser != nil {
		defer peerCloser.Close()
	}

	collector := stats.NewCollector(*statsWindow)
	opts := []noc.Option{noc.WithObserver(collector)}

	var traceDB *db.DB
	var recorder *db.Recorder
	if *dbFile != "" {
		traceDB, err = db.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open trace database: %v", err)
		}
		defer traceDB.Close()
		recorder = db.NewRecorder(traceDB, *traceBuffer)
		opts = append(opts, noc.WithObserver(recorder))
	}

	var tap *capture.Tap
	if *pcapFile != "" {
		tap, err = capture.Create(*pcapFile, settings.HeaderSize)
		if err != nil {
			log.Fatalf("failed to create capture: %v", err)
		}
		opts = append(opts, noc.WithObserver(tap))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge, err := noc.Init(ctx, settings, peer, opts...)
	if err != nil {
		log.Fatalf("failed to start bridge: %v", err)
	}
	log.Printf("bridge running: ring %d bytes, batch timeout %v", settings.RingBufferSize, settings.BatchTimeout)

	var wg sync.WaitGroup

	// a worker fault stops the bridge on its own; take the daemon down with it
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-bridge.Done():
			if err := bridge.Err(); err != nil {
				log.Printf("bridge terminated: %v", err)
			}
			stop()
		case <-ctx.Done():
		}
	}()

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen for gRPC: %v", err)
		}
		gs := grpc.NewServer(grpc.MaxRecvMsgSize(settings.MaxRecordSize() + 64))
		rpc.NewServer(bridge).Register(gs)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[rpc] serving on %s", lis.Addr())
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("[rpc] server error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			gs.Stop()
			log.Printf("[rpc] server stopped")
		}()
	}

	if *demoCount > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDemo(ctx, bridge, *demoCount, *demoEvery)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		bridge.AttachAdminRoutes(mux)
		collector.AttachAdminRoutes(mux)
		if traceDB != nil {
			if err := traceDB.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach trace routes: %v", err)
			}
		}
		if link, ok := peer.(*seriallink.Link); ok {
			link.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
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

	wg.Wait()

	if err := bridge.Stop(); err != nil {
		log.Printf("bridge stopped with error: %v", err)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("failed to flush trace recorder: %v", err)
		}
		rs := recorder.Stats()
		log.Printf("trace: %d events recorded, %d dropped, %d failed", rs.Recorded, rs.Dropped, rs.Failed)
	}
	if tap != nil {
		if err := tap.Close(); err != nil {
			log.Printf("failed to close capture: %v", err)
		}
		log.Printf("capture: %d records written to %s", tap.Written(), *pcapFile)
	}
	st := bridge.Stats()
	log.Printf("Graceful shutdown complete: %d packets sent in %d exchanges, %d received",
		st.PacketsWritten, st.Exchanges, st.PacketsDispatched)
}
