package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/lokutor-live/pkg/device"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
	"github.com/lokutor-ai/lokutor-live/pkg/transport/gemini"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, logger)
		defer srv.Shutdown(context.Background())
	}

	audioCtx, err := device.NewContext()
	if err != nil {
		log.Fatal(err)
	}
	defer audioCtx.Close()

	term := newTerminal(os.Stdout)
	tools := newToolbox(nil)
	cfg.Live.Tools = tools.Declarations()

	session := live.NewSession(live.Options{
		Config:    cfg.Live,
		Dialer:    gemini.NewDialer(cfg.APIKey),
		Capture:   audioCtx.NewMicrophone(cfg.Live.CaptureSampleRate, cfg.Live.FrameSize),
		Output:    audioCtx.NewSpeaker(cfg.Live.OutputSampleRate),
		Handler:   tools.Handle,
		Callbacks: term.callbacks(),
		Logger:    logger,
	})
	tools.mic = session
	defer session.Disconnect()

	fmt.Printf("Model: %s | Voice: %s | Capture: %dHz | Output: %dHz\n",
		cfg.Live.Model, cfg.Live.Voice, cfg.Live.CaptureSampleRate, cfg.Live.OutputSampleRate)
	fmt.Println("Commands: m = toggle mute, c = connect, d = disconnect, q = quit")

	if err := session.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
	}

	go term.meter(ctx)

	commands := make(chan string)
	go readCommands(os.Stdin, commands)

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nShutting down...\n")
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			switch cmd {
			case "m":
				session.SetMuted(!session.Muted())
			case "c":
				if err := session.Connect(ctx); err != nil && !errors.Is(err, live.ErrAlreadyConnected) {
					logger.Error("connect failed", "error", err)
				}
			case "d":
				session.Disconnect()
			case "q":
				fmt.Printf("\nShutting down...\n")
				return
			}
		}
	}
}

func readCommands(f *os.File, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		out <- strings.ToLower(strings.TrimSpace(scanner.Text()))
	}
}

func serveMetrics(addr string, logger live.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// terminal renders session callbacks as a log panel and a level meter.
type terminal struct {
	mu    sync.Mutex
	w     *os.File
	level atomic.Uint64
	state atomic.Value
}

func newTerminal(w *os.File) *terminal {
	t := &terminal{w: w}
	t.state.Store(live.StateDisconnected)
	return t
}

func (t *terminal) callbacks() live.Callbacks {
	return live.Callbacks{
		OnStatusChange: func(s live.State) {
			t.state.Store(s)
			t.println(fmt.Sprintf("[STATUS] %s", s))
		},
		OnAudioLevel: func(v float64) {
			t.level.Store(math.Float64bits(v))
		},
		OnLog: func(ev live.LogEvent) {
			t.println(fmt.Sprintf("%s [%s] %s %s",
				ev.Timestamp.Format("15:04:05"), strings.ToUpper(string(ev.Source)), marker(ev.Severity), ev.Message))
		},
		OnError: func(msg string) {
			t.println("[ERROR] " + msg)
		},
	}
}

func marker(s live.Severity) string {
	switch s {
	case live.SeveritySuccess:
		return "+"
	case live.SeverityWarning:
		return "!"
	case live.SeverityError:
		return "x"
	}
	return "-"
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "\r\033[K%s\n", line)
}

// meter redraws the level bar until ctx is done. The level decays so the bar
// falls back when audio stops.
func (t *terminal) meter(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		level := math.Float64frombits(t.level.Load())
		t.level.Store(math.Float64bits(level * 0.7))

		if t.state.Load() != live.StateConnected {
			continue
		}
		dots := int(level * 40)
		if dots > 40 {
			dots = 40
		}
		t.mu.Lock()
		fmt.Fprintf(t.w, "\r[LEVEL: %-40s] %.2f", strings.Repeat("|", dots), level)
		t.mu.Unlock()
	}
}
