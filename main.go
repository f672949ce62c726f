package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"go.aimuz.me/parley/audiocapture"
	"go.aimuz.me/parley/config"
	"go.aimuz.me/parley/internal/app"
	"go.aimuz.me/parley/internal/types"
	"go.aimuz.me/parley/livetranslate"
	"go.aimuz.me/parley/speaker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `commands:
  1          start live translation A -> B
  2          start live translation B -> A
  s          stop
  t <text>   translate typed text
  q          quit
`

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: user config dir)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("exit", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.LogLevel(),
		TimeFormat: time.TimeOnly,
	})))
	slog.Info("starting parley", "version", version, "commit", commit, "date", date, "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mic := audiocapture.NewMicrophone(audiocapture.Config{
		SampleRate:   cfg.Audio.CaptureRate,
		FrameSamples: cfg.Audio.FrameSamples,
	})
	defer mic.Close()

	out := &lazySpeaker{rate: cfg.Audio.PlaybackRate, latency: cfg.Audio.PlaybackLatency}
	defer out.Close()

	con := &console{w: os.Stdout}
	svc, err := app.New(cfg, version, app.Options{
		Microphone: mic,
		OpenOutput: out.Open,
		Emit:       con.notify,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Server.Enabled {
		go func() {
			if err := app.Serve(ctx, cfg.Server.Listen, svc.Handler()); err != nil {
				slog.Error("ui bridge stopped", "error", err)
			}
		}()
	}

	fmt.Fprint(os.Stdout, usage)
	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, svc, line); quit {
				return nil
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Console commands
// ─────────────────────────────────────────────────────────────────────────────

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// dispatch runs one console command and reports whether to quit.
func dispatch(ctx context.Context, svc *app.Service, line string) bool {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")

	var cmd app.Command
	switch verb {
	case "":
		return false
	case "q", "quit":
		return true
	case "1":
		cmd = app.Command{Action: app.ActionStart, Direction: "forward"}
	case "2":
		cmd = app.Command{Action: app.ActionStart, Direction: "backward"}
	case "s", "stop":
		cmd = app.Command{Action: app.ActionStop}
	case "t":
		cmd = app.Command{Action: app.ActionText, Text: arg}
	default:
		fmt.Fprint(os.Stdout, usage)
		return false
	}

	if cmd.Action == app.ActionText {
		// Typed translation blocks on the completer; keep the prompt responsive.
		go func() {
			if err := svc.Handle(ctx, cmd); err != nil {
				slog.Error("translate text", "error", err)
			}
		}()
		return false
	}
	if err := svc.Handle(ctx, cmd); err != nil {
		slog.Error("command failed", "action", cmd.Action, "error", err)
	}
	return false
}

// console prints conversation records and status changes.
type console struct {
	mu     sync.Mutex
	w      io.Writer
	status types.Status
}

func (c *console) notify(name string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch name {
	case livetranslate.EventMessage:
		rec, ok := data.(types.MessageRecord)
		if !ok {
			return
		}
		ts := time.UnixMilli(rec.Timestamp).Format(time.TimeOnly)
		fmt.Fprintf(c.w, "[%s] %-5s %s\n", ts, rec.Sender, rec.Text)
	case livetranslate.EventStatus:
		st, ok := data.(types.LiveStatus)
		if !ok || st.Status == c.status {
			return
		}
		c.status = st.Status
		if st.Status == types.StatusIdle {
			fmt.Fprintf(c.w, "-- %s\n", st.Status)
			return
		}
		fmt.Fprintf(c.w, "-- %s %s (%s)\n", st.Status, st.Direction, st.Provider)
	}
}

// lazySpeaker opens the playback device on the first session.
type lazySpeaker struct {
	rate    int
	latency time.Duration

	mu  sync.Mutex
	dev *speaker.Device
}

func (s *lazySpeaker) Open() (livetranslate.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return s.dev, nil
	}
	dev, err := speaker.Open(s.rate, s.latency)
	if err != nil {
		return nil, err
	}
	s.dev = dev
	return dev, nil
}

func (s *lazySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	if errors.Is(err, speaker.ErrClosed) {
		return nil
	}
	return err
}
