package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"veostudio/internal/artifact"
	"veostudio/internal/infra"
	"veostudio/internal/providers/genai"
	"veostudio/internal/providers/video"
	"veostudio/internal/shell"
	"veostudio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("veogen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		promptFlag   string
		keyFlag      string
		outFlag      string
		pollInterval time.Duration
		verbose      bool
	)
	fs.StringVar(&promptFlag, "prompt", shell.DefaultPrompt, "Text prompt describing the video")
	fs.StringVar(&keyFlag, "key", "", "Gemini API key (prompted for when empty)")
	fs.StringVar(&outFlag, "out", "generated-video.mp4", "Output file for the generated video")
	fs.DurationVar(&pollInterval, "poll-interval", cfg.PollInterval, "Delay between status checks")
	fs.BoolVar(&verbose, "v", false, "Write diagnostic logs to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		fmt.Fprint(stderr, "API key: ")
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read api key: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	logOut := io.Discard
	if verbose {
		logOut = stderr
	}
	logger := infra.NewLoggerTo(logOut, cfg.AppEnv).With().Str("cmd", "veogen").Logger()

	client, err := genai.NewClient(genai.Options{
		BaseURL:    cfg.VeoBaseURL,
		Model:      cfg.VeoModel,
		HTTPClient: &http.Client{Timeout: cfg.UpstreamTimeout},
		Logger:     &logger,
	})
	if err != nil {
		return err
	}
	registry := artifact.NewRegistry("", 0)
	workflow, err := video.NewWorkflow(video.Options{
		Remote:       client,
		Publisher:    registry,
		PollInterval: pollInterval,
		Logger:       &logger,
	})
	if err != nil {
		return err
	}
	session, err := shell.NewSession(shell.Options{
		Generator: workflow,
		Releaser:  registry,
		Logger:    &logger,
		Context:   ctx,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	id, err := session.Start(promptFlag, key)
	if err != nil {
		return err
	}
	go func() {
		_ = session.Wait(context.Background())
		unsubscribe()
	}()
	if err := follow(events, id, stderr); err != nil && !errors.Is(err, shell.ErrClosed) {
		return err
	}

	snap := session.Snapshot()
	if snap.Error != "" {
		return errors.New(snap.Error)
	}
	if snap.Artifact == nil {
		return errors.New("generation finished without a video")
	}
	blob, ok := registry.Open(snap.Artifact.ID)
	if !ok {
		return errors.New("generated video is no longer available")
	}
	defer registry.Release(snap.Artifact.ID)

	root, key := cfg.StoragePath, outFlag
	if filepath.IsAbs(outFlag) {
		root, key = filepath.Dir(outFlag), filepath.Base(outFlag)
	}
	store, err := storage.NewFileStore(root)
	if err != nil {
		return err
	}
	path, err := store.Write(ctx, key, blob.Data)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (%d bytes)\n", path, len(blob.Data))
	return nil
}

// follow prints progress for generation id until it reaches a terminal event
// or the stream closes.
func follow(events <-chan shell.Event, id string, stderr io.Writer) error {
	for ev := range events {
		if ev.GenerationID != id {
			continue
		}
		switch ev.Type {
		case shell.EventProgress:
			fmt.Fprintln(stderr, ev.Message)
		case shell.EventDone, shell.EventError:
			return nil
		case shell.EventAbandoned:
			return errors.New("generation abandoned")
		}
	}
	return shell.ErrClosed
}
