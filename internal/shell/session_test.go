package shell

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"veostudio/internal/artifact"
	"veostudio/internal/domain"
	"veostudio/internal/providers/video"
)

type generateFunc func(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []video.GenerateRequest
	fn    generateFunc
}

func (f *fakeGenerator) Generate(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req, onProgress)
}

func publishing(reg *artifact.Registry, data string) generateFunc {
	return func(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error) {
		onProgress(video.MsgInitializing)
		onProgress(video.MsgDownloading)
		return reg.Publish([]byte(data), "video/mp4")
	}
}

func newTestSession(t *testing.T, gen *fakeGenerator, reg *artifact.Registry) *Session {
	t.Helper()
	s, err := NewSession(Options{Generator: gen, Releaser: reg})
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

func TestNewSessionDefaults(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	s := newTestSession(t, &fakeGenerator{}, reg)
	snap := s.Snapshot()
	if snap.Phase != PhaseIdle || snap.PhaseLabel != "Idle" {
		t.Fatalf("unexpected phase %q / %q", snap.Phase, snap.PhaseLabel)
	}
	if snap.Prompt != DefaultPrompt {
		t.Fatalf("Prompt = %q", snap.Prompt)
	}
	if snap.HasCredential || snap.Artifact != nil || snap.Error != "" {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	if _, err := NewSession(Options{Releaser: reg}); err == nil {
		t.Fatal("expected error without generator")
	}
	if _, err := NewSession(Options{Generator: &fakeGenerator{}}); err == nil {
		t.Fatal("expected error without releaser")
	}
}

func TestStartValidatesInput(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	gen := &fakeGenerator{fn: publishing(reg, "x")}
	s := newTestSession(t, gen, reg)

	if _, err := s.Start("   ", "k1"); !errors.Is(err, domain.ErrPromptRequired) {
		t.Fatalf("expected ErrPromptRequired, got %v", err)
	}
	if _, err := s.Start("a cat", " \t"); !errors.Is(err, domain.ErrCredentialRequired) {
		t.Fatalf("expected ErrCredentialRequired, got %v", err)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator called %d times", len(gen.calls))
	}
}

func TestStartRunsGenerationToCompletion(t *testing.T) {
	reg := artifact.NewRegistry("http://localhost:8080", 0)
	gen := &fakeGenerator{fn: publishing(reg, "video")}
	s := newTestSession(t, gen, reg)

	id, err := s.Start("  a cat ", " k1 ")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, s)

	snap := s.Snapshot()
	if snap.Phase != PhaseIdle {
		t.Fatalf("Phase = %q, want idle", snap.Phase)
	}
	if snap.Error != "" {
		t.Fatalf("Error = %q", snap.Error)
	}
	if snap.Artifact == nil || snap.Artifact.Size != 5 {
		t.Fatalf("Artifact = %#v", snap.Artifact)
	}
	if snap.GenerationID != id || snap.Prompt != "a cat" || !snap.HasCredential {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
	if snap.Progress != video.MsgDownloading {
		t.Fatalf("Progress = %q", snap.Progress)
	}
	if snap.StartedAt == nil || snap.FinishedAt == nil {
		t.Fatal("expected timestamps")
	}
	if got := gen.calls[0]; got.Prompt != "a cat" || got.Credential != "k1" || got.RequestID != id {
		t.Fatalf("unexpected request %#v", got)
	}
}

func TestStartRejectsWhileRunning(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	unblock := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error) {
		<-unblock
		return reg.Publish([]byte("v"), "video/mp4")
	}}
	s := newTestSession(t, gen, reg)

	if _, err := s.Start("a cat", "k1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if snap := s.Snapshot(); snap.Phase != PhaseRunning || snap.Progress != MsgWarmingUp {
		t.Fatalf("unexpected running snapshot %#v", snap)
	}
	if _, err := s.Start("a dog", "k1"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(unblock)
	waitFor(t, s)

	if _, err := s.Start("a dog", "k1"); err != nil {
		t.Fatalf("Start after completion returned error: %v", err)
	}
	waitFor(t, s)
}

func TestFailedGenerationExposesErrorOnly(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	gen := &fakeGenerator{fn: func(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error) {
		return nil, domain.NewGenerationError(domain.KindPollFailed, errors.New("timeout"), "status check 1 failed")
	}}
	s := newTestSession(t, gen, reg)

	if _, err := s.Start("a cat", "k1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, s)

	snap := s.Snapshot()
	if snap.Artifact != nil {
		t.Fatal("artifact and error must be exclusive")
	}
	if snap.Error != "An error occurred: status check 1 failed: timeout" {
		t.Fatalf("Error = %q", snap.Error)
	}
	if snap.Phase != PhaseIdle {
		t.Fatalf("Phase = %q", snap.Phase)
	}
}

func TestNewGenerationReleasesPreviousArtifact(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	gen := &fakeGenerator{fn: publishing(reg, "first")}
	s := newTestSession(t, gen, reg)

	if _, err := s.Start("a cat", "k1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, s)
	first := s.Snapshot().Artifact

	gen.mu.Lock()
	gen.fn = publishing(reg, "second")
	gen.mu.Unlock()
	if _, err := s.Start("a dog", "k1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, s)

	if _, ok := reg.Open(first.ID); ok {
		t.Fatal("previous artifact should have been released")
	}
	second := s.Snapshot().Artifact
	if second == nil || second.ID == first.ID {
		t.Fatalf("unexpected second artifact %#v", second)
	}
	if reg.Len() != 1 {
		t.Fatalf("registry holds %d artifacts, want 1", reg.Len())
	}
}

func TestAbandonIgnoresLateResult(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	unblock := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error) {
		<-unblock
		onProgress("late progress")
		return reg.Publish([]byte("late"), "video/mp4")
	}}
	s := newTestSession(t, gen, reg)

	if err := s.Abandon(); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, err := s.Start("a cat", "k1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := s.Abandon(); err != nil {
		t.Fatalf("Abandon returned error: %v", err)
	}
	if snap := s.Snapshot(); snap.Phase != PhaseIdle || snap.GenerationID != "" {
		t.Fatalf("unexpected snapshot after abandon %#v", snap)
	}

	close(unblock)
	waitFor(t, s)

	snap := s.Snapshot()
	if snap.Artifact != nil || snap.Progress != "" {
		t.Fatalf("late result leaked into session: %#v", snap)
	}
	if reg.Len() != 0 {
		t.Fatalf("late artifact not released, registry holds %d", reg.Len())
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	gen := &fakeGenerator{fn: publishing(reg, "v")}
	s := newTestSession(t, gen, reg)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Start("a cat", "k1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) == 0 || got[len(got)-1].Type != EventDone {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out, events so far: %#v", got)
		}
	}

	wantMessages := []string{MsgWarmingUp, video.MsgInitializing, video.MsgDownloading}
	if len(got) != len(wantMessages)+1 {
		t.Fatalf("got %d events: %#v", len(got), got)
	}
	for i, want := range wantMessages {
		if got[i].Type != EventProgress || got[i].Message != want || got[i].GenerationID != id {
			t.Fatalf("event %d = %#v, want progress %q", i, got[i], want)
		}
	}
	if got[len(got)-1].Message == "" {
		t.Fatal("done event should carry the artifact locator")
	}
}

func TestCloseReleasesArtifactAndSubscribers(t *testing.T) {
	reg := artifact.NewRegistry("", 0)
	gen := &fakeGenerator{fn: publishing(reg, "v")}
	s, err := NewSession(Options{Generator: gen, Releaser: reg})
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	events, _ := s.Subscribe()

	if _, err := s.Start("a cat", "k1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, s)
	s.Close()

	if reg.Len() != 0 {
		t.Fatalf("registry holds %d artifacts after Close", reg.Len())
	}
	for range events {
	}
	if _, err := s.Start("a cat", "k1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if s.Snapshot().HasCredential {
		t.Fatal("credential should be dropped on Close")
	}
}

func TestNoProgressEventAfterAbandon(t *testing.T) {
	for i := 0; i < 50; i++ {
		reg := artifact.NewRegistry("", 0)
		started, release := make(chan struct{}), make(chan struct{})
		gen := &fakeGenerator{fn: func(ctx context.Context, req video.GenerateRequest, onProgress video.ProgressFunc) (*artifact.Reference, error) {
			close(started)
			for n := 0; n < 40; n++ {
				onProgress(video.PollMessage(n + 1))
				runtime.Gosched()
			}
			<-release
			return nil, errors.New("gave up")
		}}
		s := newTestSession(t, gen, reg)
		events, unsubscribe := s.Subscribe()

		id, err := s.Start("a cat", "k1")
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
		<-started
		if err := s.Abandon(); err != nil {
			t.Fatalf("Abandon returned error: %v", err)
		}
		close(release)
		waitFor(t, s)
		unsubscribe()

		abandoned := false
		for ev := range events {
			if ev.GenerationID != id {
				continue
			}
			switch {
			case ev.Type == EventAbandoned:
				abandoned = true
			case abandoned:
				t.Fatalf("iteration %d: %s event %q after abandon", i, ev.Type, ev.Message)
			}
		}
		if !abandoned {
			t.Fatalf("iteration %d: abandoned event missing", i)
		}
	}
}
