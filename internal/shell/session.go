// Package shell holds the state of one interactive studio session and runs
// the video workflow on its behalf. Both the HTTP studio and the terminal
// client drive a Session; neither talks to the workflow directly.
package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"veostudio/internal/artifact"
	"veostudio/internal/domain"
	"veostudio/internal/infra"
	"veostudio/internal/providers/video"
)

// DefaultPrompt seeds the prompt field of a fresh session.
const DefaultPrompt = "a cinematic shot of a labrador retriever from FPV perspective, running down the road to the sunset. 5 second shot at maximum"

// MsgWarmingUp is shown between accepting a request and the first workflow update.
const MsgWarmingUp = "Warming up the studio..."

var ErrClosed = errors.New("session is closed")

// Phase is the coarse session phase.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
)

// Label renders the phase for display.
func (p Phase) Label() string {
	return cases.Title(language.English).String(string(p))
}

// Snapshot is a read-only copy of session state. The credential itself is
// never part of it.
type Snapshot struct {
	Phase         Phase               `json:"phase"`
	PhaseLabel    string              `json:"phase_label"`
	Prompt        string              `json:"prompt"`
	HasCredential bool                `json:"has_credential"`
	Progress      string              `json:"progress,omitempty"`
	GenerationID  string              `json:"generation_id,omitempty"`
	Artifact      *artifact.Reference `json:"artifact,omitempty"`
	Error         string              `json:"error,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
}

// Options configures a Session.
type Options struct {
	Generator video.Generator
	Releaser  artifact.Releaser
	Logger    *infra.Logger
	// Context bounds every run. Runs are deliberately detached from the
	// request that started them; only this context can stop them.
	Context context.Context
	Prompt  string
}

// Session serializes generations: at most one run is in flight, and a run's
// updates are applied only while it is still the current one. Events are
// published under mu so subscribers see them in state order.
type Session struct {
	gen      video.Generator
	releaser artifact.Releaser
	logger   *infra.Logger
	base     context.Context
	broker   *Broker
	wg       sync.WaitGroup

	mu         sync.Mutex
	prompt     string
	credential string
	phase      Phase
	progress   string
	current    string
	ref        *artifact.Reference
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time
	closed     bool
}

// NewSession validates opts and returns an idle session.
func NewSession(opts Options) (*Session, error) {
	if opts.Generator == nil {
		return nil, errors.New("shell: generator is required")
	}
	if opts.Releaser == nil {
		return nil, errors.New("shell: artifact releaser is required")
	}
	base := opts.Context
	if base == nil {
		base = context.Background()
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Session{
		gen:      opts.Generator,
		releaser: opts.Releaser,
		logger:   infra.OrDiscard(opts.Logger),
		base:     base,
		broker:   NewBroker(),
		prompt:   prompt,
		phase:    PhaseIdle,
	}, nil
}

// Start launches a generation for prompt and credential and returns its ID.
// It fails with domain.ErrBusy while another run is in flight.
func (s *Session) Start(prompt, credential string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	credential = strings.TrimSpace(credential)
	if prompt == "" {
		return "", domain.ErrPromptRequired
	}
	if credential == "" {
		return "", domain.ErrCredentialRequired
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.phase == PhaseRunning {
		s.mu.Unlock()
		return "", domain.ErrBusy
	}
	s.releaseLocked()

	id := ulid.Make().String()
	now := time.Now().UTC()
	s.prompt = prompt
	s.credential = credential
	s.phase = PhaseRunning
	s.progress = MsgWarmingUp
	s.errMsg = ""
	s.current = id
	s.startedAt = now
	s.finishedAt = time.Time{}
	s.wg.Add(1)
	s.broker.Publish(Event{GenerationID: id, Type: EventProgress, Message: MsgWarmingUp, Time: now})
	s.mu.Unlock()

	s.logger.Info().Str("generation_id", id).Msg("shell: generation started")

	go s.run(id, prompt, credential)
	return id, nil
}

func (s *Session) run(id, prompt, credential string) {
	defer s.wg.Done()
	ref, err := s.gen.Generate(s.base, video.GenerateRequest{
		Prompt:     prompt,
		Credential: credential,
		RequestID:  id,
	}, func(msg string) {
		s.onProgress(id, msg)
	})
	s.finish(id, ref, err)
}

func (s *Session) onProgress(id, msg string) {
	s.mu.Lock()
	if s.current != id {
		s.mu.Unlock()
		return
	}
	s.progress = msg
	s.broker.Publish(Event{GenerationID: id, Type: EventProgress, Message: msg, Time: time.Now().UTC()})
	s.mu.Unlock()
}

func (s *Session) finish(id string, ref *artifact.Reference, err error) {
	s.mu.Lock()
	if s.current != id || s.closed {
		s.mu.Unlock()
		if ref != nil {
			s.releaser.Release(ref.ID)
		}
		s.logger.Debug().Str("generation_id", id).Msg("shell: discarded result of superseded generation")
		return
	}
	now := time.Now().UTC()
	s.phase = PhaseIdle
	s.finishedAt = now
	ev := Event{GenerationID: id, Time: now}
	if err != nil {
		s.errMsg = err.Error()
		s.ref = nil
		ev.Type, ev.Message = EventError, s.errMsg
	} else {
		s.ref = ref
		ev.Type, ev.Message = EventDone, ref.Locator
	}
	s.broker.Publish(ev)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Str("generation_id", id).Str("kind", string(domain.KindOf(err))).Msg("shell: generation failed")
	} else {
		s.logger.Info().Str("generation_id", id).Str("artifact_id", ref.ID).Msg("shell: generation finished")
	}
}

// Abandon stops tracking the in-flight run. Its network calls keep going,
// but its progress is ignored and any artifact it produces is released.
func (s *Session) Abandon() error {
	s.mu.Lock()
	if s.phase != PhaseRunning {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	id := s.current
	now := time.Now().UTC()
	s.current = ""
	s.phase = PhaseIdle
	s.progress = ""
	s.finishedAt = now
	s.broker.Publish(Event{GenerationID: id, Type: EventAbandoned, Time: now})
	s.mu.Unlock()

	s.logger.Info().Str("generation_id", id).Msg("shell: generation abandoned")
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:         s.phase,
		PhaseLabel:    s.phase.Label(),
		Prompt:        s.prompt,
		HasCredential: s.credential != "",
		Progress:      s.progress,
		GenerationID:  s.current,
		Error:         s.errMsg,
	}
	if s.ref != nil {
		ref := *s.ref
		snap.Artifact = &ref
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

// Subscribe streams session events until the session closes or the returned
// function is called.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.broker.Subscribe()
}

// Wait blocks until every run started by this session, abandoned ones
// included, has returned.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the held artifact and disconnects subscribers. Results of
// runs still in flight are discarded when they arrive.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.releaseLocked()
	s.current = ""
	s.phase = PhaseIdle
	s.credential = ""
	s.mu.Unlock()
	s.broker.Close()
}

func (s *Session) releaseLocked() {
	if s.ref == nil {
		return
	}
	s.releaser.Release(s.ref.ID)
	s.ref = nil
}
