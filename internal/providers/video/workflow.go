package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"veostudio/internal/artifact"
	"veostudio/internal/domain"
	"veostudio/internal/infra"
	"veostudio/internal/metrics"
	"veostudio/internal/providers/genai"
)

// DefaultPollInterval is the fixed wait between status checks.
const DefaultPollInterval = 10 * time.Second

const (
	MsgInitializing = "Initializing video generation..."
	MsgStarted      = "Operation started. This may take a few minutes..."
	MsgFinalizing   = "Finalizing video render..."
	MsgDownloading  = "Downloading video data..."
	MsgPublishing   = "Creating local video URL..."
)

// PollMessage is the progress line emitted before status check n (1-based).
func PollMessage(n int) string {
	return fmt.Sprintf("Processing... (Status check %d)", n)
}

// Options configures a Workflow.
type Options struct {
	Remote       Remote
	Publisher    artifact.Publisher
	PollInterval time.Duration
	// Sleep waits between polls. Defaults to a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *infra.Logger
}

// Workflow drives one long-running video operation from submission to a
// local artifact reference. It keeps no per-request state between calls, so
// a single Workflow may serve many sequential requests.
type Workflow struct {
	remote       Remote
	publisher    artifact.Publisher
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *infra.Logger
}

// NewWorkflow validates opts and returns a ready Workflow.
func NewWorkflow(opts Options) (*Workflow, error) {
	if opts.Remote == nil {
		return nil, errors.New("video: remote is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("video: artifact publisher is required")
	}
	interval := opts.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < 0 {
		return nil, errors.New("video: poll interval must not be negative")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Workflow{
		remote:       opts.Remote,
		publisher:    opts.Publisher,
		pollInterval: interval,
		sleep:        sleep,
		logger:       infra.OrDiscard(opts.Logger),
	}, nil
}

// Generate submits req, polls until the operation completes, downloads the
// first generated video and publishes it locally. Every failure is returned
// as a *domain.GenerationError; no partial artifact is ever exposed.
func (w *Workflow) Generate(ctx context.Context, req GenerateRequest, onProgress ProgressFunc) (ref *artifact.Reference, err error) {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	r := &run{
		Workflow: w,
		req:      req,
		progress: onProgress,
		state:    domain.JobStateIdle,
		log:      w.logger.With().Str("request_id", req.RequestID).Logger(),
	}
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			ref, err = nil, domain.NewGenerationError(domain.KindUnknown, fmt.Errorf("panic: %v", p), "An unknown error occurred during video generation")
		}
		if err != nil {
			gerr := normalize(err)
			r.transition(domain.JobStateFailed)
			r.log.Error().
				Err(gerr).
				Str("kind", string(gerr.Kind)).
				Int("polls", r.polls).
				Msg("video: generation failed")
			metrics.ObserveGeneration(string(gerr.Kind), time.Since(started))
			ref, err = nil, gerr
			return
		}
		metrics.ObserveGeneration("ok", time.Since(started))
	}()

	return r.execute(ctx)
}

type run struct {
	*Workflow
	req      GenerateRequest
	progress ProgressFunc
	state    domain.JobState
	polls    int
	log      infra.Logger
}

func (r *run) execute(ctx context.Context) (*artifact.Reference, error) {
	r.progress(MsgInitializing)
	r.transition(domain.JobStateSubmitting)

	op, err := r.remote.SubmitVideo(ctx, r.req.Credential, genai.VideoRequest{
		Prompt:      r.req.Prompt,
		SampleCount: 1,
		RequestID:   r.req.RequestID,
	})
	if err != nil {
		return nil, domain.NewGenerationError(domain.KindSubmissionFailed, err, "failed to start video generation")
	}
	if op == nil {
		return nil, domain.NewGenerationError(domain.KindSubmissionFailed, nil, "video service returned no operation")
	}
	r.progress(MsgStarted)
	r.transition(domain.JobStatePolling)

	for !op.Done {
		r.polls++
		r.progress(PollMessage(r.polls))
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil, domain.NewGenerationError(domain.KindUnknown, err, "video generation interrupted before status check %d", r.polls)
		}
		metrics.ObservePoll()
		next, err := r.remote.PollOperation(ctx, r.req.Credential, op)
		if err != nil {
			return nil, domain.NewGenerationError(domain.KindPollFailed, err, "status check %d failed", r.polls)
		}
		if next == nil {
			return nil, domain.NewGenerationError(domain.KindPollFailed, nil, "status check %d returned no operation", r.polls)
		}
		op = next
	}

	r.progress(MsgFinalizing)
	r.transition(domain.JobStateFinalizing)
	locator := op.VideoURI()
	if locator == "" {
		var cause error
		if op.Error != nil && op.Error.Message != "" {
			cause = errors.New(op.Error.Message)
		}
		return nil, domain.NewGenerationError(domain.KindArtifactMissing, cause, "Failed to retrieve video download link from the operation response")
	}

	r.progress(MsgDownloading)
	r.transition(domain.JobStateDownloading)
	dl, err := r.remote.Download(ctx, r.req.Credential, locator)
	if err != nil {
		return nil, downloadError(err)
	}
	if dl == nil || len(dl.Data) == 0 {
		return nil, domain.NewGenerationError(domain.KindDownloadFailed, nil, "Downloaded video file is empty")
	}
	metrics.ObserveDownload(len(dl.Data))

	r.progress(MsgPublishing)
	ref, err := r.publisher.Publish(dl.Data, dl.MimeType)
	if err != nil {
		return nil, domain.NewGenerationError(domain.KindUnknown, err, "failed to create local video reference")
	}
	r.transition(domain.JobStateDone)

	r.log.Info().
		Str("operation", op.Name).
		Str("artifact_id", ref.ID).
		Int("bytes", ref.Size).
		Int("polls", r.polls).
		Msg("video: generation completed")

	return ref, nil
}

func (r *run) transition(next domain.JobState) {
	if !r.state.CanTransition(next) {
		r.log.Warn().
			Str("from", string(r.state)).
			Str("to", string(next)).
			Msg("video: unexpected state transition")
	}
	r.log.Debug().
		Str("from", string(r.state)).
		Str("to", string(next)).
		Msg("video: state transition")
	r.state = next
}

func downloadError(err error) *domain.GenerationError {
	gerr := domain.NewGenerationError(domain.KindDownloadFailed, err, "Failed to download video file")
	var statusErr *genai.StatusError
	if errors.As(err, &statusErr) {
		gerr.StatusCode = statusErr.StatusCode
		gerr.Status = statusErr.Status
		gerr.Body = statusErr.Body
	}
	return gerr
}

func normalize(err error) *domain.GenerationError {
	var gerr *domain.GenerationError
	if errors.As(err, &gerr) {
		return gerr
	}
	return domain.NewGenerationError(domain.KindUnknown, err, "An unknown error occurred during video generation")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
