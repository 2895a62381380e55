package video

import (
	"context"

	"veostudio/internal/artifact"
	"veostudio/internal/providers/genai"
)

// GenerateRequest is one user-triggered generation. Prompt and Credential are
// expected to be trimmed and non-empty; the shell checks this before calling.
type GenerateRequest struct {
	Prompt     string
	Credential string
	RequestID  string
}

// ProgressFunc receives short human-readable status updates.
type ProgressFunc func(message string)

// Generator is the contract the interaction shells consume.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, onProgress ProgressFunc) (*artifact.Reference, error)
}

// Remote is the narrow view of the video service the workflow drives.
type Remote interface {
	SubmitVideo(ctx context.Context, credential string, req genai.VideoRequest) (*genai.Operation, error)
	PollOperation(ctx context.Context, credential string, op *genai.Operation) (*genai.Operation, error)
	Download(ctx context.Context, credential, locator string) (*genai.Download, error)
}

var (
	_ Generator = (*Workflow)(nil)
	_ Remote    = (*genai.Client)(nil)
)
