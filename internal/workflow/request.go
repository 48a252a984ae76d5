package workflow

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/monitor-car/mcc/internal/config"
)

// Request is a child process invocation.
type Request struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
	// Stdin is fed to the process. Credentials travel here, not in Args.
	Stdin []byte
}

// RequestBuilder produces the requests that start and resume a workflow.
type RequestBuilder interface {
	Start(workflowID string) (Request, error)
	Resume(workflowID string, token ResumeToken) (Request, error)
}

// Workflow API paths relative to the base URL.
const (
	StreamRunPath    = "/v1/workflow/stream_run"
	StreamResumePath = "/v1/workflow/stream_resume"
)

// CurlBuilder builds curl invocations against the workflow HTTP API.
type CurlBuilder struct {
	CurlPath   string
	BaseURL    string
	Token      string
	HeadInput  string
	ResumeData string
}

// NewCurlBuilder builds a CurlBuilder from configuration.
func NewCurlBuilder(cfg config.WorkflowConfig) *CurlBuilder {
	return &CurlBuilder{
		CurlPath:   cfg.CurlPath,
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		HeadInput:  cfg.HeadInput,
		ResumeData: cfg.ResumeData,
	}
}

type startPayload struct {
	WorkflowID string            `json:"workflow_id"`
	Parameters map[string]string `json:"parameters"`
}

type resumePayload struct {
	WorkflowID    string `json:"workflow_id"`
	EventID       string `json:"event_id"`
	InterruptType int    `json:"interrupt_type"`
	ResumeData    string `json:"resume_data"`
}

// Start builds the stream_run request.
func (b *CurlBuilder) Start(workflowID string) (Request, error) {
	return b.build(StreamRunPath, startPayload{
		WorkflowID: workflowID,
		Parameters: map[string]string{"head_input": b.HeadInput},
	})
}

// Resume builds the stream_resume request for token.
func (b *CurlBuilder) Resume(workflowID string, token ResumeToken) (Request, error) {
	resumeData := b.ResumeData
	if resumeData == "" {
		resumeData = "next"
	}
	return b.build(StreamResumePath, resumePayload{
		WorkflowID:    workflowID,
		EventID:       token.EventID,
		InterruptType: token.InterruptType,
		ResumeData:    resumeData,
	})
}

func (b *CurlBuilder) build(path string, payload interface{}) (Request, error) {
	if b.Token == "" {
		return Request{}, errors.New("workflow token is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, errors.Wrap(err, "encode workflow payload")
	}

	curl := b.CurlPath
	if curl == "" {
		curl = "curl"
	}
	// "-H @-" reads the authorization header from stdin so the token never
	// shows up in the process table. --fail-with-body turns an HTTP error
	// into a non-zero exit.
	return Request{
		Path: curl,
		Args: []string{
			"--silent", "--show-error", "--no-buffer", "--fail-with-body",
			"-X", "POST", strings.TrimRight(b.BaseURL, "/") + path,
			"-H", "@-",
			"-H", "Content-Type: application/json",
			"-d", string(body),
		},
		Stdin: []byte("Authorization: Bearer " + b.Token + "\n"),
	}, nil
}
