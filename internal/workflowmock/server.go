package workflowmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Paths served by the mock, matching the real API.
const (
	StreamRunPath    = "/v1/workflow/stream_run"
	StreamResumePath = "/v1/workflow/stream_resume"
)

// Call records one request received by the mock.
type Call struct {
	Path          string
	WorkflowID    string
	EventID       string
	InterruptType int
	ResumeData    string
}

// Server replays a Script over HTTP.
type Server struct {
	script *Script
	token  string
	delay  time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	calls []Call
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithFrameDelay pauses between frames.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a mock serving script.
func NewServer(script *Script, opts ...Option) *Server {
	s := &Server{script: script, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StreamRunPath, s.handleRun)
	mux.HandleFunc(StreamResumePath, s.handleResume)
	return mux
}

// Calls returns the requests received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

type runRequest struct {
	WorkflowID string `json:"workflow_id"`
}

type resumeRequest struct {
	WorkflowID    string `json:"workflow_id"`
	EventID       string `json:"event_id"`
	InterruptType int    `json:"interrupt_type"`
	ResumeData    string `json:"resume_data"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.record(Call{Path: StreamRunPath, WorkflowID: req.WorkflowID})
	if !s.checkWorkflow(w, req.WorkflowID) {
		return
	}
	s.stream(w, r, 0)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.record(Call{
		Path:          StreamResumePath,
		WorkflowID:    req.WorkflowID,
		EventID:       req.EventID,
		InterruptType: req.InterruptType,
		ResumeData:    req.ResumeData,
	})
	if !s.checkWorkflow(w, req.WorkflowID) {
		return
	}

	idx, err := strconv.Atoi(req.EventID)
	if err != nil || idx < 0 || idx >= len(s.script.Frames) || !s.script.Frames[idx].Interrupt {
		http.Error(w, fmt.Sprintf("unknown event_id %q", req.EventID), http.StatusBadRequest)
		return
	}
	if want := s.script.Frames[idx].InterruptType; req.InterruptType != want {
		http.Error(w, fmt.Sprintf("interrupt_type %d does not match %d", req.InterruptType, want), http.StatusBadRequest)
		return
	}
	s.stream(w, r, idx+1)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return false
	}
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) checkWorkflow(w http.ResponseWriter, id string) bool {
	if s.script.WorkflowID != "" && id != s.script.WorkflowID {
		http.Error(w, fmt.Sprintf("unknown workflow %q", id), http.StatusNotFound)
		return false
	}
	return true
}

func (s *Server) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	s.logger.Info("Workflow request", zap.String("path", c.Path), zap.String("workflow", c.WorkflowID), zap.String("eventId", c.EventID))
}

// stream writes frames from start until the script ends or an interrupt.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, start int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for i := start; i < len(s.script.Frames); i++ {
		if s.delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.delay):
			}
		}

		f := s.script.Frames[i]
		event, payload, err := encodeFrame(i, f)
		if err != nil {
			s.logger.Error("Encode frame failed", zap.Int("frame", i), zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", i, event, payload); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if f.Interrupt {
			return
		}
	}
	_, _ = fmt.Fprint(w, "event: Done\ndata: {}\n\n")
}

func encodeFrame(idx int, f Frame) (string, []byte, error) {
	if f.Interrupt {
		payload, err := json.Marshal(map[string]interface{}{
			"interrupt_data": map[string]interface{}{
				"event_id": strconv.Itoa(idx),
				"type":     f.InterruptType,
			},
		})
		return "Interrupt", payload, err
	}

	content := f.Message
	if f.Command != nil {
		raw, err := json.Marshal(f.Command)
		if err != nil {
			return "", nil, err
		}
		content = string(raw)
	}
	finish := true
	if f.NodeIsFinish != nil {
		finish = *f.NodeIsFinish
	}
	payload, err := json.Marshal(map[string]interface{}{
		"content":        content,
		"node_is_finish": finish,
	})
	return "Message", payload, err
}
