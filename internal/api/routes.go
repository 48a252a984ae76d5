package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/audit"
	"github.com/monitor-car/mcc/internal/auth"
	"github.com/monitor-car/mcc/internal/command"
)

// MaxCommandBytes bounds a command request body.
const MaxCommandBytes = 64 << 10

// RegisterRoutes registers all /api/v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"
	m := s.authMiddleware

	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.HandleFunc(apiV1+"/capabilities", m.Protect(s.handleCapabilities, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/motors", m.Protect(s.handleMotors, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/commands", m.Protect(s.handleCommands, auth.ScopeControl))
	mux.HandleFunc(apiV1+"/telemetry", m.Protect(s.handleTelemetry, auth.ScopeTelemetry))
}

func methodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		"Only "+method+" method is allowed", nil)
}

// handleCapabilities handles GET /capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"operations": s.commands.Operations(),
		"encodings":  []string{command.ContentTypeJSON, command.ContentTypeCBOR},
		"telemetry":  []string{"sse"},
		"ports":      s.motors.Ports(),
		"version":    Version,
	})
}

// handleMotors handles GET /motors
func (s *Server) handleMotors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	WriteSuccess(w, map[string]interface{}{"motors": s.motors.List()})
}

// handleCommands handles POST /commands. The request Content-Type picks
// the envelope codec; the response uses the same codec unless Accept
// names another supported one.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	codecs := s.commands.Codecs()
	codec, err := codecs.ForContentType(r.Header.Get("Content-Type"))
	if err != nil {
		WriteError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", err.Error(), nil)
		return
	}
	out := codec
	if accept := r.Header.Get("Accept"); accept != "" && accept != "*/*" {
		if c, err := codecs.ForContentType(accept); err == nil {
			out = c
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxCommandBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Command body too large", nil)
			return
		}
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Failed to read request body", nil)
		return
	}

	ctx := audit.WithSource(r.Context(), audit.SourceAPI)
	if claims := auth.ClaimsFrom(r.Context()); claims != nil {
		ctx = audit.WithActor(ctx, claims.Subject)
	}

	res := s.commands.DispatchCodec(ctx, codec, body)

	status := http.StatusOK
	resp := SuccessResponse(res)
	if !res.Success {
		code, st := ToAPIError(res.Err)
		status = st
		resp = ErrorResponse(code, res.Error, res)
	}
	s.writeEncoded(w, out, status, resp)
}

func (s *Server) writeEncoded(w http.ResponseWriter, codec command.Codec, status int, resp *Response) {
	if codec.ContentType() == command.ContentTypeJSON {
		writeResponse(w, status, resp)
		return
	}
	body, err := codec.Encode(resp)
	if err != nil {
		s.logger.Error("Encode response failed", zap.String("codec", codec.Name()), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "Failed to encode response", nil)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Debug("Telemetry subscription ended", zap.Error(err))
	}
}

// HostStats is the host resource snapshot reported by /health.
type HostStats struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemUsedPct    float64 `json:"memUsedPercent"`
	MemTotalBytes uint64  `json:"memTotalBytes"`
}

func readHostStats(ctx context.Context) (*HostStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	stats := &HostStats{MemUsedPct: vm.UsedPercent, MemTotalBytes: vm.Total}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	return stats, nil
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	subsystems := map[string]bool{
		"commands":  s.commands != nil,
		"motors":    s.motors != nil,
		"telemetry": s.telemetryHub != nil,
	}

	health := map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    Version,
		"subsystems": subsystems,
	}
	if s.motors != nil {
		health["claimed"] = len(s.motors.List())
	}
	if s.telemetryHub != nil {
		health["telemetryClients"] = s.telemetryHub.ClientCount()
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if stats, err := s.hostStats(ctx); err == nil {
		health["host"] = stats
	} else {
		s.logger.Debug("Host stats unavailable", zap.Error(err))
	}

	for _, ok := range subsystems {
		if !ok {
			health["status"] = "degraded"
			WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
				"One or more subsystems are unavailable", health)
			return
		}
	}
	WriteSuccess(w, health)
}
