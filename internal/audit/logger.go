package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/monitor-car/mcc/internal/adapter"
	"github.com/monitor-car/mcc/internal/config"
	"github.com/monitor-car/mcc/internal/kinematics"
	"github.com/monitor-car/mcc/internal/motor"
)

// Outcomes recorded in Entry.Outcome.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	Actor     string                 `json:"actor"`
	Source    string                 `json:"source,omitempty"`
	Ports     []string               `json:"ports,omitempty"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	Error     string                 `json:"error,omitempty"`
	LatencyMS float64                `json:"latencyMs"`
}

// Recorder is the audit surface used by the command dispatcher.
type Recorder interface {
	LogAction(ctx context.Context, action string, ports []string, params map[string]interface{}, err error, latency time.Duration)
}

// Logger writes audit entries as JSON lines.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	rotate func() error
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewLogger opens a rotating audit file described by cfg.
func NewLogger(cfg config.AuditConfig, logger *zap.Logger) *Logger {
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    max(cfg.MaxSizeMB, 1),
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	l := NewWriterLogger(lj, logger)
	l.closer = lj
	l.rotate = lj.Rotate
	l.path = cfg.Path
	return l
}

// NewWriterLogger writes entries to w. A nil logger is replaced by a no-op.
func NewWriterLogger(w io.Writer, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{w: w, logger: logger.Named("audit"), now: time.Now}
}

// LogAction records one command. err == nil records SUCCESS.
func (l *Logger) LogAction(ctx context.Context, action string, ports []string, params map[string]interface{}, err error, latency time.Duration) {
	entry := Entry{
		Timestamp: l.now().UTC(),
		Actor:     ActorFrom(ctx),
		Source:    SourceFrom(ctx),
		Ports:     ports,
		Action:    action,
		Params:    params,
		Outcome:   OutcomeSuccess,
		Code:      OutcomeSuccess,
		LatencyMS: float64(latency) / float64(time.Millisecond),
	}
	if err != nil {
		entry.Outcome = OutcomeFailure
		entry.Code = CodeOf(err)
		entry.Error = err.Error()
	}
	l.writeEntry(entry)
}

func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", zap.String("action", entry.Action), zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", zap.String("action", entry.Action), zap.Error(err))
		return
	}
	if f, ok := l.w.(*os.File); ok {
		_ = f.Sync()
	}
}

// Rotate starts a new audit file. Writer-backed loggers ignore it.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotate == nil {
		return nil
	}
	return l.rotate()
}

// Path returns the audit file path, empty for writer-backed loggers.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the underlying file. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w = nil
	if l.closer != nil {
		err := l.closer.Close()
		l.closer = nil
		return err
	}
	return nil
}

var knownCodes = []error{
	adapter.ErrInvalidRange,
	adapter.ErrBusy,
	adapter.ErrUnavailable,
	adapter.ErrInternal,
	motor.ErrNotClaimed,
	motor.ErrAlreadyClaimed,
	motor.ErrInvalidPort,
	kinematics.ErrInvalidCircumference,
	kinematics.ErrUnknownPolicy,
	context.DeadlineExceeded,
	context.Canceled,
}

// CodeOf returns the audit code for err: the first known sentinel it
// wraps, else the first upper-case token in its chain, else "ERROR".
func CodeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	for _, known := range knownCodes {
		if errors.Is(err, known) {
			switch known {
			case context.DeadlineExceeded:
				return "TIMEOUT"
			case context.Canceled:
				return "CANCELLED"
			}
			return known.Error()
		}
	}
	if code := firstToken(err); code != "" {
		return code
	}
	return "ERROR"
}

// firstToken walks the unwrap tree depth first looking for a sentinel
// whose message is an upper-case code such as "UNKNOWN_OPERATION".
func firstToken(err error) string {
	if err == nil {
		return ""
	}
	if isToken(err.Error()) {
		return err.Error()
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return firstToken(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if code := firstToken(e); code != "" {
				return code
			}
		}
	}
	return ""
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && r != '_' && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
