// Command workflow-mock serves a scripted workflow stream for local runs:
//
//	workflow-mock -addr :8090 -script demo.yaml -token dev
//	MCC_WORKFLOW_BASE_URL=http://localhost:8090 MCC_WORKFLOW_TOKEN=dev mcc -workflow demo
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/workflowmock"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	scriptPath := flag.String("script", "", "YAML frame script (default: built-in demo)")
	token := flag.String("token", "", "required bearer token")
	delay := flag.Duration("delay", 200*time.Millisecond, "pause between frames")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	script := workflowmock.DemoScript()
	if *scriptPath != "" {
		if script, err = workflowmock.LoadScript(*scriptPath); err != nil {
			logger.Fatal("Failed to load script", zap.Error(err))
		}
	}

	mock := workflowmock.NewServer(script,
		workflowmock.WithToken(*token),
		workflowmock.WithFrameDelay(*delay),
		workflowmock.WithLogger(logger))
	srv := &http.Server{Addr: *addr, Handler: mock.Handler(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Workflow mock listening", zap.String("addr", *addr), zap.String("workflow", script.WorkflowID), zap.Int("frames", len(script.Frames)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	logger.Info("Workflow mock stopped")
}
