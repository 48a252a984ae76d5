// Package main runs the motor command container: the HTTP command surface
// and, when a workflow is configured, the streaming workflow runner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/adapter/sim"
	"github.com/monitor-car/mcc/internal/api"
	"github.com/monitor-car/mcc/internal/audit"
	"github.com/monitor-car/mcc/internal/command"
	"github.com/monitor-car/mcc/internal/config"
	"github.com/monitor-car/mcc/internal/motion"
	"github.com/monitor-car/mcc/internal/motor"
	"github.com/monitor-car/mcc/internal/observability"
	"github.com/monitor-car/mcc/internal/telemetry"
	"github.com/monitor-car/mcc/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default $MCC_CONFIG or "+config.DefaultPath+")")
	workflowID := flag.String("workflow", "", "workflow id to run (overrides workflow.id)")
	serve := flag.Bool("serve", true, "serve the HTTP API")
	flag.Parse()

	if err := run(*configPath, *workflowID, *serve); err != nil {
		fmt.Fprintf(os.Stderr, "mcc: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, workflowID string, serve bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if workflowID != "" {
		cfg.Workflow.ID = workflowID
	}
	runWorkflow := cfg.Workflow.ID != ""
	if runWorkflow {
		if err := config.ValidateWorkflowRun(&cfg.Workflow); err != nil {
			return err
		}
	}
	if !serve && !runWorkflow {
		return errors.New("nothing to do: API disabled and no workflow configured")
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("Starting motor command container", zap.String("version", api.Version))

	driver := sim.NewDriver(cfg.Motors.Ports, sim.Options{
		RatedDPS: cfg.Motors.Sim.RatedDPS,
		Realtime: cfg.Motors.Sim.Realtime,
	})
	registry := motor.NewRegistry(driver, cfg.Motors.Ports,
		motor.WithLogger(logger),
		motor.WithErrorFamily(cfg.Motors.ErrorFamily),
		motor.WithStopTimeout(cfg.Timing.CommandTimeoutStop))
	logger.Info("Motor registry initialized", registryFields(cfg)...)

	d := cfg.Motors.Defaults
	syncer := motion.NewSynchronizer(motion.Defaults{
		Speed:     d.Speed,
		Direction: d.Direction,
		Turns:     d.Turns,
		Distance:  d.Distance,
		Position:  d.Position,
	}, logger)

	hub := telemetry.NewHub(&cfg.Timing, logger)
	hub.SetSnapshot(func() interface{} {
		return map[string]interface{}{"motors": registry.List()}
	})

	auditLogger := audit.NewLogger(cfg.Audit, logger)
	logger.Info("Audit logger initialized", zap.String("path", auditLogger.Path()))

	dispatcher, err := command.NewDispatcher(registry, syncer,
		command.WithLogger(logger),
		command.WithAudit(auditLogger),
		command.WithPublisher(hub),
		command.WithTiming(cfg.Timing),
		command.WithCircumference(cfg.Motors.WheelCircumference))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	var server *api.Server
	if serve {
		mw, err := api.NewAuthMiddleware(cfg.API.Auth)
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}
		server = api.NewServer(cfg.API, dispatcher, registry, hub, mw, logger)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- err
			}
		}()
		logger.Info("Health endpoint", zap.String("url", "http://localhost"+cfg.API.Addr+"/api/v1/health"))
	}

	workflowDone := make(chan struct{})
	if runWorkflow {
		runner := workflow.NewRunner(cfg.Workflow, dispatcher,
			workflow.WithLogger(logger),
			workflow.WithPublisher(hub),
			workflow.WithOutput(logOutput(logger)))
		go func() {
			defer close(workflowDone)
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("workflow %s: %w", cfg.Workflow.ID, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-errCh:
		logger.Error("Component failed", zap.Error(runErr))
	case <-waitWorkflow(workflowDone, runWorkflow && !serve):
		logger.Info("Workflow finished")
	}
	stop()

	if server != nil {
		if err := server.Stop(context.Background()); err != nil {
			logger.Warn("Error stopping HTTP server", zap.Error(err))
		}
	}
	if runWorkflow {
		<-workflowDone
	}

	if err := registry.ReleaseAll(); err != nil {
		logger.Warn("Error releasing motors", zap.Error(err))
	}
	hub.Stop()
	if err := auditLogger.Close(); err != nil {
		logger.Warn("Error closing audit logger", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return runErr
}

// waitWorkflow returns done when the process should exit with the
// workflow, else a channel that never fires.
// registryFields describes the configured channel alphabet. Nothing is
// claimed at startup, so the registry's own port list would be empty.
func registryFields(cfg *config.Config) []zap.Field {
	return []zap.Field{
		zap.Strings("ports", cfg.Motors.Ports),
		zap.String("driver", cfg.Motors.Driver),
	}
}

func waitWorkflow(done chan struct{}, exitWithWorkflow bool) <-chan struct{} {
	if exitWithWorkflow {
		return done
	}
	return nil
}

func logOutput(logger *zap.Logger) workflow.OutputFunc {
	return func(o workflow.Output) {
		switch o.Kind {
		case workflow.OutputText:
			logger.Info("Workflow message", zap.String("content", o.Text), zap.Bool("nodeFinished", o.NodeFinished))
		case workflow.OutputResult:
			logger.Info("Workflow command",
				zap.String("command", o.Text),
				zap.Bool("success", o.Result.Success),
				zap.String("message", o.Result.Message),
				zap.String("error", o.Result.Error))
		case workflow.OutputInterrupt:
			logger.Info("Workflow interrupt", zap.Stringer("token", o.Resume))
		}
	}
}
