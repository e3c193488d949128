package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/lexiqai/story-pipeline/internal/api"
	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/pipeline"
	"github.com/lexiqai/story-pipeline/internal/storage"
	"github.com/lexiqai/story-pipeline/internal/synthesis"
	"github.com/lexiqai/story-pipeline/internal/textgen"
	"github.com/lexiqai/story-pipeline/internal/topics"
	"github.com/lexiqai/story-pipeline/internal/tts"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, topic generator, HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	dialogue, err := config.LoadDialogue(cfg.ConfigDir, cfg.ConfigName)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load dialogue configuration")
		return err
	}

	kindName := cfg.TTSBackend
	if kindName == "" {
		kindName = dialogue.VoiceGenerator
	}
	kind, err := tts.ParseKind(kindName)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid voice generator")
		return err
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("config", cfg.ConfigName).
		Str("tts_backend", string(kind)).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Story pipeline starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open storage")
		return err
	}
	defer db.Close()

	topicStore := storage.NewTopicStore(db)
	storyStore := storage.NewStoryStore(db, cfg.AudioDir())
	if err := os.MkdirAll(cfg.AudioDir(), 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	synth, err := tts.New(kind, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create voice synthesizer")
		return err
	}
	fanOut, err := synthesis.New(synth, cfg.SynthesisWorkers, config.Seconds(cfg.SynthesisTimeout))
	if err != nil {
		return err
	}
	defer fanOut.Close()

	generator := textgen.NewOpenAIGenerator(cfg)
	state := &observability.PipelineState{}
	hub := api.NewHub()
	defer hub.Close()

	p := pipeline.New(cfg, dialogue, pipeline.Dependencies{
		Topics:      topicStore,
		Stories:     storyStore,
		Generator:   generator,
		Synthesizer: fanOut,
		State:       state,
		OnStory:     hub.Publish,
	})

	removed, err := p.Audit(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Startup audit failed")
		return err
	}
	logger.Info().Int("removed", len(removed)).Msg("Startup audit complete")

	// gRPC health
	grpcHealth := observability.NewGRPCHealth(state)
	grpcServer := grpc.NewServer()
	grpcHealth.Register(grpcServer)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on grpc port %s: %w", cfg.GRPCPort, err)
	}
	go func() {
		logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	// HTTP
	srv := api.NewServer(storyStore, cfg.AudioRoot, hub, api.Options{
		Checks: map[string]observability.HealthCheckFunc{
			"storage":  db.Ping,
			"tts":      synth.Healthy,
			"textgen":  generator.Healthy,
			"pipeline": state.Check,
		},
		MetricsEnabled: cfg.MetricsEnabled,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	producer := topics.NewGenerator(dialogue.DialogueData, topicStore, cfg.MaxSystemTopics, config.Seconds(cfg.TopicGeneratorInterval))
	go producer.Run(ctx)

	runErr := p.Run(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Pipeline stopped with error")
	}

	logger.Info().Msg("Shutting down servers...")
	grpcHealth.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	grpcServer.GracefulStop()

	logger.Info().Msg("Server exited")
	return runErr
}
