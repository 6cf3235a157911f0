package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"regchat/features/chat"
	"regchat/features/document"
	"regchat/features/job"
	"regchat/features/stats"
	"regchat/internal/config"
	"regchat/internal/extract"
	"regchat/internal/index"
	"regchat/internal/ingest"
	"regchat/internal/lock"
	"regchat/internal/middleware"
	"regchat/internal/pipeline"
	"regchat/internal/retrieval"
	"regchat/internal/synth"
	"regchat/internal/text"
	"regchat/internal/worker"
)

// Core is the retrieval stack without transport: the index, ingestion and
// the question pipeline. The server and the CLI both build one.
type Core struct {
	Index    *index.Index
	Ingest   *ingest.Service
	Pipeline *pipeline.Pipeline

	queryLogger *retrieval.QueryLogger
}

func NewCore(cfg *config.Config, store index.VectorStore, oracles *Oracles, locker lock.Locker) (*Core, error) {
	chunker, err := text.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	idx := index.New(oracles.Embedder, store, index.Options{
		Concurrency:  cfg.EmbedConcurrency,
		EmbedTimeout: cfg.EmbedTimeout,
		StoreTimeout: cfg.StoreTimeout,
	})

	synthesizer, err := synth.New(oracles.Generator, synth.Options{
		MaxContextChars: cfg.MaxContextChars,
		Timeout:         cfg.GenerateTimeout,
	})
	if err != nil {
		return nil, err
	}

	artifacts, err := ingest.NewArtifactStore(cfg.ProcessedDataDir)
	if err != nil {
		return nil, err
	}
	if err := extract.CheckAvailable(); err != nil {
		slog.Warn("pdf extraction unavailable, ingestion will fail until it is installed", "error", err)
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retriever := retrieval.NewService(idx, cfg.RetrieverK, queryLogger)

	return &Core{
		Index:       idx,
		Ingest:      ingest.NewService(chunker, idx, extract.NewPDFExtractor(), artifacts, locker),
		Pipeline:    pipeline.New(retriever, synthesizer, cfg.RetrieverK),
		queryLogger: queryLogger,
	}, nil
}

func (c *Core) Close() error {
	return c.queryLogger.Close()
}

type App struct {
	*Core
	Handler        http.Handler
	Documents      *document.Service
	IngestConsumer *worker.IngestConsumer

	cfg *config.Config
}

// New wires services and routes on top of bootstrapped dependencies.
func New(cfg *config.Config, deps *Dependencies, oracles *Oracles, logger *slog.Logger) (*App, error) {
	if deps.DB == nil || deps.Store == nil || deps.Publisher == nil {
		return nil, errors.New("app: db, vector store and publisher are required")
	}

	var locker lock.Locker = lock.NewKeyed()
	if deps.Redis != nil {
		locker = lock.NewRedis(deps.Redis, cfg.LockTTL)
	}
	core, err := NewCore(cfg, deps.Store, oracles, locker)
	if err != nil {
		return nil, err
	}
	ingestService := core.Ingest

	// Feature: Document
	documentRepo := document.NewPostgresRepo(deps.DB)
	documentService := document.NewService(documentRepo, deps.Publisher, ingestService, cfg.RawDataDir)
	documentHandler := document.NewHandler(documentService, cfg.MaxUploadSizeMB)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	jobService := job.NewService(jobRepo, deps.Publisher, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Chat
	chatHandler := chat.NewHandler(core.Pipeline, 0)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentService, jobRepo, core.Index)

	prefix := strings.TrimRight(cfg.APIPrefix, "/")
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+prefix+"/upload", documentHandler.Upload)
	mux.HandleFunc("GET "+prefix+"/documents", documentHandler.List)
	mux.HandleFunc("GET "+prefix+"/documents/{id}", documentHandler.Get)
	mux.HandleFunc("POST "+prefix+"/documents/{id}/reindex", documentHandler.Reindex)
	mux.HandleFunc("DELETE "+prefix+"/documents/{id}", documentHandler.Delete)

	mux.HandleFunc("POST "+prefix+"/chat", chatHandler.Chat)

	mux.HandleFunc("GET "+prefix+"/jobs/failed", jobHandler.List)
	mux.HandleFunc("POST "+prefix+"/jobs/{id}/retry", jobHandler.Retry)

	mux.HandleFunc("GET "+prefix+"/stats", statsHandler.GetStats)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, map[string]string{
			"message": "University Regulations RAG Chatbot API",
			"status":  "active",
		})
	})

	handler := middleware.CorrelationID(middleware.CORS(cfg.CORSOrigins)(mux))

	consumer := worker.NewIngestConsumer(ingestService, documentRepo, jobRepo, cfg.IngestMaxAttempts)

	return &App{
		Core:           core,
		Handler:        handler,
		Documents:      documentService,
		IngestConsumer: consumer,
		cfg:            cfg,
	}, nil
}

func writeStatus(w http.ResponseWriter, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Run serves HTTP and consumes the ingest topic, as enabled by config,
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.Core.Close(); err != nil {
			slog.Warn("failed to close query log", "error", err)
		}
	}()

	if a.cfg.EnableIngestWorker {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort, "api_prefix", a.cfg.APIPrefix)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	concurrency := a.cfg.IngestionConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	nsqCfg.MaxInFlight = concurrency
	nsqCfg.MaxAttempts = a.cfg.IngestMaxAttempts
	// extraction and embedding of a large PDF outlive the default 60s
	nsqCfg.MsgTimeout = 10 * time.Minute

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(a.IngestConsumer, concurrency)

	// without lookupd the consumer reads from the single nsqd it publishes to
	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("ingest consumer connected", "topic", config.TopicIngestDocument, "concurrency", concurrency)
	return consumer, nil
}
