package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github/itish2003/visiondoc/cache"
	"github/itish2003/visiondoc/config"
	"github/itish2003/visiondoc/controller"
	"github/itish2003/visiondoc/embedding"
	"github/itish2003/visiondoc/llm"
	"github/itish2003/visiondoc/logger"
	"github/itish2003/visiondoc/rerank"
	"github/itish2003/visiondoc/services"
	"github/itish2003/visiondoc/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load config: %v", err)
	}
	logger.Init(cfg.Logger.Level, cfg.Logger.Format)
	appLog := logger.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services.SetPDFLicense(cfg.PDF.LicenseKey)

	var geminiClient *genai.Client
	if cfg.LLM.GeminiAPIKey != "" {
		geminiClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.LLM.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			appLog.WithError(err).Fatal("Failed to create Gemini client")
		}
		appLog.Info("Successfully connected to Google Gemini.")
	}

	factory := llm.NewFactory(geminiClient, cfg.LLM.OllamaURL)
	answerModel := mustModel(appLog, factory, "answer", cfg.LLM.Answer)
	enrichModel := mustModel(appLog, factory, "enrich", cfg.LLM.Enrich)
	visionModel := mustModel(appLog, factory, "vision", cfg.LLM.Vision)

	embedder, err := embedding.New(cfg.Embedding, cfg.LLM.OllamaURL, geminiClient)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create embedder")
	}
	scorer, err := rerank.New(cfg.Rerank)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create re-ranker")
	}
	store, err := vectorstore.New(ctx, cfg.VectorStore)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to connect to vector store")
	}
	answerCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		appLog.WithError(err).Warn("Answer cache unavailable, continuing without it")
		answerCache = cache.Noop{}
	}

	parser := services.UniPDFParser{}
	imageDir := cfg.ImageDir()
	ragService := services.NewRAGService(services.RAGOptions{
		Extractor: services.NewPageExtractor(parser, cfg.Storage.UploadDir, imageDir, cfg.PDF.DPI, cfg.PDF.ExtractObjects, logger.For("extractor")),
		Fusion: services.NewPageFusionEngine(
			services.NewTextEnricher(enrichModel, logger.For("text_enricher")),
			services.NewVisionEnricher(visionModel, cfg.LLM.VisionTimeout, cfg.LLM.VisionAttempts, cfg.LLM.VisionRetryWait, logger.For("vision_enricher")),
			cfg.Ingest.Workers,
			logger.For("fusion"),
		),
		Indexer:   services.NewIndexer(store, embedder, cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.VectorStore.CollectionPrefix, logger.For("indexer")),
		Store:     store,
		Embedder:  embedder,
		Scorer:    scorer,
		Assembler: services.NewResponseAssembler(answerModel, parser, cfg.Storage.UploadDir, imageDir, cfg.Server.ImageSubdir, cfg.Server.BaseURL, logger.For("assembler")),
		Cache:     answerCache,
		UploadDir: cfg.Storage.UploadDir,
		StateFile: cfg.Storage.IndexStateFile,
		RecallK:   cfg.Retrieval.RecallK,
		TopK:      cfg.Retrieval.TopK,
		Log:       logger.For("rag"),
	})
	defer func() {
		if err := ragService.Close(); err != nil {
			appLog.WithError(err).Warn("Failed to close service resources")
		}
	}()

	for _, dir := range []string{cfg.Storage.UploadDir, imageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			appLog.WithError(err).Fatalf("Failed to create %s", dir)
		}
	}
	if err := ragService.Restore(ctx); err != nil {
		appLog.WithError(err).Warn("Could not restore the previous index, waiting for uploads")
	}

	if cfg.Ingest.Watch {
		watcher := services.NewDirectoryWatcher(cfg.Storage.UploadDir, cfg.Ingest.WatchDelay, func(ctx context.Context) {
			if _, err := ragService.IngestDirectory(ctx); err != nil {
				logger.For("watcher").WithError(err).Error("Directory rebuild failed")
			}
		}, logger.For("watcher"))
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.For("watcher").WithError(err).Error("Watcher stopped")
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	controller.RegisterRoutes(router, controller.NewRAGController(ragService, logger.For("http")), cfg.Server.StaticDir)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		appLog.Infof("Go Gin backend server starting on http://localhost:%s", cfg.Server.Port)
		appLog.Infof("Health check available at: http://localhost:%s/health", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Warn("Server shutdown did not complete cleanly")
	}
}

func mustModel(log *logrus.Entry, f *llm.Factory, role string, cfg config.ModelConfig) llm.Model {
	m, err := f.New(cfg)
	if err != nil {
		log.WithError(err).Fatalf("Failed to create %s model", role)
	}
	return m
}
