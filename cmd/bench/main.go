package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/graphmill/graphmill/internal/util"
	"github.com/graphmill/graphmill/pkg/ai"
	oll "github.com/graphmill/graphmill/pkg/ai/ollama"
	oai "github.com/graphmill/graphmill/pkg/ai/openai"
	"github.com/graphmill/graphmill/pkg/bench"
	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/extract"
	"github.com/graphmill/graphmill/pkg/index"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/logger/console"
	"github.com/graphmill/graphmill/pkg/migrate"
	storepgx "github.com/graphmill/graphmill/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.New(console.Params{
		Debug: debug,
	}))

	// Oracle
	oracle := newOracle()

	// Database
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := migrate.Up(databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	pgConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal("Invalid database URL", "err", err)
	}
	pgConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pgConn, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// Corpus
	corpusDir := util.GetEnvString("BENCH_CORPUS_DIR", "./corpus")
	corpus, err := loadCorpus(corpusDir)
	if err != nil {
		logger.Fatal("Failed to load corpus", "err", err)
	}
	if len(corpus) == 0 {
		logger.Fatal("Corpus directory contains no .md or .txt documents", "dir", corpusDir)
	}

	// Both configurations derive from the environment; the benchmark forces
	// the master switch per pass.
	baseCfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	legacyCfg := baseCfg
	legacyCfg.EnableEnhancedKG = false
	enhancedCfg := baseCfg
	enhancedCfg.EnableEnhancedKG = true

	legacy, err := newTarget(ctx, "legacy", pgConn, oracle, legacyCfg, "bench_legacy")
	if err != nil {
		logger.Fatal("Failed to build legacy target", "err", err)
	}
	enhanced, err := newTarget(ctx, "enhanced", pgConn, oracle, enhancedCfg, "bench_enhanced")
	if err != nil {
		logger.Fatal("Failed to build enhanced target", "err", err)
	}

	report, err := bench.Run(ctx, legacy, enhanced, corpus)
	if err != nil {
		logger.Fatal("Benchmark failed", "err", err)
	}

	if err := report.WriteJSON(os.Stdout); err != nil {
		logger.Fatal("Failed to write report", "err", err)
	}
}

func newOracle() ai.GraphOracle {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := oll.NewGraphOllamaClient(oll.NewGraphOllamaClientParams{
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		return client
	default:
		return oai.NewGraphOpenAIClient(oai.NewGraphOpenAIClientParams{
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		})
	}
}

func newTarget(
	ctx context.Context,
	name string,
	conn *pgxpool.Pool,
	oracle ai.GraphOracle,
	cfg config.Config,
	kbID string,
) (bench.Target, error) {
	storage, err := storepgx.NewGraphDBStorage(ctx, storepgx.NewGraphDBStorageParams{
		Conn:            conn,
		Embedder:        oracle,
		Config:          cfg,
		KnowledgeBaseID: kbID,
	})
	if err != nil {
		return bench.Target{}, err
	}

	indexer, err := index.NewIndexer(index.NewIndexerParams{
		Extractor: extract.New(oracle, cfg),
		Storage:   storage,
		Config:    cfg,
	})
	if err != nil {
		return bench.Target{}, err
	}

	return bench.Target{
		Name:    name,
		Indexer: indexer,
		Storage: storage,
	}, nil
}

func loadCorpus(dir string) ([]common.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var docs []common.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, common.Document{
			ID:   entry.Name(),
			Text: string(content),
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}
