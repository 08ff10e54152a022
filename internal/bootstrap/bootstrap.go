package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmakarov/persona-chat/internal/config"
	"github.com/dmakarov/persona-chat/internal/core/ports"
	"github.com/dmakarov/persona-chat/internal/core/usecase"
	"github.com/dmakarov/persona-chat/internal/infrastructure/index/bm25"
	"github.com/dmakarov/persona-chat/internal/infrastructure/llm/openrouter"
	personafileset "github.com/dmakarov/persona-chat/internal/infrastructure/persona/fileset"
	personapg "github.com/dmakarov/persona-chat/internal/infrastructure/persona/postgres"
	"github.com/dmakarov/persona-chat/internal/infrastructure/queue/nats"
	"github.com/dmakarov/persona-chat/internal/infrastructure/resilience"
	"github.com/dmakarov/persona-chat/internal/infrastructure/scorer/tei"
	"github.com/dmakarov/persona-chat/internal/infrastructure/vector/chroma"
	"github.com/dmakarov/persona-chat/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.HTTPServerMetrics

	ChatUC   ports.ChatStreamer
	Personas ports.PersonaReader
	Lexical  ports.LexicalIndex
	Queue    *nats.Queue

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	m := metrics.NewHTTPServerMetrics("api")

	vectorStore := chroma.New(cfg.ChromaURL, 30*time.Second)
	lexical := bm25.New(vectorStore)

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	model := openrouter.New(cfg.OpenRouterURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.LLMTimeout, executor)

	// Pairwise scoring is optional hardware; probe once and commit.
	var scorer ports.PairwiseScorer
	if cfg.ScorerURL != "" {
		client := tei.New(cfg.ScorerURL, cfg.ScorerTimeout, executor)
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		available := client.Available(probeCtx)
		cancel()
		if available {
			scorer = client
		} else {
			log.Warn("pairwise_scorer_unavailable", "url", cfg.ScorerURL)
		}
	}

	var personas ports.PersonaStore
	var closeDB func()
	switch cfg.PersonaStore {
	case "postgres":
		db, err := personapg.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := personapg.NewPersonaRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		personas = repo
		closeDB = func() { _ = db.Close() }
	default:
		store, err := personafileset.New(cfg.PersonasDir)
		if err != nil {
			return nil, fmt.Errorf("load personas: %w", err)
		}
		personas = store
	}

	retriever := usecase.NewHybridRetriever(vectorStore, lexical, cfg.RAGFusionRRFK, cfg.RAGHybridSearch, m, log)
	reranker := usecase.NewReranker(scorer, model, m, log)
	chatUC := usecase.NewChatUseCase(
		personas,
		retriever,
		reranker,
		model,
		usecase.RewriteStrategies(model, cfg.RAGRewriteStrategy),
		usecase.ChatConfig{
			TopK:               cfg.RAGTopK,
			HybridCandidates:   cfg.RAGHybridCandidates,
			EnableQueryRewrite: cfg.RAGQueryRewrite,
			EnableReranker:     cfg.RAGReranker,
			RewriteTimeout:     cfg.RewriteTimeout,
			RetrieveTimeout:    cfg.RetrieveTimeout,
			RerankTimeout:      cfg.RerankTimeout,
		},
		m,
		log,
	)

	var queue *nats.Queue
	if cfg.NATSURL != "" {
		q, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			if closeDB != nil {
				closeDB()
			}
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		queue = q

		go func() {
			err := q.SubscribeCorpusReindexed(ctx, func(personaID string) {
				if personaID == "" {
					lexical.InvalidateAll()
				} else {
					lexical.Invalidate(personaID)
				}
				m.RecordIndexInvalidation("nats")
				log.Info("lexical_index_invalidated", "persona_id", personaID, "trigger", "nats")
			})
			if err != nil && ctx.Err() == nil {
				log.Error("reindex_subscription_failed", "error", err)
			}
		}()
	}

	return &App{
		Config:   cfg,
		Metrics:  m,
		ChatUC:   chatUC,
		Personas: personas,
		Lexical:  lexical,
		Queue:    queue,

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			if closeDB != nil {
				closeDB()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
