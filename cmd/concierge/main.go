// Package main is the entry point for the Concierge backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stayops/concierge/internal/api"
	"github.com/stayops/concierge/internal/autoreply"
	"github.com/stayops/concierge/internal/autosend"
	"github.com/stayops/concierge/internal/buildinfo"
	"github.com/stayops/concierge/internal/config"
	"github.com/stayops/concierge/internal/embeddings"
	"github.com/stayops/concierge/internal/events"
	"github.com/stayops/concierge/internal/fewshot"
	"github.com/stayops/concierge/internal/intent"
	"github.com/stayops/concierge/internal/llm"
	"github.com/stayops/concierge/internal/mailbox"
	"github.com/stayops/concierge/internal/notify"
	"github.com/stayops/concierge/internal/otaparse"
	"github.com/stayops/concierge/internal/pipeline"
	"github.com/stayops/concierge/internal/replyctx"
	"github.com/stayops/concierge/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(*configPath)
			return
		case "tick":
			runTick(*configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("Concierge - OTA guest-message auto-reply backend")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the poll loop and operator API")
	fmt.Println("  tick     Run one ingestion-and-reply tick and exit")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// app holds everything a running deployment needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	bus    *events.Bus
	hub    *events.Hub
	coord  *pipeline.Coordinator
	server *api.Server
	notify *notify.Publisher
	pool   *pipeline.Pool
}

func buildApp(configPath string) (*app, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String(), "config", path)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.SeedDefaultTemplates(); err != nil {
		st.Close()
		return nil, err
	}

	mbox := mailbox.NewIMAPClient(mailbox.IMAPOptions{
		Host:        cfg.Mailbox.Host,
		Port:        cfg.Mailbox.Port,
		Username:    cfg.Mailbox.Username,
		Password:    cfg.Mailbox.Password,
		From:        cfg.Mailbox.From,
		TLSInsecure: cfg.Mailbox.TLSInsecure,
	}, logger.With("component", "mailbox"))

	var llmClient llm.Client
	if cfg.LLMEnabled() {
		llmClient = llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLMTimeout(),
			logger.With("component", "llm"))
	}

	var retriever *fewshot.Retriever
	if cfg.Embeddings.BaseURL != "" {
		embedder := embeddings.New(embeddings.Config{
			BaseURL:   cfg.Embeddings.BaseURL,
			APIKey:    cfg.Embeddings.APIKey,
			Model:     cfg.Embeddings.Model,
			Dimension: cfg.Embeddings.Dimension,
		})
		retriever = fewshot.NewRetriever(st, embedder, logger.With("component", "fewshot"))
	}

	bus := events.NewBus()
	hub := events.NewHub(logger.With("component", "hub"))
	classifier := intent.NewClassifier(llmClient, logger.With("component", "intent"))
	gate := autosend.NewGate(st, store.Thresholds{
		MinTotal: cfg.AutoSend.MinTotal,
		MinRate:  cfg.AutoSend.MinRate,
	}, logger.With("component", "autosend"))

	replies := autoreply.NewService(autoreply.Config{
		Store:      st,
		Classifier: classifier,
		Builder:    replyctx.NewBuilder(st, logger.With("component", "replyctx")),
		Retriever:  retriever,
		LLM:        llmClient,
		Gate:       gate,
		Bus:        bus,
		Sender:     mbox,
		From:       cfg.Mailbox.From,
		UseLLM:     cfg.LLMEnabled(),
		Logger:     logger.With("component", "autoreply"),
	})

	poller := pipeline.NewPoller(mbox, otaparse.NewParser(logger.With("component", "otaparse")),
		st, classifier, cfg.Mailbox.SenderDomain, logger.With("component", "poller"))
	pool := pipeline.NewPool(cfg.Pipeline.Workers, 64, logger.With("component", "workers"))
	coord := pipeline.NewCoordinator(poller, replies, pool, bus, logger.With("component", "pipeline"))

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, st, replies, gate, hub, coord,
		logger.With("component", "api"))

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		bus:    bus,
		hub:    hub,
		coord:  coord,
		server: server,
		notify: notify.New(cfg.MQTT, logger.With("component", "notify")),
		pool:   pool,
	}, nil
}

func runServe(configPath string) {
	a, err := buildApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WebSocket fan-out.
	hubEvents := a.bus.Subscribe(64)
	go a.hub.Relay(hubEvents)

	// Optional ops mirror.
	if a.notify.Enabled() {
		go func() {
			if err := a.notify.Start(ctx, a.bus); err != nil {
				a.logger.Warn("mqtt notify stopped", "error", err)
			}
		}()
	}

	// Operator API.
	go func() {
		if err := a.server.Start(); err != nil {
			a.logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	// Poll loop; blocks until shutdown.
	a.coord.RunForever(ctx, a.cfg.PollInterval(), a.cfg.Pipeline.BatchSize, a.cfg.Pipeline.SinceDays)

	// Graceful drain: stop new work, finish in-flight items, flush
	// pending broadcasts, then release the clients.
	a.logger.Info("shutting down")
	a.pool.Close()
	a.bus.Unsubscribe(hubEvents)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("api shutdown", "error", err)
	}
}

func runTick(configPath string) {
	a, err := buildApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.store.Close()
	defer a.pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.coord.RunFullTick(ctx, a.cfg.Pipeline.BatchSize, a.cfg.Pipeline.SinceDays, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tick failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("fetched=%d parsed=%d newly_ingested=%d failed=%d\n",
		result.Fetched, result.Parsed, result.NewlyIngested, result.Failed)
}
