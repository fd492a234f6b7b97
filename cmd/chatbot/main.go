package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/chatbot/internal/audit"
	"github.com/ent0n29/chatbot/internal/chat"
	"github.com/ent0n29/chatbot/internal/config"
	"github.com/ent0n29/chatbot/internal/evidence"
	"github.com/ent0n29/chatbot/internal/httpapi"
	"github.com/ent0n29/chatbot/internal/llm"
	"github.com/ent0n29/chatbot/internal/memory"
	"github.com/ent0n29/chatbot/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	auditLog := audit.NewLogger(cfg.AuditLogPath, cfg.AuditLogEnabled)
	if auditLog.Enabled() {
		log.Printf("audit log: %s", auditLog.Path())
	} else {
		log.Printf("audit log: disabled")
	}

	history := memory.NewConnector(cfg.HistoryURL, cfg.StoreProbeTimeout)
	defer history.Close()
	if !history.Configured() {
		log.Printf("conversation memory unavailable: %s", history.Reason())
	}

	retriever := evidence.NewRetriever(cfg.EvidenceURL, cfg.EvidenceProbeTimeout())
	defer retriever.Close()
	if !retriever.Configured() {
		log.Printf("evidence store disabled: DATABASE_URL is not set")
	}

	model := llm.NewClient(cfg.ModelBaseURL, cfg.ModelID, cfg.ModelTimeout, llm.WithObserver(metrics))
	log.Printf("chat mode: %s (model %s at %s)", cfg.Mode, model.Model(), cfg.ModelBaseURL)

	orchestrator := chat.NewOrchestrator(cfg, history, retriever, model, auditLog, metrics)

	api := httpapi.New(cfg, orchestrator, httpapi.Dependencies{
		History:  history,
		Evidence: retriever,
	}, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
