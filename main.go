package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"zapblast/config"
	"zapblast/internal/adapters/meta"
	"zapblast/internal/db"
	"zapblast/internal/events"
	"zapblast/internal/handlers"
	"zapblast/internal/media"
	"zapblast/internal/repository"
	"zapblast/internal/services"
	"zapblast/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	conn, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open database")
	}
	defer conn.Close()

	if err := db.InitSchema(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database schema")
	}

	tenants := repository.NewTenantRepo(conn)
	channels := repository.NewChannelRepo(conn)
	contacts := repository.NewContactRepo(conn)
	campaigns := repository.NewCampaignRepo(conn)
	recipients := repository.NewRecipientRepo(conn)
	conversations := repository.NewConversationRepo(conn)
	messages := repository.NewMessageRepo(conn)
	eventLog := repository.NewWebhookEventRepo(conn)

	store, err := media.NewStore(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize media store")
	}

	rabbit := events.NewRabbitPublisher(cfg.RabbitMQ)
	fanout := events.NewFanout(tenants, rabbit)

	clients := meta.NewClientManager(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	resolver := services.NewResolver(contacts)
	preflight := services.NewPreflight(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	starter := services.NewStarter(campaigns, channels, recipients, resolver, preflight)
	dispatcher := services.NewDispatcher(campaigns, recipients, channels, clients, fanout,
		cfg.Scheduler.BatchSize, cfg.Scheduler.ClaimLease)
	scheduler := services.NewScheduler(cfg.Scheduler.Interval, campaigns, dispatcher)
	starter.SetKick(scheduler.Kick)
	tracker := services.NewTracker(recipients, campaigns, messages, conversations, contacts, channels, eventLog, fanout)
	messenger := services.NewMessenger(conversations, messages, contacts, channels, clients, fanout)

	// Settle whatever the last shutdown left behind before accepting new
	// traffic: unmatched webhook events first, then the dispatch loop.
	if processed, skipped := tracker.ReprocessPending(context.Background(), 500); processed > 0 || skipped > 0 {
		log.Info().Int("processed", processed).Int("skipped", skipped).Msg("Replayed pending webhook events from previous run")
	}
	scheduler.Start()

	srv := handlers.NewServer(cfg, handlers.Deps{
		Tenants:       tenants,
		Channels:      channels,
		Campaigns:     campaigns,
		Recipients:    recipients,
		Conversations: conversations,
		Messages:      messages,
		Contacts:      contacts,
		EventLog:      eventLog,
		Starter:       starter,
		Dispatcher:    dispatcher,
		Scheduler:     scheduler,
		Tracker:       tracker,
		Messenger:     messenger,
		Preflight:     preflight,
		Store:         store,
		Fanout:        fanout,
	})

	httpServer := &http.Server{
		Addr:         cfg.Address,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Address).Msg("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")

	// Stop feeding new batches first so in-flight sends can finish inside
	// the shutdown window.
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	fanout.Close()
	rabbit.Close()

	log.Info().Msg("Shutdown complete")
}
