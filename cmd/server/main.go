package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/dcayres/campaign-dispatch/internal/config"
	"github.com/dcayres/campaign-dispatch/internal/controller"
	"github.com/dcayres/campaign-dispatch/internal/db"
	"github.com/dcayres/campaign-dispatch/internal/gateway"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/provider"
	"github.com/dcayres/campaign-dispatch/internal/queue"
	"github.com/dcayres/campaign-dispatch/internal/repository"
	"github.com/dcayres/campaign-dispatch/internal/scheduler"
	"github.com/dcayres/campaign-dispatch/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on OS environment variables")
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	cfg := config.Load()

	dbConn, err := db.Connect(cfg.DSN())
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbConn.Close()

	campaignRepo := &repository.CampaignRepository{DB: dbConn}
	messageRepo := &repository.MessageRepository{DB: dbConn}
	taskRepo := &repository.DelayedTaskRepository{DB: dbConn}

	rcs := provider.NewRCS()
	gosac := provider.NewGOSAC()
	salesforce := provider.NewSalesforce()
	registry := provider.NewRegistry(provider.NewCDA(), provider.NewNOAH(), rcs, gosac, salesforce)

	sched := scheduler.New(taskRepo, cfg.SchedulerPollInterval)

	dispatchService := &service.DispatchService{
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		Gateway:      gateway.New(cfg.GatewayBaseURL, cfg.MasterAPIKey),
		Registry:     registry,
		Scheduler:    sched,
		Prefixes:     cfg.ProviderPrefixes,
		RCS:          rcs,
		GOSAC:        gosac,
		Salesforce:   salesforce,
	}

	for _, kind := range []string{model.TaskKindRCSDispatch, model.TaskKindGosacStart, model.TaskKindSalesforceAutomation} {
		sched.Register(kind, dispatchService.HandleDeferred)
	}

	// With a broker configured the worker binary consumes jobs and runs the
	// scheduler; without one everything runs in-process.
	if cfg.AMQPURL != "" {
		publisher, err := queue.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			slog.Error("failed to connect to broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer publisher.Close()
		dispatchService.Queue = publisher
	} else {
		q := queue.NewInMemoryQueue()
		q.Subscribe(queue.TopicDispatch, func(job queue.DispatchJob) error {
			return dispatchService.ProcessDispatch(context.Background(), job.AgendamentoID)
		})
		dispatchService.Queue = q
		go sched.Start(context.Background())
	}

	dispatchController := &controller.DispatchController{
		Service: dispatchService,
		APIKey:  cfg.MasterAPIKey,
	}

	r := chi.NewRouter()
	r.Get("/healthz", dispatchController.Health)
	r.Group(func(r chi.Router) {
		r.Use(dispatchController.RequireAPIKey)
		r.Post("/disparos/{agendamentoId}", dispatchController.Dispatch)
		r.Get("/campanhas/{campaignId}/status", dispatchController.Status)
	})

	slog.Info("server running", slog.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
