package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/streadway/amqp"

	"github.com/dcayres/campaign-dispatch/internal/config"
	"github.com/dcayres/campaign-dispatch/internal/db"
	"github.com/dcayres/campaign-dispatch/internal/gateway"
	"github.com/dcayres/campaign-dispatch/internal/model"
	"github.com/dcayres/campaign-dispatch/internal/provider"
	"github.com/dcayres/campaign-dispatch/internal/queue"
	"github.com/dcayres/campaign-dispatch/internal/repository"
	"github.com/dcayres/campaign-dispatch/internal/scheduler"
	"github.com/dcayres/campaign-dispatch/internal/service"
)

const maxDeliveryRetries = 3

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on OS environment variables")
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	cfg := config.Load()
	if cfg.AMQPURL == "" {
		slog.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

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

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		slog.Error("failed to connect to broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open channel", slog.Any("error", err))
		os.Exit(1)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		slog.Error("failed to set prefetch", slog.Any("error", err))
		os.Exit(1)
	}

	q, err := ch.QueueDeclare(queue.TopicDispatch, true, false, false, false, nil)
	if err != nil {
		slog.Error("failed to declare queue", slog.Any("error", err))
		os.Exit(1)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		slog.Error("failed to start consumer", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Start(ctx)

	slog.Info("worker running", slog.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker shutting down")
			return
		case delivery, ok := <-deliveries:
			if !ok {
				slog.Error("broker channel closed")
				return
			}
			handleDelivery(ctx, ch, q.Name, delivery, dispatchService)
		}
	}
}

// handleDelivery processes one job and acks it regardless of outcome. A
// transient failure is republished with an incremented retry header, so
// the queue never sees the same delivery spin forever.
func handleDelivery(ctx context.Context, ch *amqp.Channel, queueName string, delivery amqp.Delivery, svc *service.DispatchService) {
	var job queue.DispatchJob
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		slog.Error("dropping malformed job", slog.Any("error", err))
		delivery.Ack(false)
		return
	}

	err := svc.ProcessDispatch(ctx, job.AgendamentoID)
	if err == nil {
		delivery.Ack(false)
		return
	}

	retries := retryCount(delivery)
	slog.Warn("dispatch job failed",
		slog.String("agendamento_id", job.AgendamentoID),
		slog.Int("retries", retries),
		slog.Any("error", err),
	)

	if retries >= maxDeliveryRetries {
		slog.Error("dispatch job permanently failed",
			slog.String("agendamento_id", job.AgendamentoID),
			slog.Int("retries", retries),
		)
		delivery.Ack(false)
		return
	}

	publishErr := ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         delivery.Body,
		Headers:      amqp.Table{"x-retry-count": int32(retries + 1)},
	})
	if publishErr != nil {
		slog.Error("failed to requeue job, returning to broker",
			slog.String("agendamento_id", job.AgendamentoID),
			slog.Any("error", publishErr),
		)
		delivery.Nack(false, true)
		return
	}
	delivery.Ack(false)
}

func retryCount(delivery amqp.Delivery) int {
	switch v := delivery.Headers["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
