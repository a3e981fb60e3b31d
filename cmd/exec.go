package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"showtix/config"
	"showtix/handlers"
	"showtix/internal/payment"
	"showtix/machines"
	"showtix/monitoring"
	"showtix/queue"
	"showtix/security"
	"showtix/services"
	"showtix/store"
	"showtix/utils"

	_ "showtix/migrations"
)

// Start wires the whole system: PocketBase for auth and persistence, Redis
// for the job queues, the payment processor client, the four queue workers
// and the webhook server, then runs until the app stops.
func Start() error {
	app := pocketbase.New()
	cfg := config.LoadConfig()

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Realtime client updates are optional: with no PubNub keys the
	// notifier publishes to nobody and everything else still works.
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}
	notifier := services.NewNotifier(pn)

	st := store.NewPBStore(app)
	q := queue.NewQueue(redisClient)

	processor := payment.NewClient(&payment.ClientConfig{
		BaseURL:         cfg.PaymentAPIURL,
		AuthToken:       cfg.PaymentAuthToken,
		StoreID:         cfg.PaymentStoreID,
		NotificationURL: cfg.PayoutNotificationURL,
	})

	ticketService := services.NewTicketService(st, q, notifier, cfg)
	showService := services.NewShowService(st, q, cfg)
	walletService := services.NewWalletService(st, q, cfg)

	showWorker := services.NewShowWorker(st, q, notifier, cfg)
	ticketWorker := services.NewTicketWorker(st, ticketService, q, cfg)
	payoutWorker := services.NewPayoutWorker(st, q, processor, cfg)
	invoiceWorker := services.NewInvoiceWorker(st, q, processor, cfg)

	workerOptions := queue.WorkerOptions{
		Concurrency:     cfg.WorkerConcurrency,
		PromoteInterval: cfg.PromoteInterval,
	}
	workers := []*queue.Worker{
		queue.NewWorker(q, machines.QueueShow, showWorker.Handle, workerOptions),
		queue.NewWorker(q, machines.QueueTicket, ticketWorker.Handle, workerOptions),
		queue.NewWorker(q, machines.QueuePayout, payoutWorker.Handle, workerOptions),
		queue.NewWorker(q, machines.QueueInvoice, invoiceWorker.Handle, workerOptions),
	}

	resumer := services.NewResumer(st, q, showWorker, cfg)

	monitor := monitoring.NewMonitor(redisClient, []string{
		machines.QueueShow,
		machines.QueueTicket,
		machines.QueuePayout,
		machines.QueueInvoice,
	})

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())

	webhookHandler := handlers.NewWebhookHandler(st, q, cfg)
	limiter := security.NewRateLimiter(redisClient, 0, 0)
	webhookServer := &http.Server{
		Addr:    ":" + cfg.WebhookPort,
		Handler: webhookHandler.Server(limiter),
	}

	var metricsServer *http.Server
	if cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
	}

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		handlers.RegisterRoutes(se,
			handlers.NewTicketHandler(ticketService),
			handlers.NewShowHandler(showService),
			handlers.NewWalletHandler(walletService),
			handlers.NewAdminHandler(ticketService, q),
		)

		for _, w := range workers {
			w.Start(workerCtx)
		}

		// Re-arm the timers that were pending when the previous process
		// died. Runs after the workers so promoted jobs drain immediately.
		if err := resumer.Resume(workerCtx); err != nil {
			slog.Error("resume failed", "error", err)
		}

		if cfg.PubNubSubscribeKey != "" && cfg.PayoutChannel != "" {
			startPayoutListener(workerCtx, q, cfg)
		}

		go func() {
			if err := webhookServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("webhook server stopped", "error", err)
			}
		}()

		if metricsServer != nil {
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server stopped", "error", err)
				}
			}()
		}

		return se.Next()
	})

	app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
		stopWorkers()
		for _, w := range workers {
			w.Stop()
		}
		monitor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webhook server shutdown", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown", "error", err)
			}
		}
		return te.Next()
	})

	return app.Start()
}

// startPayoutListener bridges the processor's push channel into the payout
// queue, so pushed updates take the same idempotent path as webhooks.
func startPayoutListener(ctx context.Context, q queue.Enqueuer, cfg *config.Config) {
	listener := payment.NewListener(&payment.ListenerConfig{
		SubscribeKey: cfg.PubNubSubscribeKey,
		CipherKey:    cfg.PubNubCipherKey,
		UUID:         "showtix-" + cfg.PaymentStoreID,
		Channel:      cfg.PayoutChannel,
	})
	listener.Start(ctx)

	go func() {
		for update := range listener.Updates() {
			err := q.Enqueue(ctx, &queue.Job{
				Queue: machines.QueuePayout,
				Type:  services.JobPayoutUpdate,
				Payload: map[string]any{
					"payout_id": update.PayoutID,
					"status":    update.Status,
					"tx_hash":   update.TxHash,
				},
				MaxAttempts: cfg.MaxJobAttempts,
			}, 0)
			if err != nil {
				slog.Error("enqueue pushed payout update", "payout_id", update.PayoutID, "error", err)
			}
		}
	}()
}
