package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"asanahooks/internal"
	"asanahooks/pkg/api"
	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
	"asanahooks/pkg/enrich"
	"asanahooks/pkg/oauth"
	"asanahooks/pkg/storage"
	"asanahooks/pkg/storage/accounts"
	"asanahooks/pkg/storage/events"
	"asanahooks/pkg/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	db, err := storage.Open(config.Storage)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer func() {
		if err := storage.Close(db); err != nil {
			logger.Printf("storage close: %v", err)
		}
	}()
	accountStore, err := accounts.New(db, config.Storage.AccountsTable, config.Storage.AutoMigrate)
	if err != nil {
		logger.Fatalf("accounts store: %v", err)
	}
	eventStore, err := events.New(db, config.Storage.EventsTable, config.Storage.AutoMigrate)
	if err != nil {
		logger.Fatalf("events store: %v", err)
	}

	client := asana.NewClient(config.Asana.BaseURL, config.Asana.RequestTimeout())
	credentials := &auth.Manager{
		Accounts:  accountStore,
		Refresher: &oauth.Refresher{Config: config.Asana},
		Logger:    internal.NewLogger("auth"),
	}
	enrichLogger := internal.NewLogger("enrich")
	pipeline := &enrich.Pipeline{
		Resolver: &enrich.Resolver{
			API:           client,
			Credentials:   credentials,
			PersonalToken: config.Asana.Token,
			Logger:        enrichLogger,
		},
		Logger: enrichLogger,
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	mux := http.NewServeMux()

	asanaHandler, err := webhook.NewAsanaHandler(
		pipeline,
		credentials,
		eventStore,
		ruleEngine,
		publisher,
		internal.NewLogger("webhook"),
		config.Server.MaxBodyBytes,
		config.Server.DebugEvents,
	)
	if err != nil {
		logger.Fatalf("asana handler: %v", err)
	}
	mux.Handle(config.Asana.WebhookPath, internal.NewRateLimitHandler(
		asanaHandler,
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
		time.Duration(config.Server.RateLimitTTLMS)*time.Millisecond,
	))
	logger.Printf("asana webhook enabled on %s", config.Asana.WebhookPath)

	apiLogger := internal.NewLogger("api")
	mux.Handle(config.API.EventsPath, &api.EventsHandler{
		Store:        eventStore,
		DefaultLimit: config.API.DefaultLimit,
		MaxLimit:     config.API.MaxLimit,
		Logger:       apiLogger,
	})
	mux.Handle(config.API.WebhooksPath, &api.WebhookRegistrationHandler{
		Credentials:   credentials,
		API:           client,
		PublicBaseURL: config.Server.PublicBaseURL,
		WebhookPath:   config.Asana.WebhookPath,
		Logger:        apiLogger,
	})

	oauthLogger := internal.NewLogger("oauth")
	mux.Handle("/oauth/asana/start", &oauth.StartHandler{
		Config:        config.Asana,
		PublicBaseURL: config.Server.PublicBaseURL,
		Logger:        oauthLogger,
	})
	mux.Handle("/oauth/asana/callback", &oauth.Handler{
		Config:        config.Asana,
		Accounts:      accountStore,
		API:           client,
		Logger:        oauthLogger,
		RedirectBase:  config.Asana.RedirectBase,
		PublicBaseURL: config.Server.PublicBaseURL,
	})

	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		mux.Handle(config.Server.PrometheusPath, internal.PrometheusHandler())
		logger.Printf("metrics enabled on %s and %s", config.Server.MetricsPath, config.Server.PrometheusPath)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
