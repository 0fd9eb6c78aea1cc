package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"asanahooks/internal"
	"asanahooks/pkg/activity"
	"asanahooks/pkg/asana"
	"asanahooks/pkg/auth"
	"asanahooks/pkg/oauth"
	"asanahooks/pkg/storage/accounts"
	worker "asanahooks/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	driver := flag.String("driver", "", "Override subscriber driver (amqp|nats|kafka|sql|gochannel)")
	flag.Parse()

	log.SetPrefix("asanahooks/worker-example ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appCfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	subCfg, err := worker.LoadSubscriberConfig(*configPath)
	if err != nil {
		log.Fatalf("load subscriber config: %v", err)
	}
	if *driver != "" {
		subCfg.Driver = *driver
		subCfg.Drivers = nil
	}
	topics, err := worker.LoadTopicsFromConfig(*configPath)
	if err != nil {
		log.Fatalf("load topics: %v", err)
	}

	accountStore, err := accounts.Open(appCfg.Storage)
	if err != nil {
		log.Fatalf("accounts store: %v", err)
	}
	defer accountStore.Close()

	sub, err := worker.BuildSubscriber(subCfg)
	if err != nil {
		log.Fatalf("subscriber: %v", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Printf("subscriber close: %v", err)
		}
	}()

	clients := &worker.CredentialClientProvider{
		API: asana.NewClient(appCfg.Asana.BaseURL, appCfg.Asana.RequestTimeout()),
		Credentials: &auth.Manager{
			Accounts:  accountStore,
			Refresher: &oauth.Refresher{Config: appCfg.Asana},
		},
		PersonalToken: appCfg.Asana.Token,
	}

	wk := worker.New(
		worker.WithSubscriber(sub),
		worker.WithTopics(topics...),
		worker.WithConcurrency(5),
		worker.WithRetry(worker.DropOnError{}),
		worker.WithClientProvider(clients),
		worker.WithListener(worker.Listener{
			OnStart: func(ctx context.Context) { log.Printf("worker started topics=%v", topics) },
			OnExit:  func(ctx context.Context) { log.Println("worker stopped") },
			OnError: func(ctx context.Context, evt *worker.Event, err error) {
				log.Printf("worker error: %v", err)
			},
			OnMessageFinish: func(ctx context.Context, evt *worker.Event, err error) {
				log.Printf("finished id=%s action_type=%s err=%v", evt.Activity.ID, evt.ActionType, err)
			},
		}),
	)

	wk.HandleAction(activity.TaskMoved, func(ctx context.Context, evt *worker.Event) error {
		view := evt.Activity
		log.Printf("%s moved %s from %s to %s", view.ActorName, deref(view.TaskName), deref(view.Details.FromSection), deref(view.Details.ToSection))
		return nil
	})

	wk.HandleAction(activity.CommentAdded, func(ctx context.Context, evt *worker.Event) error {
		view := evt.Activity
		if view.TaskID == nil || evt.Client == nil {
			log.Printf("%s commented: %s", view.ActorName, deref(view.CommentText))
			return nil
		}
		task, err := evt.Client.Task(ctx, *view.TaskID)
		if err != nil {
			return err
		}
		log.Printf("%s commented on %s: %s", view.ActorName, task.Name, deref(view.CommentText))
		return nil
	})

	if err := wk.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func deref(value *string) string {
	if value == nil {
		return "-"
	}
	return *value
}
