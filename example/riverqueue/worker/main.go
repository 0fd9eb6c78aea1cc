package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asanahooks/internal"
	"asanahooks/pkg/activity"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// ActivityWorker logs every activity job enqueued by the relay. Jobs inserted
// with a custom kind need a matching args type.
type ActivityWorker struct {
	river.WorkerDefaults[internal.ActivityJobArgs]
}

func (w *ActivityWorker) Work(ctx context.Context, job *river.Job[internal.ActivityJobArgs]) error {
	var view activity.EventView
	if err := json.Unmarshal(job.Args.Event, &view); err != nil {
		return err
	}
	log.Printf("job=%d queue=%s topic=%s id=%s action_type=%s actor=%s", job.ID, job.Queue, job.Args.Topic, view.ID, view.ActionType, view.ActorName)
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	maxWorkers := flag.Int("max-workers", 5, "Max workers for the queue")
	flag.Parse()

	log.SetPrefix("asanahooks/riverqueue-worker ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	riverCfg := cfg.Watermill.RiverQueue
	if riverCfg.DSN == "" {
		log.Fatalf("watermill.riverqueue.dsn is required")
	}
	queue := riverCfg.Queue
	if queue == "" {
		queue = river.QueueDefault
	}

	dbPool, err := pgxpool.New(ctx, riverCfg.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbPool.Close()

	workers := river.NewWorkers()
	river.AddWorker(workers, &ActivityWorker{})

	client, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		Queues: map[string]river.QueueConfig{
			queue: {MaxWorkers: *maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		log.Fatalf("river client: %v", err)
	}

	if err := client.Start(ctx); err != nil {
		log.Fatalf("river start: %v", err)
	}

	<-ctx.Done()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := client.Stop(stopCtx); err != nil {
		log.Printf("river stop: %v", err)
	}
}
