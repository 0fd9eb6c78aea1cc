package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"asanahooks/pkg/activity"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Worker subscribes to activity topics, decodes messages and dispatches them
// to handlers by topic or by action type.
type Worker struct {
	subscriber  message.Subscriber
	codec       Codec
	retry       RetryPolicy
	logger      Logger
	concurrency int
	topics      []string

	topicHandlers  map[string]Handler
	actionHandlers map[activity.ActionType]Handler
	middleware     []Middleware
	clientProvider ClientProvider
	listeners      []Listener
	allowedTopics  map[string]struct{}
}

// New creates a new Worker with the given options.
func New(opts ...Option) *Worker {
	w := &Worker{
		codec:          DefaultCodec{},
		retry:          NoRetry{},
		logger:         stdLogger{},
		concurrency:    1,
		topicHandlers:  make(map[string]Handler),
		actionHandlers: make(map[activity.ActionType]Handler),
		allowedTopics:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleTopic registers a handler for a specific topic.
func (w *Worker) HandleTopic(topic string, h Handler) {
	if h == nil || topic == "" {
		return
	}
	if len(w.allowedTopics) > 0 {
		if _, ok := w.allowedTopics[topic]; !ok {
			w.logger.Printf("handler topic not subscribed: %s", topic)
			return
		}
	}
	w.topicHandlers[topic] = h
	w.topics = append(w.topics, topic)
}

// HandleAction registers a handler for an action type. Topic handlers take
// precedence.
func (w *Worker) HandleAction(actionType activity.ActionType, h Handler) {
	if h == nil || actionType == "" {
		return
	}
	w.actionHandlers[actionType] = h
}

// Run subscribes to every registered topic and processes messages with at
// most the configured concurrency. It blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return errors.New("at least one topic is required")
	}

	w.notifyStart(ctx)
	defer w.notifyExit(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, topic := range unique(w.topics) {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			wg.Wait()
			err = fmt.Errorf("subscribe %s: %w", topic, err)
			w.notifyError(ctx, nil, err)
			return err
		}
		wg.Add(1)
		go w.consume(ctx, topic, msgs, sem, &wg)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consume(ctx context.Context, topic string, msgs <-chan *message.Message, sem chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				msg.Nack()
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.handleMessage(ctx, topic, msg)
			}()
		}
	}
}

// Close gracefully shuts down the worker and its subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

func (w *Worker) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	evt, err := w.codec.Decode(topic, msg)
	if err != nil {
		w.logger.Printf("decode failed topic=%s: %v", topic, err)
		w.settle(ctx, msg, nil, err)
		return
	}

	if w.clientProvider != nil {
		client, err := w.clientProvider.Client(ctx, evt)
		if err != nil {
			w.logger.Printf("client init failed account_id=%s: %v", evt.AccountID, err)
			w.settle(ctx, msg, evt, err)
			return
		}
		evt.Client = client
	}

	if evt.RequestID != "" {
		w.logger.Printf("request_id=%s topic=%s id=%s action_type=%s", evt.RequestID, evt.Topic, evt.Activity.ID, evt.ActionType)
	}

	w.notifyMessageStart(ctx, evt)
	handler := w.topicHandlers[topic]
	if handler == nil {
		handler = w.actionHandlers[evt.ActionType]
	}
	if handler == nil {
		w.logger.Printf("no handler for topic=%s action_type=%s", topic, evt.ActionType)
		w.notifyMessageFinish(ctx, evt, nil)
		msg.Ack()
		return
	}

	err = w.wrap(handler)(ctx, evt)
	w.notifyMessageFinish(ctx, evt, err)
	if err != nil {
		w.settle(ctx, msg, evt, err)
		return
	}
	msg.Ack()
}

// settle reports err and acks or nacks msg as the retry policy decides.
func (w *Worker) settle(ctx context.Context, msg *message.Message, evt *Event, err error) {
	w.notifyError(ctx, evt, err)
	decision := w.retry.OnError(ctx, evt, err)
	if decision.Retry || decision.Nack {
		msg.Nack()
		return
	}
	msg.Ack()
}

func (w *Worker) wrap(h Handler) Handler {
	wrapped := h
	for i := len(w.middleware) - 1; i >= 0; i-- {
		wrapped = w.middleware[i](wrapped)
	}
	return wrapped
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func (w *Worker) notifyStart(ctx context.Context) {
	for _, l := range w.listeners {
		if l.OnStart != nil {
			l.OnStart(ctx)
		}
	}
}

func (w *Worker) notifyExit(ctx context.Context) {
	for _, l := range w.listeners {
		if l.OnExit != nil {
			l.OnExit(ctx)
		}
	}
}

func (w *Worker) notifyMessageStart(ctx context.Context, evt *Event) {
	for _, l := range w.listeners {
		if l.OnMessageStart != nil {
			l.OnMessageStart(ctx, evt)
		}
	}
}

func (w *Worker) notifyMessageFinish(ctx context.Context, evt *Event, err error) {
	for _, l := range w.listeners {
		if l.OnMessageFinish != nil {
			l.OnMessageFinish(ctx, evt, err)
		}
	}
}

func (w *Worker) notifyError(ctx context.Context, evt *Event, err error) {
	for _, l := range w.listeners {
		if l.OnError != nil {
			l.OnError(ctx, evt, err)
		}
	}
}
