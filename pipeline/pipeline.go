// Package pipeline runs every watched topic through fetch, extraction, reconciliation and
// notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-watch-listings/config"
	"github.com/aluiziolira/go-watch-listings/models"
	"github.com/aluiziolira/go-watch-listings/notifier"
	"github.com/aluiziolira/go-watch-listings/parser"
)

// ErrNoTopics is returned by Run when there is nothing to watch.
var ErrNoTopics = errors.New("pipeline: no topics configured")

// Fetcher retrieves page markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns markup into items.
type Extractor interface {
	ExtractResult(markup string) (parser.Result, error)
}

// Reconciler diffs the ids of a run against stored state and returns the new ones.
type Reconciler interface {
	Reconcile(topic string, ids []string) ([]string, error)
}

// Notifier delivers a message to a destination.
type Notifier interface {
	Send(ctx context.Context, text, destination string) error
}

// Dependencies are the collaborators of a Pipeline. Debug and Metrics are optional.
type Dependencies struct {
	Fetcher   Fetcher
	Extractor Extractor
	Store     Reconciler
	Notifier  Notifier
	Debug     *DebugWriter
	Metrics   *Metrics
}

// Pipeline processes topics concurrently. Each topic runs its steps in order and a
// failing topic never affects the others.
type Pipeline struct {
	cfg       *config.Config
	fetcher   Fetcher
	extractor Extractor
	store     Reconciler
	notifier  Notifier
	debug     *DebugWriter
	metrics   *Metrics
}

// NewPipeline validates deps and builds a pipeline.
func NewPipeline(cfg *config.Config, deps Dependencies) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notifier is required")
	}
	return &Pipeline{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		store:     deps.Store,
		notifier:  deps.Notifier,
		debug:     deps.Debug,
		metrics:   deps.Metrics,
	}, nil
}

// Metrics returns the pipeline counters, or nil when none were configured.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Run processes every enabled topic and waits for all of them. Per-topic failures are
// reported in the results, never as the returned error.
func (p *Pipeline) Run(ctx context.Context, topics []config.Topic) ([]models.TopicResult, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}

	enabled := make([]config.Topic, 0, len(topics))
	for _, t := range topics {
		if !t.Enabled() {
			slog.Info("topic disabled, skipping", slog.String("topic", t.Name))
			continue
		}
		enabled = append(enabled, t)
	}

	results := make([]models.TopicResult, len(enabled))
	var wg sync.WaitGroup
	for i, t := range enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.runTopic(ctx, t)
		}()
	}
	wg.Wait()

	return results, nil
}

func (p *Pipeline) runTopic(ctx context.Context, t config.Topic) (res models.TopicResult) {
	logger := slog.With(slog.String("topic", t.Name))
	destination := p.cfg.Destination(t)
	res = models.TopicResult{Topic: t.Name, StartTime: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("topic %q panicked: %v", t.Name, r)
			p.fail(ctx, logger, &res, destination)
		}
	}()

	outcome, err := p.process(ctx, logger, t, destination, &res)
	if err != nil {
		res.Err = err
		p.fail(ctx, logger, &res, destination)
		return res
	}

	res.EndTime = time.Now()
	p.metrics.observeRun(outcome, res.Duration())
	logger.Info("topic processed",
		slog.String("strategy", res.Strategy),
		slog.Int("extracted", res.Extracted),
		slog.Int("new", res.New),
		slog.Duration("duration", res.Duration()),
	)
	return res
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, t config.Topic, destination string, res *models.TopicResult) (string, error) {
	body, fetchErr := p.fetcher.Fetch(ctx, t.URL)
	if fetchErr != nil {
		logger.Error("fetch failed", slog.String("url", t.URL), slog.Any("error", fetchErr))
		body = ""
	}

	if p.debug != nil {
		if err := p.debug.Write(t.Name, body); err != nil {
			logger.Warn("debug dump failed", slog.Any("error", err))
		}
	}

	extracted, err := p.extractor.ExtractResult(body)
	if err != nil {
		if fetchErr != nil && errors.Is(err, parser.ErrEmptyResponse) {
			err = &parser.ExtractionError{Reason: parser.ReasonEmptyResponse, Err: fetchErr}
		}
		return "", err
	}
	res.Strategy = extracted.Strategy
	res.Extracted = len(extracted.Items)

	ids := make([]string, 0, len(extracted.Items))
	for _, item := range extracted.Items {
		ids = append(ids, item.ID)
	}
	newIDs, err := p.store.Reconcile(t.Name, ids)
	if err != nil {
		return "", err
	}
	fresh := selectItems(extracted.Items, newIDs)
	res.New = len(fresh)
	p.metrics.observeItems(extracted.Strategy, res.Extracted, res.New)

	var (
		messages []string
		outcome  string
	)
	switch {
	case len(extracted.Items) == 0:
		messages, outcome = []string{NoItemsMessage(t.Name)}, OutcomeEmpty
	case len(fresh) == 0:
		messages, outcome = []string{NoNewItemsMessage(t.Name)}, OutcomeUnchanged
	default:
		messages, outcome = NewItemsMessages(t.Name, fresh, notifier.MaxMessageLength), OutcomeChanged
	}

	for i, msg := range messages {
		if i > 0 {
			if err := sleep(ctx, p.cfg.MessageDelay); err != nil {
				return "", err
			}
		}
		err := p.notifier.Send(ctx, msg, destination)
		p.metrics.observeNotification(err)
		if err != nil {
			return "", err
		}
		res.Notified++
	}
	return outcome, nil
}

// fail records a failed run and sends a best-effort failure notice.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, res *models.TopicResult, destination string) {
	res.EndTime = time.Now()
	p.metrics.observeRun(OutcomeFailed, res.Duration())
	logger.Error("topic run failed", slog.Any("error", res.Err))

	err := p.notifier.Send(ctx, FailureMessage(res.Topic, res.Err), destination)
	p.metrics.observeNotification(err)
	if err != nil {
		logger.Error("failure notice not delivered", slog.Any("error", err))
	}
}

// selectItems returns the items whose ids are in ids, in the order of ids.
func selectItems(items []models.Item, ids []string) []models.Item {
	byID := make(map[string]models.Item, len(items))
	for _, item := range items {
		if _, ok := byID[item.ID]; !ok {
			byID[item.ID] = item
		}
	}
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
