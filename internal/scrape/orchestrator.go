package scrape

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/metrics"
	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/screenscraper"
)

// gamelistMu serializes every gamelist read-merge-write of the process.
var gamelistMu sync.Mutex

// Account exposes the request allowance of the service account.
type Account interface {
	UserInfo(ctx context.Context) (*screenscraper.UserInfo, error)
}

type Options struct {
	// MaxWorkers caps the account allowance; 0 means no cap.
	MaxWorkers      int
	PublishInterval time.Duration
	Publisher       Publisher
	Metrics         *metrics.ScrapeMetrics
	Now             func() time.Time
}

// Summary counts what a run did.
type Summary struct {
	Queued   int
	Workers  int
	Reset    int64
	Success  int
	NotFound int
	Failed   int
	Stopped  bool
}

// Orchestrator drives queued catalog entries through resolution, media
// download and gamelist merge with a bounded worker pool.
type Orchestrator struct {
	store    Store
	account  Account
	resolver *Resolver
	media    *MediaFetcher
	opts     Options
}

func NewOrchestrator(store Store, account Account, resolver *Resolver, media *MediaFetcher, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:    store,
		account:  account,
		resolver: resolver,
		media:    media,
		opts:     opts,
	}
}

// runState is shared by the workers of one run.
type runState struct {
	queue      *Queue
	dequeueMu  sync.Mutex
	gamelistMu *sync.Mutex
	progress   *aggregator

	summaryMu sync.Mutex
	summary   Summary
}

func (s *runState) count(status model.ScrapeStatus) {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	switch status {
	case model.StatusSuccess:
		s.summary.Success++
	case model.StatusNotFound:
		s.summary.NotFound++
	default:
		s.summary.Failed++
	}
}

// Run scrapes every included entry that is not Success yet. It returns when
// the queue is drained or ctx is cancelled and all workers have stopped.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	logger := logutil.GetLogger(ctx)

	reset, err := o.store.ResetUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset unfinished entries: %w", err)
	}
	pending, err := o.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	ids := make([]string, 0, len(pending))
	for _, e := range pending {
		ids = append(ids, e.ID)
	}

	workers := o.workerCount(ctx, len(ids))
	state := &runState{
		queue:      NewQueue(ids),
		gamelistMu: &gamelistMu,
		progress:   newAggregator(o.opts.Publisher, o.opts.PublishInterval, len(ids), workers),
		summary:    Summary{Queued: len(ids), Workers: workers, Reset: reset},
	}
	logger.Info("scrape run started",
		zap.Int("queued", len(ids)),
		zap.Int("workers", workers),
		zap.Int64("reset", reset),
	)

	go state.progress.run()
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			o.worker(ctx, state, workerID)
		}(i)
	}
	wg.Wait()
	state.progress.close()

	summary := state.summary
	summary.Stopped = ctx.Err() != nil
	logger.Info("scrape run finished",
		zap.Int("success", summary.Success),
		zap.Int("not_found", summary.NotFound),
		zap.Int("failed", summary.Failed),
		zap.Bool("stopped", summary.Stopped),
	)
	return &summary, nil
}

func (o *Orchestrator) workerCount(ctx context.Context, queued int) int {
	threads := 1
	if o.account != nil {
		info, err := o.account.UserInfo(ctx)
		if err != nil {
			logutil.GetLogger(ctx).Warn("read account allowance failed, using one worker", zap.Error(err))
		} else {
			threads = info.Threads()
			logutil.GetLogger(ctx).Info("account allowance",
				zap.Int("max_threads", info.MaxThreads),
				zap.Int("requests_today", info.RequestsToday),
				zap.Int("max_requests_per_day", info.MaxRequestsPerDay),
			)
		}
	}
	if o.opts.MaxWorkers > 0 && threads > o.opts.MaxWorkers {
		threads = o.opts.MaxWorkers
	}
	if queued > 0 && threads > queued {
		threads = queued
	}
	if threads < 1 {
		threads = 1
	}
	return threads
}

func (o *Orchestrator) worker(ctx context.Context, state *runState, workerID int) {
	o.opts.Metrics.WorkerStarted()
	defer o.opts.Metrics.WorkerStopped()
	defer state.progress.send(model.WorkerStatus{WorkerID: workerID, Status: "Stopped"})

	logger := logutil.GetLogger(ctx).With(zap.Int("worker", workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		status := model.WorkerStatus{WorkerID: workerID, Active: true, Status: "Fetching next game..."}
		state.progress.send(status)

		id, entry, platform, err := o.claim(ctx, state)
		if id == "" {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim entry failed", zap.String("id", id), zap.Error(err))
			o.markFailed(ctx, id, err.Error())
			state.count(model.StatusError)
			state.progress.entryFinished(status.Reset(model.StatusError.String()))
			continue
		}
		status.CurrentEntry = entry.Label(platform.Name)

		start := time.Now()
		result, err := o.process(ctx, state, entry, platform, status)
		if ctx.Err() != nil {
			// the entry stays InProgress until the next run resets it
			return
		}
		if err != nil {
			logger.Error("scrape entry failed",
				zap.String("entry", entry.Name),
				zap.String("id", entry.ID),
				zap.Error(err),
			)
			result = model.StatusError
			o.markFailed(ctx, entry.ID, err.Error())
		}
		state.count(result)
		o.opts.Metrics.EntryFinished(result.String(), time.Since(start))
		state.progress.entryFinished(status.Reset(result.String()))
	}
}

// claim is lock region one: dequeue and mark InProgress. An empty id means
// the queue is drained.
func (o *Orchestrator) claim(ctx context.Context, state *runState) (string, *model.CatalogEntry, *model.Platform, error) {
	state.dequeueMu.Lock()
	defer state.dequeueMu.Unlock()

	id, ok := state.queue.Dequeue()
	if !ok {
		return "", nil, nil, nil
	}
	sess, err := o.store.Session(ctx)
	if err != nil {
		return id, nil, nil, err
	}
	defer sess.Close()

	entry, err := sess.GetEntry(ctx, id)
	if err != nil {
		return id, nil, nil, fmt.Errorf("load entry %s: %w", id, err)
	}
	platform, err := sess.GetPlatform(ctx, entry.PlatformID)
	if err != nil {
		return id, nil, nil, fmt.Errorf("load platform of entry %s: %w", id, err)
	}
	entry.Status = model.StatusInProgress
	if err := sess.UpdateEntry(ctx, entry); err != nil {
		return id, nil, nil, fmt.Errorf("mark entry %s in progress: %w", id, err)
	}
	return id, entry, platform, nil
}

// process runs one claimed entry to a terminal status. Panics surface as errors.
func (o *Orchestrator) process(ctx context.Context, state *runState, entry *model.CatalogEntry, platform *model.Platform, status model.WorkerStatus) (result model.ScrapeStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			logutil.GetLogger(ctx).Error("panic while scraping entry",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	sess, err := o.store.Session(ctx)
	if err != nil {
		return model.StatusError, err
	}
	defer sess.Close()

	if !entry.Resolved() {
		state.progress.send(status.Reset(fmt.Sprintf("Searching for %s", entry.Name)))
		game, err := o.resolver.Resolve(ctx, entry, platform)
		if err != nil {
			return model.StatusError, err
		}
		if game == nil {
			entry.Status = model.StatusNotFound
			entry.Included = false
			entry.LastError = ""
			if err := sess.UpdateEntry(ctx, entry); err != nil {
				return model.StatusError, err
			}
			return model.StatusNotFound, nil
		}
		entry.RemoteID = game.ID
		entry.Name = game.PreferredName()
		entry.Remote = game
		if err := sess.UpdateEntry(ctx, entry); err != nil {
			return model.StatusError, err
		}
		status.CurrentEntry = entry.Label(platform.Name)
	}

	if IsNotAGame(entry.Name) {
		entry.Status = model.StatusError
		entry.LastError = notGameMessage
		entry.Included = false
		if err := sess.UpdateEntry(ctx, entry); err != nil {
			return model.StatusError, err
		}
		return model.StatusError, nil
	}

	for _, kind := range MediaKinds {
		line := status.Reset(fmt.Sprintf("Downloading %s", kind.Name))
		state.progress.send(line)
		if _, err := o.media.Fetch(ctx, kind, platform, entry, func(received, total int64, speed float64) {
			state.progress.send(line.WithDownload(received, total, speed))
		}); err != nil {
			return model.StatusError, err
		}
	}

	state.progress.send(status.Reset("Updating gamelist.xml"))
	if err := o.merge(state, entry, platform); err != nil {
		return model.StatusError, err
	}

	entry.Status = model.StatusSuccess
	entry.LastError = ""
	if err := sess.UpdateEntry(ctx, entry); err != nil {
		return model.StatusError, err
	}
	return model.StatusSuccess, nil
}

// merge is lock region two.
func (o *Orchestrator) merge(state *runState, entry *model.CatalogEntry, platform *model.Platform) error {
	state.gamelistMu.Lock()
	defer state.gamelistMu.Unlock()
	return MergeEntry(entry, platform, o.opts.Now())
}

func (o *Orchestrator) markFailed(ctx context.Context, id, message string) {
	logger := logutil.GetLogger(ctx)
	sess, err := o.store.Session(ctx)
	if err != nil {
		logger.Error("open session to record failure", zap.Error(err))
		return
	}
	defer sess.Close()
	entry, err := sess.GetEntry(ctx, id)
	if err != nil {
		logger.Error("load entry to record failure", zap.String("id", id), zap.Error(err))
		return
	}
	entry.Status = model.StatusError
	entry.LastError = message
	entry.Included = false
	if err := sess.UpdateEntry(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("record failure", zap.String("id", id), zap.Error(err))
	}
}

// RegenerateGamelist rebuilds one platform gamelist, holding the same lock
// scrape runs use for merges.
func RegenerateGamelist(entries []*model.CatalogEntry, platform *model.Platform, now time.Time) (int, error) {
	gamelistMu.Lock()
	defer gamelistMu.Unlock()
	return Regenerate(entries, platform, now)
}
