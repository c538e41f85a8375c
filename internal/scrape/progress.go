package scrape

import (
	"fmt"
	"sort"
	"time"

	"github.com/xxxsen/retroscrape/internal/model"
)

const (
	defaultPublishInterval = time.Second
	totalProgressLabel     = "Total Progress"
)

// Publisher receives the whole progress table. Rows are copies; the
// publisher may keep them.
type Publisher interface {
	Publish(rows []model.WorkerStatus)
}

type PublisherFunc func(rows []model.WorkerStatus)

func (f PublisherFunc) Publish(rows []model.WorkerStatus) { f(rows) }

type progressUpdate struct {
	status   model.WorkerStatus
	finished bool
}

// aggregator is the only owner of the progress table. Workers talk to it
// through updates; it republishes on every tick and once when updates closes.
type aggregator struct {
	updates   chan progressUpdate
	publisher Publisher
	interval  time.Duration
	total     int
	finished  int
	rows      map[int]model.WorkerStatus
	done      chan struct{}
}

func newAggregator(publisher Publisher, interval time.Duration, total, workers int) *aggregator {
	if interval <= 0 {
		interval = defaultPublishInterval
	}
	a := &aggregator{
		updates:   make(chan progressUpdate, workers*16+1),
		publisher: publisher,
		interval:  interval,
		total:     total,
		rows:      make(map[int]model.WorkerStatus, workers+1),
		done:      make(chan struct{}),
	}
	for i := 1; i <= workers; i++ {
		a.rows[i] = model.WorkerStatus{WorkerID: i, Status: "Idle"}
	}
	return a
}

// send blocks while the buffer is full; run drains until close.
func (a *aggregator) send(status model.WorkerStatus) {
	a.updates <- progressUpdate{status: status}
}

func (a *aggregator) entryFinished(status model.WorkerStatus) {
	a.updates <- progressUpdate{status: status, finished: true}
}

func (a *aggregator) close() {
	close(a.updates)
	<-a.done
}

func (a *aggregator) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case u, ok := <-a.updates:
			if !ok {
				a.publish(true)
				return
			}
			a.rows[u.status.WorkerID] = u.status
			if u.finished {
				a.finished++
			}
		case <-ticker.C:
			a.publish(false)
		}
	}
}

func (a *aggregator) publish(final bool) {
	if a.publisher == nil {
		return
	}
	a.publisher.Publish(a.snapshot(final))
}

func (a *aggregator) snapshot(final bool) []model.WorkerStatus {
	total := model.WorkerStatus{
		WorkerID:     model.TotalProgressID,
		CurrentEntry: totalProgressLabel,
		Active:       !final,
		Status:       fmt.Sprintf("Scraping %d games...", a.total-a.finished),
	}
	if final {
		total.Status = fmt.Sprintf("Finished %d of %d games", a.finished, a.total)
	}
	if a.total > 0 {
		total.Progress = float64(a.finished) / float64(a.total) * 100
	}
	rows := make([]model.WorkerStatus, 0, len(a.rows)+1)
	rows = append(rows, total)
	ids := make([]int, 0, len(a.rows))
	for id := range a.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		rows = append(rows, a.rows[id])
	}
	return rows
}
