package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one unit of per-destination work. Jobs sharing (TenantID, Address)
// always land on the same worker, so deliveries to one destination stay
// ordered even under load.
type Job struct {
	TenantID string
	Address  string
	Handler  func(ctx context.Context) error
}

// PoolStats is a live snapshot for the monitoring endpoint.
type PoolStats struct {
	NumWorkers         int            `json:"num_workers"`
	QueueSize          int            `json:"queue_size"`
	ActiveWorkers      int            `json:"active_workers"`
	TotalDispatched    int64          `json:"total_dispatched"`
	TotalProcessed     int64          `json:"total_processed"`
	TotalDropped       int64          `json:"total_dropped"`
	TotalErrors        int64          `json:"total_errors"`
	WorkerStats        []WorkerStats  `json:"worker_stats"`
	ActiveDestinations map[string]int `json:"active_destinations"` // tenantID|address -> worker id
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

type activeEntry struct {
	workerID  int
	updatedAt time.Time
}

// Pool shards jobs across fixed workers by FNV hash of the destination key.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32
	stopCh     chan struct{}

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64

	activeMu sync.RWMutex
	active   map[string]activeEntry
}

type worker struct {
	id            int
	jobQueue      chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		active:     make(map[string]activeEntry),
		stopCh:     make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				now := time.Now()
				p.activeMu.Lock()
				for k, v := range p.active {
					if now.Sub(v.updatedAt) > 2*time.Second {
						delete(p.active, k)
					}
				}
				p.activeMu.Unlock()
			}
		}
	}()

	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:       i,
			jobQueue: make(chan Job, p.queueSize),
			ctx:      workerCtx,
			cancel:   cancel,
			pool:     p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[MSG_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch enqueues without blocking and reports whether the job was
// accepted, so HTTP handlers can push backpressure instead of queueing
// unboundedly.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.TenantID, job.Address)
	atomic.AddInt64(&p.totalDispatched, 1)

	key := job.TenantID + "|" + job.Address
	p.activeMu.Lock()
	p.active[key] = activeEntry{workerID: shard, updatedAt: time.Now()}
	p.activeMu.Unlock()

	sent := func() (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].jobQueue <- job:
			return true
		default:
			return false
		}
	}()

	if sent {
		return true
	}

	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[MSG_WORKER_POOL] Worker %d queue full, dropping job for %s", shard, key)
	return false
}

// Dispatch is TryDispatch for callers that cannot do anything with a refusal.
func (p *Pool) Dispatch(job Job) {
	_ = p.TryDispatch(job)
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.stopCh)
		logrus.Info("[MSG_WORKER_POOL] Stopping workers...")

		for _, w := range p.workers {
			w.cancel()
			close(w.jobQueue)
		}
		p.wg.Wait()

		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

func (p *Pool) shardFor(tenantID, address string) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID + "|" + address))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) GetStats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	activeWorkers := 0

	for i, w := range p.workers {
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}
		workerStats[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}

	now := time.Now()
	p.activeMu.Lock()
	activeSnapshot := make(map[string]int, len(p.active))
	for k, v := range p.active {
		if now.Sub(v.updatedAt) > 2*time.Second {
			delete(p.active, k)
			continue
		}
		activeSnapshot[k] = v.workerID
	}
	p.activeMu.Unlock()

	return PoolStats{
		NumWorkers:         p.numWorkers,
		QueueSize:          p.queueSize,
		ActiveWorkers:      activeWorkers,
		TotalDispatched:    atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:     atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:       atomic.LoadInt64(&p.totalDropped),
		TotalErrors:        atomic.LoadInt64(&p.totalErrors),
		WorkerStats:        workerStats,
		ActiveDestinations: activeSnapshot,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				logrus.Debugf("[MSG_WORKER_POOL] Worker %d shutting down", w.id)
				return
			}
			w.process(job)

		case <-w.ctx.Done():
			// Finish what is already queued before exiting.
			w.drainQueue()
			return
		}
	}
}

func (w *worker) process(job Job) {
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic for %s|%s: %v",
				w.id, job.TenantID, job.Address, r)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[MSG_WORKER_POOL] Worker %d job failed for %s|%s",
			w.id, job.TenantID, job.Address)
	}
}

func (w *worker) drainQueue() {
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(job)
		default:
			return
		}
	}
}
