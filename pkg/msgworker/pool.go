package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Job is one unit of forward work bound to a chat. Jobs sharing a chat key
// always land on the same worker, so per-chat ordering is preserved.
type Job struct {
	InstanceID string
	ChatKey    string
	Handler    func(ctx context.Context) error
}

// Stats holds live pool counters.
type Stats struct {
	NumWorkers int   `json:"num_workers"`
	QueueSize  int   `json:"queue_size"`
	Dispatched int64 `json:"dispatched"`
	Processed  int64 `json:"processed"`
	Dropped    int64 `json:"dropped"`
	Errors     int64 `json:"errors"`
}

// Pool fans jobs out to a fixed set of workers, each with its own queue.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32

	dispatched int64
	processed  int64
	dropped    int64
	errors     int64
}

type worker struct {
	id       int
	jobQueue chan Job
	ctx      context.Context
	cancel   context.CancelFunc
	pool     *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 8
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

// Start launches all workers. Each worker drains its queue on shutdown.
func (p *Pool) Start(ctx context.Context) {
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

// TryDispatch enqueues a job on its chat's worker without blocking. A false
// return means the queue was full or the pool was stopped.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.dropped, 1)
		return false
	}

	shard := p.shardFor(job.InstanceID, job.ChatKey)
	if p.workers[shard] == nil {
		return false
	}
	atomic.AddInt64(&p.dispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
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

	atomic.AddInt64(&p.dropped, 1)
	logrus.Warnf("[MSG_WORKER_POOL] Worker %d queue full (or stopped), dropping job for %s|%s",
		shard, job.InstanceID, job.ChatKey)
	return false
}

// Stop shuts the pool down gracefully, waiting for the workers to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		logrus.Info("[MSG_WORKER_POOL] Stopping workers...")

		for _, w := range p.workers {
			if w == nil {
				continue
			}
			w.cancel()
			close(w.jobQueue)
		}

		p.wg.Wait()
		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

func (p *Pool) Stats() Stats {
	return Stats{
		NumWorkers: p.numWorkers,
		QueueSize:  p.queueSize,
		Dispatched: atomic.LoadInt64(&p.dispatched),
		Processed:  atomic.LoadInt64(&p.processed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Errors:     atomic.LoadInt64(&p.errors),
	}
}

func (p *Pool) shardFor(instanceID, chatKey string) int {
	h := fnv.New32a()
	h.Write([]byte(instanceID + "|" + chatKey))
	return int(h.Sum32() % uint32(p.numWorkers))
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
			w.drainQueue()
			return
		}
	}
}

func (w *worker) process(job Job) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.errors, 1)
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic for %s|%s: %v", w.id, job.InstanceID, job.ChatKey, r)
		}
		atomic.AddInt64(&w.pool.processed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.errors, 1)
		logrus.WithError(err).Errorf("[MSG_WORKER_POOL] Worker %d job failed for %s|%s",
			w.id, job.InstanceID, job.ChatKey)
	}
}

// drainQueue runs pending jobs before shutdown so accepted work is not lost.
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
