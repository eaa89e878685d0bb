package eventbus

// Task is a unit of crypto work: an opaque closure over whatever the submitter needs
// (the plaintext, the expected signer, a pre-bound Sender to deliver the verdict back
// into the owning component's mailbox). It receives the worker pool's key material so
// it never has to smuggle key state through the closure itself.
type Task[K any] func(key K)

// CryptoWorker is a bounded pool of goroutines draining a shared task queue. Submission
// never blocks the submitter (spec.md §5): a full queue spills the enqueue onto its own
// goroutine rather than stall the caller. Result ordering across tasks is unspecified —
// owning components must be slot-indexed and tolerate out-of-order completions.
type CryptoWorker[K any] struct {
	key   K
	tasks chan Task[K]
	done  chan struct{}
}

// NewCryptoWorker starts workers goroutines sharing key material key and draining a
// queue of depth queueDepth.
func NewCryptoWorker[K any](key K, workers, queueDepth int) *CryptoWorker[K] {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	w := &CryptoWorker[K]{
		key:   key,
		tasks: make(chan Task[K], queueDepth),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

func (w *CryptoWorker[K]) run() {
	for {
		select {
		case <-w.done:
			return
		case task := <-w.tasks:
			task(w.key)
		}
	}
}

// Submit enqueues task. If the queue is momentarily full the enqueue happens on a
// dedicated goroutine so Submit itself never blocks.
func (w *CryptoWorker[K]) Submit(task Task[K]) {
	select {
	case w.tasks <- task:
	default:
		go func() { w.tasks <- task }()
	}
}

// Stop halts all worker goroutines. Outstanding queued tasks are abandoned.
func (w *CryptoWorker[K]) Stop() {
	close(w.done)
}
