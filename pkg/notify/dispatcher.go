package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudrounds/rounds/pkg/observability"
)

const (
	// DefaultQueueSize bounds the in-flight notification queue.
	DefaultQueueSize = 256
	// DefaultWorkers is the number of delivery goroutines.
	DefaultWorkers = 2
	// deliveryTimeout bounds one SMTP conversation.
	deliveryTimeout = 30 * time.Second
)

// Dispatcher decouples notification delivery from request handling: Send
// enqueues and returns immediately, worker goroutines deliver in the
// background. When the queue is full the message is dropped and counted;
// delivery failures are logged and dropped the same way. Nothing here can
// fail the operation that produced the message.
type Dispatcher struct {
	notifier Notifier
	queue    chan Message
	log      *logrus.Entry
	metrics  *observability.Metrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDispatcher starts workers delivering through notifier. metrics may
// be nil.
func NewDispatcher(notifier Notifier, queueSize, workers int, log *logrus.Entry, metrics *observability.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		notifier: notifier,
		queue:    make(chan Message, queueSize),
		log:      log.WithField("component", "notify-dispatcher"),
		metrics:  metrics,
		stopped:  make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Send enqueues msg for background delivery. Never blocks: when the
// queue is full the message is dropped.
func (d *Dispatcher) Send(msg Message) {
	select {
	case <-d.stopped:
		d.count("dropped")
		return
	default:
	}
	select {
	case d.queue <- msg:
		d.count("queued")
	default:
		d.log.WithField("recipient", msg.Recipient).Warn("notification queue full, dropping message")
		d.count("dropped")
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := d.notifier.Notify(ctx, msg)
		cancel()
		if err != nil {
			d.log.WithError(err).WithField("recipient", msg.Recipient).Warn("notification delivery failed")
			d.count("failed")
			continue
		}
		d.count("delivered")
	}
}

func (d *Dispatcher) count(outcome string) {
	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}
