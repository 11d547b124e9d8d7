package sink

import "github.com/PatrickBaus/data-logger/internal/event"

// Fanout pushes every produced Sample onto each sink's inbound queue. The
// queues are unbounded, so a slow sink never stalls the sampler or its
// siblings; delivery order per queue equals publish order.
type Fanout struct {
	queues []*Queue
}

func NewFanout(queues ...*Queue) *Fanout {
	return &Fanout{queues: queues}
}

func (f *Fanout) Publish(sample event.Sample) {
	for _, q := range f.queues {
		q.Put(sample)
	}
}
