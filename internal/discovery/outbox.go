package discovery

import "github.com/HerbHall/swarmnet/pkg/models"

type pending struct {
	topic string
	msg   *models.Message
}

// outbox is a bounded FIFO of detections that could not be published.
// It is only touched from the scan loop.
type outbox struct {
	items []pending
	limit int
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

// push appends p and reports the oldest entry evicted to make room, if any.
func (o *outbox) push(p pending) (evicted *pending) {
	if len(o.items) >= o.limit {
		old := o.items[0]
		o.items = o.items[1:]
		evicted = &old
	}
	o.items = append(o.items, p)
	return evicted
}

func (o *outbox) peek() (pending, bool) {
	if len(o.items) == 0 {
		return pending{}, false
	}
	return o.items[0], true
}

func (o *outbox) pop() {
	if len(o.items) > 0 {
		o.items[0] = pending{}
		o.items = o.items[1:]
	}
}

func (o *outbox) len() int { return len(o.items) }
