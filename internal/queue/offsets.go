package queue

import (
	"sync"

	"github.com/jmehdipour/outreach-mailer/internal/kafka"
)

type partitionKey struct {
	topic     string
	partition int
}

type inflight struct {
	msg  kafka.Message
	done bool
}

// offsetTracker remembers claimed messages per partition in fetch order. A
// Kafka commit covers every earlier offset of the partition, so only the
// finished prefix is ever committed.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey][]*inflight
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[partitionKey][]*inflight)}
}

func keyOf(m kafka.Message) partitionKey {
	return partitionKey{topic: m.Topic, partition: m.Partition}
}

// track must be called in fetch order.
func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(m)
	t.parts[k] = append(t.parts[k], &inflight{msg: m})
}

// complete marks m finished and, when the finished prefix of its partition
// grew, commits the last message of that prefix. Commits are issued under the
// lock so they never go backwards.
func (t *offsetTracker) complete(m kafka.Message, commit func(kafka.Message) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(m)
	list := t.parts[k]
	for _, f := range list {
		if f.msg.Offset == m.Offset {
			f.done = true
			break
		}
	}

	n := 0
	for n < len(list) && list[n].done {
		n++
	}
	if n == 0 {
		return nil
	}
	last := list[n-1].msg
	if n == len(list) {
		delete(t.parts, k)
	} else {
		t.parts[k] = append([]*inflight(nil), list[n:]...)
	}
	return commit(last)
}
