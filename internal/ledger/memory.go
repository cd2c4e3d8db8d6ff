// internal/ledger/memory.go
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// MemoryNetwork is a single-sequencer log held in process. Sequence numbers,
// transaction ids and account ids come from counters so runs are repeatable.
type MemoryNetwork struct {
	mu       sync.Mutex
	topicID  string
	seq      uint64
	accounts uint64
	now      func() time.Time
	events   []Event
	failures []error
}

type MemoryOption func(*MemoryNetwork)

func WithClock(now func() time.Time) MemoryOption {
	return func(n *MemoryNetwork) { n.now = now }
}

func NewMemoryNetwork(topicID string, opts ...MemoryOption) *MemoryNetwork {
	n := &MemoryNetwork{
		topicID: topicID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FailNext queues errors returned by the next calls, one per call.
func (n *MemoryNetwork) FailNext(errList ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, errList...)
}

func (n *MemoryNetwork) popFailure() error {
	if len(n.failures) == 0 {
		return nil
	}
	err := n.failures[0]
	n.failures = n.failures[1:]
	return err
}

func (n *MemoryNetwork) Submit(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, errs.Wrap(errs.KindLedgerUnavailable, "ledger.submit", err)
	}
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}
	digest, err := msg.Digest()
	if err != nil {
		return Receipt{}, errs.Wrap(errs.KindLedgerRejected, "ledger.submit", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.popFailure(); err != nil {
		return Receipt{}, err
	}

	n.seq++
	ts := n.now().UTC()
	receipt := Receipt{
		Digest:             digest,
		TopicID:            n.topicID,
		SequenceNumber:     n.seq,
		ConsensusTimestamp: ts,
		TransactionID:      fmt.Sprintf("0.0.2@%d.%09d-%d", ts.Unix(), ts.Nanosecond(), n.seq),
	}
	n.events = append(n.events, Event{Message: msg, Receipt: receipt})
	return receipt, nil
}

func (n *MemoryNetwork) QueryHistory(ctx context.Context, produceID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindLedgerUnavailable, "ledger.history", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.popFailure(); err != nil {
		return nil, err
	}

	var out []Event
	for _, e := range n.events {
		if e.Message.ProduceID == produceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (n *MemoryNetwork) OpenAccount(ctx context.Context, farmerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(errs.KindLedgerUnavailable, "ledger.open_account", err)
	}
	if farmerID == "" {
		return "", errs.New(errs.KindLedgerRejected, "ledger.open_account", "farmer id is empty")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.popFailure(); err != nil {
		return "", err
	}

	n.accounts++
	return fmt.Sprintf("0.0.%d", 100000+n.accounts), nil
}

// Events returns every anchored event in sequence order.
func (n *MemoryNetwork) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}
