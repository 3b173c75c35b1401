package monitoring

import (
	"encoding/json"
	"sync"
	"time"
)

// A ProgressBar follows a scenario while its steps run.
type ProgressBar struct {
	lock sync.Mutex

	ID        string
	Name      string
	StartTime time.Time
	Total     uint64

	running   string
	done      uint64
	failed    uint64
	lastError string
	ops       map[string]uint64
}

// StartStep records that a step with the given op is running.
func (b *ProgressBar) StartStep(op string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.running = op
}

// FinishStep records the outcome of a step. A step that returned an error
// counts as failed even if the error was expected.
func (b *ProgressBar) FinishStep(op string, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.ops == nil {
		b.ops = make(map[string]uint64)
	}

	b.running = ""
	b.done++
	b.ops[op]++

	if err != nil {
		b.failed++
		b.lastError = err.Error()
	}
}

type progressRsp struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	StartTime time.Time         `json:"start_time"`
	Total     uint64            `json:"total"`
	Done      uint64            `json:"done"`
	Failed    uint64            `json:"failed"`
	Running   string            `json:"running,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Ops       map[string]uint64 `json:"ops"`
}

// MarshalJSON reports the bar as seen at one instant.
func (b *ProgressBar) MarshalJSON() ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	ops := make(map[string]uint64, len(b.ops))
	for op, n := range b.ops {
		ops[op] = n
	}

	return json.Marshal(progressRsp{
		ID:        b.ID,
		Name:      b.Name,
		StartTime: b.StartTime,
		Total:     b.Total,
		Done:      b.done,
		Failed:    b.failed,
		Running:   b.running,
		LastError: b.lastError,
		Ops:       ops,
	})
}
