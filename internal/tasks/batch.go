package tasks

import "sync"

// FailedItem is an item that did not complete successfully.
type FailedItem struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Progress is a point-in-time view of a batch.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Done reports whether every item has completed.
func (p Progress) Done() bool { return p.Completed >= p.Total }

// Summary is the user-visible outcome of a batch.
type Summary struct {
	SuccessCount int `json:"successCount"`
	FailCount    int `json:"failCount"`
	Total        int `json:"total"`
}

// Batch tracks progress of one fan-out. It is safe for concurrent use.
type Batch struct {
	mu        sync.Mutex
	total     int
	completed int
	succeeded int
	failed    []FailedItem
}

// NewBatch creates a batch expecting total items.
func NewBatch(total int) *Batch {
	return &Batch{total: total}
}

func (b *Batch) record(index int, err error, onProgress func(Progress)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	if err != nil {
		b.failed = append(b.failed, FailedItem{Index: index, Error: err.Error()})
	} else {
		b.succeeded++
	}
	if onProgress != nil {
		onProgress(b.progressLocked())
	}
}

// Progress returns a snapshot of the batch.
func (b *Batch) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progressLocked()
}

func (b *Batch) progressLocked() Progress {
	return Progress{
		Total:     b.total,
		Completed: b.completed,
		Succeeded: b.succeeded,
		Failed:    len(b.failed),
	}
}

// Failed returns a copy of the failed items in completion order.
func (b *Batch) Failed() []FailedItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]FailedItem(nil), b.failed...)
}

// Summary returns the success and failure counts.
func (b *Batch) Summary() Summary {
	p := b.Progress()
	return Summary{SuccessCount: p.Succeeded, FailCount: p.Failed, Total: p.Total}
}
