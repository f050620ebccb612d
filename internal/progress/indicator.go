// Package progress provides the progress and cancellation handle handed to
// every indexing task.
package progress

import (
	"errors"
	"sync"
	"time"
)

// ErrCanceled is the cause reported when an indicator is cancelled.
var ErrCanceled = errors.New("progress canceled")

// Snapshot is an immutable copy of an indicator's state.
type Snapshot struct {
	Text           string  `json:"text"`
	Text2          string  `json:"text2,omitempty"`
	Fraction       float64 `json:"fraction"`
	ProgressPct    float64 `json:"progress_pct"`
	Indeterminate  bool    `json:"indeterminate"`
	Canceled       bool    `json:"canceled"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
}

// Indicator is a thread-safe progress handle. Workers update it while
// readers take snapshots; cancellation is cooperative.
type Indicator struct {
	mu sync.RWMutex

	text          string
	text2         string
	fraction      float64
	indeterminate bool
	startTime     time.Time

	cancelOnce sync.Once
	canceled   chan struct{}
}

// NewIndicator returns an indeterminate indicator.
func NewIndicator() *Indicator {
	return &Indicator{
		indeterminate: true,
		startTime:     time.Now(),
		canceled:      make(chan struct{}),
	}
}

func (p *Indicator) SetText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = text
}

// SetText2 sets the secondary line, usually the file being processed.
func (p *Indicator) SetText2(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text2 = text
}

func (p *Indicator) SetIndeterminate(indeterminate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indeterminate = indeterminate
}

// SetFraction sets the completed fraction, clamped to [0, 1].
func (p *Indicator) SetFraction(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fraction = fraction
}

// Cancel requests cooperative cancellation. Safe to call more than once.
func (p *Indicator) Cancel() {
	p.cancelOnce.Do(func() { close(p.canceled) })
}

func (p *Indicator) IsCanceled() bool {
	select {
	case <-p.canceled:
		return true
	default:
		return false
	}
}

// Done is closed when the indicator is cancelled.
func (p *Indicator) Done() <-chan struct{} {
	return p.canceled
}

// Snapshot returns an immutable copy of the current state.
func (p *Indicator) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Snapshot{
		Text:           p.text,
		Text2:          p.text2,
		Fraction:       p.fraction,
		ProgressPct:    p.fraction * 100.0,
		Indeterminate:  p.indeterminate,
		Canceled:       p.IsCanceled(),
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
	}
}
