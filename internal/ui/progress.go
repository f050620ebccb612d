package ui

import (
	"sync"
	"time"
)

// ProgressTracker accumulates ProgressEvents into rates and an ETA.
// Progress restarts whenever the observed task changes.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu          sync.RWMutex
	now         func() time.Time
	task        string
	text        string
	currentFile string
	fraction    float64
	determinate bool
	pending     int
	rebuilding  bool
	startTime   time.Time
	taskStart   time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	// ETA smoothing to prevent wild fluctuations
	lastETA time.Duration

	// Speed is measured in percent per second.
	lastFraction  float64
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	speedSamples  int
	sparkline     *Sparkline
}

// SpeedStats contains speed metrics for display, in percent per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats contains a snapshot of current progress.
type ProgressStats struct {
	Task        string
	Text        string
	CurrentFile string
	Progress    float64
	Determinate bool
	Pending     int
	Rebuilding  bool
	ETA         time.Duration
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// speedInterval is the minimum spacing of speed samples.
const speedInterval = 500 * time.Millisecond

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:           now,
		startTime:     t,
		taskStart:     t,
		lastSpeedCalc: t,
		sparkline:     NewSparkline(60),
	}
}

// Update records an observation.
func (p *ProgressTracker) Update(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if event.Task != p.task {
		p.resetLocked(event.Task, now)
	}

	snap := event.Snapshot
	p.text = snap.Text
	if snap.Text2 != "" {
		p.currentFile = snap.Text2
	}
	p.determinate = !snap.Indeterminate
	p.fraction = snap.Fraction
	p.pending = event.Pending
	p.rebuilding = event.Rebuilding

	elapsed := now.Sub(p.lastSpeedCalc)
	if !p.determinate || elapsed < speedInterval {
		return
	}
	if delta := p.fraction - p.lastFraction; delta > 0 {
		speed := delta * 100 / elapsed.Seconds()
		p.currentSpeed = speed

		p.speedSamples++
		if p.speedSamples == 1 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
		}
		if speed > p.peakSpeed {
			p.peakSpeed = speed
		}
		p.sparkline.Add(speed)
	}
	p.lastFraction = p.fraction
	p.lastSpeedCalc = now
}

func (p *ProgressTracker) resetLocked(task string, now time.Time) {
	p.task = task
	p.text = ""
	p.currentFile = ""
	p.fraction = 0
	p.taskStart = now
	p.lastETA = 0
	p.lastFraction = 0
	p.lastSpeedCalc = now
	p.currentSpeed = 0
	p.avgSpeed = 0
	p.peakSpeed = 0
	p.speedSamples = 0
	p.sparkline.Clear()
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Elapsed returns time since tracker creation.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.now().Sub(p.startTime)
}

// Stats returns current statistics snapshot.
// Uses write lock because calculateETA modifies lastETA for smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Task:        p.task,
		Text:        p.text,
		CurrentFile: p.currentFile,
		Progress:    p.fraction,
		Determinate: p.determinate,
		Pending:     p.pending,
		Rebuilding:  p.rebuilding,
		ETA:         p.calculateETA(),
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed: SpeedStats{
			Current: p.currentSpeed,
			Avg:     p.avgSpeed,
			Peak:    p.peakSpeed,
		},
	}
}

// etaSmoothingFactor controls how much weight is given to new ETA values.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	if !p.determinate || p.fraction <= 0 || p.fraction >= 1 {
		return 0
	}

	elapsed := p.now().Sub(p.taskStart)
	totalEstimate := time.Duration(float64(elapsed) / p.fraction)
	rawRemaining := totalEstimate - elapsed
	if rawRemaining < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = rawRemaining
		return rawRemaining
	}

	smoothed := time.Duration(
		etaSmoothingFactor*float64(rawRemaining) +
			(1-etaSmoothingFactor)*float64(p.lastETA),
	)
	p.lastETA = smoothed
	return smoothed
}

// Errors returns the list of recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns the list of recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]ErrorEvent(nil), p.warnings...)
}

// RenderSparkline returns the sparkline visualization string.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if width <= 0 {
		return p.sparkline.Render()
	}
	return p.sparkline.RenderWithWidth(width)
}

// SpeedStats returns current speed statistics.
func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return SpeedStats{
		Current: p.currentSpeed,
		Avg:     p.avgSpeed,
		Peak:    p.peakSpeed,
	}
}
