package ui

import "strings"

// SparklineChars are the block characters of a sparkline, lowest first.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of throughput samples rendered as block
// characters.
type Sparkline struct {
	samples []float64
	width   int
	head    int
	count   int
	max     float64
}

// NewSparkline creates a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width), width: width}
}

// Add appends a sample, evicting the oldest once the ring is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++
	if value > s.max {
		s.max = value
	}
	// Rescale once per lap so an early spike does not flatten the rest.
	if s.count%s.width == 0 {
		s.max = 0
		for _, v := range s.samples {
			s.max = max(s.max, v)
		}
	}
}

// Render draws every held sample, oldest first.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(s.width)
}

// RenderWithWidth draws the most recent width samples, padding with
// spaces until enough samples arrived.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	if s.count == 0 {
		return strings.Repeat(string(SparklineChars[0]), width)
	}

	held := min(s.count, s.width)
	shown := min(held, width)

	var sb strings.Builder
	sb.Grow(width * 3)
	// Index of the oldest sample to show.
	first := (s.head - shown + s.width) % s.width
	for i := 0; i < shown; i++ {
		sb.WriteRune(s.char(s.samples[(first+i)%s.width]))
	}
	for i := shown; i < width; i++ {
		sb.WriteRune(' ')
	}
	return sb.String()
}

func (s *Sparkline) char(v float64) rune {
	if s.max <= 0 {
		return SparklineChars[0]
	}
	idx := int(v / s.max * float64(len(SparklineChars)-1))
	idx = max(0, min(idx, len(SparklineChars)-1))
	return SparklineChars[idx]
}

// Clear drops every sample.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns the number of samples added since the last Clear.
func (s *Sparkline) Count() int {
	return s.count
}

// Max returns the scale of the rendering.
func (s *Sparkline) Max() float64 {
	return s.max
}
