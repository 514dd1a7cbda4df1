package ui

import "strings"

// sparkRunes are the block characters used for sparkline bars, from
// lowest to highest.
var sparkRunes = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a ring buffer of throughput samples rendered as a row
// of Unicode block characters, asitop style.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding up to capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Render returns the sparkline at its full capacity width.
func (s *Sparkline) Render() string {
	return s.render(len(s.samples))
}

// RenderWithWidth renders only the most recent width samples. Widths
// at or beyond capacity fall back to the full render.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width >= len(s.samples) {
		return s.render(len(s.samples))
	}
	return s.render(width)
}

// render draws the most recent samples left to right into width
// slots. Slots beyond the sample count stay blank; with no samples
// at all the whole line is a flat baseline.
func (s *Sparkline) render(width int) string {
	if s.count == 0 {
		return strings.Repeat(string(sparkRunes[0]), width)
	}

	window := s.window(width)
	max := maxSample(window)

	var sb strings.Builder
	sb.Grow(width * 3) // block runes are 3 bytes in UTF-8
	for i := 0; i < width; i++ {
		if i >= len(window) {
			sb.WriteRune(' ')
			continue
		}
		sb.WriteRune(sparkRunes[scaleToRune(window[i], max)])
	}
	return sb.String()
}

// window returns up to n of the most recent samples, oldest first.
func (s *Sparkline) window(n int) []float64 {
	have := min(s.count, len(s.samples))
	if n > have {
		n = have
	}

	// head is one past the newest sample, so the window starts n
	// slots behind it. Before the first wraparound head equals the
	// sample count and the arithmetic stays in bounds either way.
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.head - n + i + len(s.samples)) % len(s.samples)
		out = append(out, s.samples[idx])
	}
	return out
}

// Clear resets the sparkline to empty.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
}

// Count returns the number of samples added since the last Clear.
func (s *Sparkline) Count() int {
	return s.count
}

// Max returns the largest sample currently in the buffer.
func (s *Sparkline) Max() float64 {
	return maxSample(s.samples[:min(s.count, len(s.samples))])
}

func maxSample(samples []float64) float64 {
	max := 0.0
	for _, v := range samples {
		if v > max {
			max = v
		}
	}
	return max
}

// scaleToRune maps a sample to a rune index in [0, len(sparkRunes)).
func scaleToRune(value, max float64) int {
	if max <= 0 {
		return 0
	}
	idx := int(value / max * float64(len(sparkRunes)-1))
	if idx < 0 {
		return 0
	}
	if idx >= len(sparkRunes) {
		return len(sparkRunes) - 1
	}
	return idx
}
