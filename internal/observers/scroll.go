package observers

import (
	"math"
	"time"

	"tabscope/internal/logging"
	"tabscope/pkg/models"
)

const (
	scrollThrottle     = 200 * time.Millisecond
	scrollSampleWindow = 50
	maxVisibleSamples  = 10
)

// Scroll rate thresholds in pixels/second.
const (
	rapidScrollRate    = 3000
	moderateScrollRate = 1000
	slowScrollRate     = 100
)

type scrollSample struct {
	At    time.Time
	Y     float64
	Depth float64
	Rate  float64
}

// ScrollObserver samples window scroll at most once per 200ms, tracking
// depth, running maximum depth and instantaneous rate. The last 50 samples
// are kept for local analytics only.
type ScrollObserver struct {
	tracking bool
	lastAt   time.Time
	lastY    float64
	hasLast  bool
	maxDepth float64
	samples  []scrollSample
}

func NewScrollObserver() *ScrollObserver {
	return &ScrollObserver{}
}

func (o *ScrollObserver) Start() {
	if o.tracking {
		logging.Warn("scroll observer already started")
		return
	}
	o.tracking = true
}

func (o *ScrollObserver) Stop() {
	if !o.tracking {
		return
	}
	o.tracking = false
	o.hasLast = false
	o.samples = nil
}

// Handle turns one raw scroll signal into at most one event. Signals inside
// the throttle window are dropped, not deferred.
func (o *ScrollObserver) Handle(sig Scrolled, now time.Time) []models.Event {
	if !o.tracking {
		return nil
	}
	if o.hasLast && now.Sub(o.lastAt) < scrollThrottle {
		return nil
	}

	depth := scrollDepth(sig)
	if depth > o.maxDepth {
		o.maxDepth = depth
	}

	rate := 0.0
	if o.hasLast {
		if dt := now.Sub(o.lastAt).Seconds(); dt > 0 {
			rate = math.Abs(sig.Y-o.lastY) / dt
		}
	}

	o.samples = append(o.samples, scrollSample{At: now, Y: sig.Y, Depth: depth, Rate: rate})
	if len(o.samples) > scrollSampleWindow {
		o.samples = o.samples[len(o.samples)-scrollSampleWindow:]
	}

	o.lastAt = now
	o.lastY = sig.Y
	o.hasLast = true

	visible := sig.Visible
	if len(visible) > maxVisibleSamples {
		visible = visible[:maxVisibleSamples]
	}

	return []models.Event{{
		Type:      models.EventScroll,
		Timestamp: now,
		Data: mustJSON(map[string]interface{}{
			"depth":    depth,
			"maxDepth": o.maxDepth,
			"rate":     rate,
			"behavior": classifyScrollRate(rate),
			"visible":  visible,
		}),
	}}
}

func (o *ScrollObserver) Status() Status {
	return Status{IsTracking: o.tracking, BufferSize: len(o.samples)}
}

// MaxDepth is the running maximum scroll depth percentage.
func (o *ScrollObserver) MaxDepth() float64 {
	return o.maxDepth
}

// scrollDepth computes how far down the scrollable height the viewport sits,
// as a percentage.
func scrollDepth(sig Scrolled) float64 {
	scrollable := sig.PageHeight - sig.ViewportHeight
	if scrollable <= 0 {
		return 100
	}
	depth := sig.Y / scrollable * 100
	if depth > 100 {
		return 100
	}
	if depth < 0 {
		return 0
	}
	return depth
}

func classifyScrollRate(rate float64) string {
	switch {
	case rate > rapidScrollRate:
		return "rapid_scroll"
	case rate > moderateScrollRate:
		return "moderate_scroll"
	case rate > slowScrollRate:
		return "slow_scroll"
	default:
		return "paused"
	}
}
