// Package stats summarises pointer exchange behaviour: how many packets each
// exchange carried, how many ring bytes it published and how long the round
// trip took. A Collector observes a running bridge; the plotting helpers
// render its samples or samples loaded from a trace database.
package stats

import (
	"errors"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/nocbridge/internal/noc"
)

// ErrNoSamples is returned when there is nothing to summarise or plot.
var ErrNoSamples = errors.New("no exchange samples")

// DefaultWindow is the number of recent exchanges a Collector keeps.
const DefaultWindow = 4096

// Dist describes a sample distribution.
type Dist struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Summarize computes a Dist over values.
func Summarize(values []float64) Dist {
	if len(values) == 0 {
		return Dist{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	d := Dist{
		N:    len(sorted),
		Mean: stat.Mean(sorted, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:  floats.Max(sorted),
	}
	if len(sorted) > 1 {
		d.StdDev = stat.StdDev(sorted, nil)
	}
	if math.IsNaN(d.StdDev) {
		d.StdDev = 0
	}
	return d
}

type sample struct {
	packets   float64
	bytes     float64
	latencyUs float64
}

// Collector is a noc.Observer keeping the most recent exchanges.
type Collector struct {
	noc.BaseObserver

	mu        sync.Mutex
	samples   []sample
	next      int
	full      bool
	total     int
	byTrigger map[string]int
}

// NewCollector keeps up to window exchanges; window < 1 uses DefaultWindow.
func NewCollector(window int) *Collector {
	if window < 1 {
		window = DefaultWindow
	}
	return &Collector{
		samples:   make([]sample, window),
		byTrigger: make(map[string]int),
	}
}

func (c *Collector) PointersExchanged(ev noc.ExchangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[c.next] = sample{
		packets:   float64(ev.Packets),
		bytes:     float64(ev.Bytes),
		latencyUs: float64(ev.Latency.Microseconds()),
	}
	c.next = (c.next + 1) % len(c.samples)
	if c.next == 0 {
		c.full = true
	}
	c.total++
	c.byTrigger[ev.Trigger.String()]++
}

// window returns the retained samples, oldest first. c.mu must be held.
func (c *Collector) window() []sample {
	if !c.full {
		return append([]sample(nil), c.samples[:c.next]...)
	}
	out := make([]sample, 0, len(c.samples))
	out = append(out, c.samples[c.next:]...)
	return append(out, c.samples[:c.next]...)
}

// Batches returns packets per exchange for the retained window, oldest first.
func (c *Collector) Batches() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.window()
	out := make([]float64, len(w))
	for i, s := range w {
		out[i] = s.packets
	}
	return out
}

// Summary is the JSON view of a Collector.
type Summary struct {
	Exchanges int            `json:"exchanges"`
	ByTrigger map[string]int `json:"by_trigger"`
	Batch     Dist           `json:"batch_packets"`
	Bytes     Dist           `json:"batch_bytes"`
	LatencyUs Dist           `json:"latency_us"`
}

// Summary summarises the retained window. Exchanges and ByTrigger count
// every exchange seen.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	w := c.window()
	s := Summary{Exchanges: c.total, ByTrigger: make(map[string]int, len(c.byTrigger))}
	for k, v := range c.byTrigger {
		s.ByTrigger[k] = v
	}
	c.mu.Unlock()

	packets := make([]float64, len(w))
	bytes := make([]float64, len(w))
	latency := make([]float64, len(w))
	for i, smp := range w {
		packets[i] = smp.packets
		bytes[i] = smp.bytes
		latency[i] = smp.latencyUs
	}
	s.Batch = Summarize(packets)
	s.Bytes = Summarize(bytes)
	s.LatencyUs = Summarize(latency)
	return s
}
