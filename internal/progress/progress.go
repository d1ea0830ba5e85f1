package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hermeshub/internal/logging"

	"github.com/dustin/go-humanize"
)

// Stats aggregates per-chunk progress of one transfer
type Stats struct {
	Name             string
	Chunks           int
	StartTime        time.Time
	TransferredBytes atomic.Int64

	mu        sync.Mutex
	fractions []float64
}

// NewStats creates statistics for a transfer split into chunks pieces
func NewStats(name string, chunks int) *Stats {
	if chunks < 1 {
		chunks = 1
	}
	return &Stats{
		Name:      name,
		Chunks:    chunks,
		StartTime: time.Now(),
		fractions: make([]float64, chunks),
	}
}

// Track records progress of one chunk. Its signature matches the client's
// progress callback so it can be passed directly.
func (s *Stats) Track(chunkIndex int, delta int64, fraction float64) {
	s.TransferredBytes.Add(delta)

	s.mu.Lock()
	if chunkIndex >= 0 && chunkIndex < len(s.fractions) {
		s.fractions[chunkIndex] = fraction
	}
	s.mu.Unlock()
}

// Fraction returns overall completion in [0, 1]
func (s *Stats) Fraction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum float64
	for _, f := range s.fractions {
		sum += f
	}
	return sum / float64(len(s.fractions))
}

// GetTransferred atomically gets the current transferred bytes count
func (s *Stats) GetTransferred() int64 {
	return s.TransferredBytes.Load()
}

// Reporter handles progress reporting
type Reporter struct {
	stats    *Stats
	interval time.Duration
	console  io.Writer
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewReporter creates a new progress reporter. A nil console disables the
// progress bar; periodic log lines are still written.
func NewReporter(stats *Stats, console io.Writer) *Reporter {
	return &Reporter{
		stats:    stats,
		interval: time.Second,
		console:  console,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins progress reporting
func (r *Reporter) Start() {
	go r.reportLoop()
}

// Stop stops progress reporting and draws the final state
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		<-r.stopped
		if r.console != nil {
			r.render(r.stats.GetTransferred(), 0)
			fmt.Fprintln(r.console)
		}
	})
}

func (r *Reporter) reportLoop() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	const speedWindowSize = 5
	speedHistory := make([]float64, 0, speedWindowSize)
	lastTransferred := int64(0)
	lastUpdate := time.Now()
	ticks := 0

	for {
		select {
		case now := <-ticker.C:
			transferred := r.stats.GetTransferred()
			elapsed := now.Sub(lastUpdate).Seconds()
			if elapsed > 0 {
				speedHistory = append(speedHistory, float64(transferred-lastTransferred)/elapsed)
				if len(speedHistory) > speedWindowSize {
					speedHistory = speedHistory[1:]
				}
			}
			lastTransferred, lastUpdate = transferred, now

			speed := average(speedHistory)
			ticks++
			if ticks%10 == 0 {
				logging.LogTransferProgress(r.stats.Name, transferred, r.estimatedTotal(transferred), speed/(1024*1024))
			}
			if r.console != nil {
				r.render(transferred, speed)
			}
		case <-r.done:
			return
		}
	}
}

// estimatedTotal extrapolates the transfer size from bytes moved so far
func (r *Reporter) estimatedTotal(transferred int64) int64 {
	fraction := r.stats.Fraction()
	if fraction <= 0 {
		return 0
	}
	return int64(float64(transferred) / fraction)
}

func (r *Reporter) render(transferred int64, bytesPerSecond float64) {
	fmt.Fprint(r.console, "\r"+Line(r.stats.Fraction(), transferred, bytesPerSecond))
}

// Line formats one progress bar line
func Line(fraction float64, transferred int64, bytesPerSecond float64) string {
	const barWidth = 30
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	completed := int(float64(barWidth) * fraction)
	bar := strings.Repeat("█", completed) + strings.Repeat("░", barWidth-completed)

	line := fmt.Sprintf("[%s] %5.1f%% %s", bar, fraction*100, humanize.IBytes(uint64(transferred)))
	if bytesPerSecond > 0 {
		line += fmt.Sprintf(" at %s/s", humanize.IBytes(uint64(bytesPerSecond)))
	}
	return line
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
