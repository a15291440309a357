// Package monitor samples system network throughput while a download
// is active, for display next to the progress percentage.
package monitor

import (
	"context"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/sirupsen/logrus"

	"github.com/FaultyPacketOverflowVector/Accela/metrics"
)

// Sample is one throughput measurement.
type Sample struct {
	BytesPerSecond float64
	At             time.Time
}

// SpeedMonitor periodically reads the system-wide receive counters and
// reports the delta as throughput.
type SpeedMonitor struct {
	interval time.Duration
	logger   *logrus.Logger
}

// New builds a SpeedMonitor sampling at the given interval.
func New(interval time.Duration, logger *logrus.Logger) *SpeedMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SpeedMonitor{interval: interval, logger: logger}
}

// Run samples until ctx is cancelled, streaming measurements on the
// returned channel. The channel closes on cancellation, which is the
// coordinator's quiescence signal for this worker.
func (m *SpeedMonitor) Run(ctx context.Context) <-chan Sample {
	samples := make(chan Sample, 8)
	go func() {
		defer close(samples)
		m.run(ctx, samples)
	}()
	return samples
}

func (m *SpeedMonitor) run(ctx context.Context, samples chan<- Sample) {
	previous, err := totalReceived()
	if err != nil {
		m.logger.WithError(err).Warn("Network counters unavailable, speed monitor disabled")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			current, err := totalReceived()
			if err != nil {
				m.logger.WithError(err).Debug("Failed to read network counters")
				continue
			}
			var delta uint64
			if current > previous {
				delta = current - previous
			}
			previous = current

			speed := float64(delta) / m.interval.Seconds()
			metrics.NetworkSpeed.Set(speed)
			select {
			case samples <- Sample{BytesPerSecond: speed, At: now}:
			default:
				// Display lagging behind is fine; skip the sample.
			}
		}
	}
}

// totalReceived sums received bytes across all interfaces.
func totalReceived() (uint64, error) {
	counters, err := gopsnet.IOCounters(false)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range counters {
		total += c.BytesRecv
	}
	return total, nil
}
