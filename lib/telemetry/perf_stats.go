package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("triagem.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")

// InstrumentPerfStats samples process stats every interval until ctx is
// done. Samples are exported through the global meter and logged at debug
// level.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second * 30
	}
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)
				allocated := int64(memStats.Alloc / 1_000_000)
				goroutines := int64(runtime.NumGoroutine())

				cpuUsage, err := cpu.PercentWithContext(ctx, 0, false)
				if err == nil && len(cpuUsage) > 0 {
					cpuGauge.Record(ctx, cpuUsage[0])
				} else if err != nil {
					slog.DebugContext(ctx, "failed to read cpu usage", "err", err)
				}

				memoryGauge.Record(ctx, allocated)
				goroutineGauge.Record(ctx, goroutines)
				slog.DebugContext(ctx, "perf stats", "allocated_mb", allocated, "goroutines", goroutines)
			case <-ctx.Done():
				return
			}
		}
	}()
}
