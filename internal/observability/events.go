package observability

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// JobCounters is the subset of job counters the lifecycle events report.
// Not every field applies to every job kind; zero values are omitted from
// the emitted event where that matters to the reader.
type JobCounters struct {
	TotalRecords     *int
	ProcessedRecords int
	SuccessCount     *int
	ErrorCount       *int
}

// JobStarted emits the job.started structured event with initial counters.
func (l *Logger) JobStarted(jobID, kind, resource string, counters JobCounters) {
	fields := []zap.Field{
		zap.String("event", "job.started"),
		zap.String("job_id", jobID),
		zap.String("kind", kind),
		zap.String("resource", resource),
		zap.Int("processed_records", counters.ProcessedRecords),
	}
	if counters.TotalRecords != nil {
		fields = append(fields, zap.Int("total_records", *counters.TotalRecords))
	}
	l.Info("job started", fields...)
}

// JobCompleted emits the job.completed structured event with terminal
// counters. When startedAt is non-nil it additionally computes
// durationMs/rowsPerSecond/errorRate.
func (l *Logger) JobCompleted(jobID, kind, resource, status string, startedAt, finishedAt *time.Time, counters JobCounters) {
	fields := []zap.Field{
		zap.String("event", "job.completed"),
		zap.String("job_id", jobID),
		zap.String("kind", kind),
		zap.String("resource", resource),
		zap.String("status", status),
		zap.Int("processed_records", counters.ProcessedRecords),
	}
	if counters.SuccessCount != nil {
		fields = append(fields, zap.Int("success_count", *counters.SuccessCount))
	}
	if counters.ErrorCount != nil {
		fields = append(fields, zap.Int("error_count", *counters.ErrorCount))
	}

	if startedAt != nil && finishedAt != nil {
		durationMs := finishedAt.Sub(*startedAt).Milliseconds()
		if durationMs < 1 {
			durationMs = 1
		}
		rowsPerSecond := round3(float64(counters.ProcessedRecords) * 1000 / float64(durationMs))

		errorCount := 0
		if counters.ErrorCount != nil {
			errorCount = *counters.ErrorCount
		}
		denom := counters.ProcessedRecords
		if denom < 1 {
			denom = 1
		}
		errorRate := round6(float64(errorCount) / float64(denom))

		fields = append(fields,
			zap.Int64("duration_ms", durationMs),
			zap.Float64("rows_per_second", rowsPerSecond),
			zap.Float64("error_rate", errorRate),
		)
	}

	level := levelForStatus(status)
	switch level {
	case "error":
		l.Error("job completed", fields...)
	case "warn":
		l.Warn("job completed", fields...)
	default:
		l.Info("job completed", fields...)
	}
}

func levelForStatus(status string) string {
	switch status {
	case "failed":
		return "error"
	case "partial", "cancelled":
		return "warn"
	default:
		return "info"
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func round6(f float64) float64 {
	return math.Round(f*1_000_000) / 1_000_000
}
