package engine

import "time"

// MetricsRecorder receives run and step measurements.
type MetricsRecorder interface {
	RecordRunStarted()
	RecordRunFinished(status string, duration time.Duration)
	RecordStepExecution(status string, duration time.Duration)
	RecordStageSize(parallel, serial int)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordRunStarted()                         {}
func (nopMetricsRecorder) RecordRunFinished(string, time.Duration)   {}
func (nopMetricsRecorder) RecordStepExecution(string, time.Duration) {}
func (nopMetricsRecorder) RecordStageSize(int, int)                  {}
