package dispatch

import "time"

// Metrics receives dispatch measurements. internal/telemetry provides the
// Prometheus implementation.
type Metrics interface {
	DispatchCompleted(outcome Outcome, attempts int, elapsed time.Duration)
	DispatchDropped(reason string)
	AttemptCompleted(method Method, result string)
	MethodSwitched()
	HistorySize(turns int)
}

type nopMetrics struct{}

func (nopMetrics) DispatchCompleted(Outcome, int, time.Duration) {}
func (nopMetrics) DispatchDropped(string)                        {}
func (nopMetrics) AttemptCompleted(Method, string)               {}
func (nopMetrics) MethodSwitched()                               {}
func (nopMetrics) HistorySize(int)                               {}
