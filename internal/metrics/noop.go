package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) BatchStarted(trigger string)                                {}
func (n *NoopSink) BatchCompleted(string, time.Duration, int, int, int, int)   {}
func (n *NoopSink) BatchStopped(reason string)                                 {}
func (n *NoopSink) SubmissionCompleted(outcome string, duration time.Duration) {}
func (n *NoopSink) QuotaRemaining(remaining int)                               {}
func (n *NoopSink) AutomationActive(active bool)                               {}
func (n *NoopSink) BufferSizeUpdate(size int)                                  {}
func (n *NoopSink) BufferCapacitySet(capacity int)                             {}
func (n *NoopSink) EmitError()                                                 {}
func (n *NoopSink) ObserverError(observer string)                              {}
func (n *NoopSink) StaleRecordsRecovered(count int)                            {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                          {}
func (n *NoopSink) LeaderAcquired()                                            {}
func (n *NoopSink) LeaderLost(reason string)                                   {}
