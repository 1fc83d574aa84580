package registry

import "time"

// Observer receives service events for metrics.
type Observer interface {
	OperationDone(op, entity string, d time.Duration, err error)
	AuditAppendFailed(entity string)
	FilterParseFailed()
	SequenceIssued(sequence string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OperationDone(string, string, time.Duration, error) {}
func (NopObserver) AuditAppendFailed(string)                           {}
func (NopObserver) FilterParseFailed()                                 {}
func (NopObserver) SequenceIssued(string)                              {}
