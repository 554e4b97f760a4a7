package executor

import (
	"main/internal/model"
	"main/internal/schema"
)

// ReportKind classifies a stage report sent to the supervisor.
type ReportKind uint8

const (
	ReportUnknown ReportKind = iota
	ReportStateChange
	ReportOrderSubmitted
	ReportOrderCanceled
	ReportBrokerRetry
	ReportBrokerError
	ReportFill
)

func (k ReportKind) String() string {
	switch k {
	case ReportStateChange:
		return "state-change"
	case ReportOrderSubmitted:
		return "order-submitted"
	case ReportOrderCanceled:
		return "order-canceled"
	case ReportBrokerRetry:
		return "broker-retry"
	case ReportBrokerError:
		return "broker-error"
	case ReportFill:
		return "fill"
	default:
		return "unknown"
	}
}

// Report is one observable side effect of the execution manager. Reports are
// delivered to the supervisor on a bounded queue and never block the state
// machine; a full inbox drops the report and bumps a counter.
type Report struct {
	TsNano   int64
	SymbolID schema.SymbolID
	Kind     ReportKind
	State    State
	OrderID  uint64
	Position model.Position
	Err      error
}
