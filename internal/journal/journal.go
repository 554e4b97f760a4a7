package journal

import (
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/internal/executor"
	"main/internal/schema"
)

// FillRecord is one executed order, persisted for reconciliation.
// Prices and quantities keep their scaled-integer form; the symbol row
// carries the scale.
type FillRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID   uint64 `gorm:"index"`
	Symbol    string `gorm:"index;size:32"`
	Qty       int64
	AvgCost   int64
	CreatedAt time.Time
}

// TransitionRecord is one state machine transition, persisted for audit.
type TransitionRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"index;size:32"`
	State     string `gorm:"size:16"`
	Detail    string `gorm:"size:256"`
	CreatedAt time.Time
}

// Journal persists execution reports. It sits behind the supervisor's
// report drain, so a slow database never backpressures the state machines;
// at worst reports are dropped upstream.
type Journal struct {
	db       *gorm.DB
	registry *schema.Registry
}

// New migrates the journal tables and returns a writer.
func New(db *gorm.DB, registry *schema.Registry) (*Journal, error) {
	if err := db.AutoMigrate(&FillRecord{}, &TransitionRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate journal tables")
	}
	return &Journal{db: db, registry: registry}, nil
}

// Record persists one report. Non-persistable kinds are ignored.
func (j *Journal) Record(r executor.Report) error {
	name := ""
	if symbol, ok := j.registry.Symbol(r.SymbolID); ok {
		name = symbol.Name
	}
	switch r.Kind {
	case executor.ReportFill:
		return j.db.Create(&FillRecord{
			OrderID: r.OrderID,
			Symbol:  name,
			Qty:     int64(r.Position.Qty),
			AvgCost: int64(r.Position.AvgCost),
		}).Error
	case executor.ReportStateChange, executor.ReportBrokerError:
		detail := ""
		if r.Err != nil {
			detail = r.Err.Error()
		}
		return j.db.Create(&TransitionRecord{
			Symbol: name,
			State:  r.State.String(),
			Detail: detail,
		}).Error
	default:
		return nil
	}
}
