package models

import "time"

type RecordType string

const (
	RecordPosition RecordType = "position"
	RecordOrder    RecordType = "order"
)

// DeltaRecord — сохранённое намерение сигнала. По нему опрос позиций
// сверяет живые позиции с исходными параметрами.
type DeltaRecord struct {
	ID                int64      `json:"id"`
	AccountID         string     `json:"account_id"`
	InstrumentName    string     `json:"instrument_name"`
	OrderID           *string    `json:"order_id,omitempty"`
	TargetDelta       float64    `json:"target_delta"`
	MovePositionDelta float64    `json:"move_position_delta"`
	MinExpireDays     *int       `json:"min_expire_days,omitempty"`
	TvID              *string    `json:"tv_id,omitempty"`
	Action            Action     `json:"action"`
	RecordType        RecordType `json:"record_type"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DeltaFilter — пустые поля не фильтруют.
type DeltaFilter struct {
	AccountID      string
	InstrumentName string
	TvID           string
	OrderID        string
	RecordType     RecordType
}

func (f DeltaFilter) Match(r DeltaRecord) bool {
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.InstrumentName != "" && r.InstrumentName != f.InstrumentName {
		return false
	}
	if f.TvID != "" && (r.TvID == nil || *r.TvID != f.TvID) {
		return false
	}
	if f.OrderID != "" && (r.OrderID == nil || *r.OrderID != f.OrderID) {
		return false
	}
	if f.RecordType != "" && r.RecordType != f.RecordType {
		return false
	}
	return true
}

func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }
