package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeEntryStatus defines the review state of a recorded work session.
type TimeEntryStatus string

const (
	EntryPending  TimeEntryStatus = "pending"
	EntryApproved TimeEntryStatus = "approved"
	EntryRejected TimeEntryStatus = "rejected"
)

// PaymentCycle is how often a company runs payroll.
type PaymentCycle string

const (
	CycleDaily   PaymentCycle = "daily"
	CycleWeekly  PaymentCycle = "weekly"
	CycleMonthly PaymentCycle = "monthly"
)

// BreakInterval is one pause inside a work session. End is nil while the
// break is still running.
type BreakInterval struct {
	ID          uuid.UUID  `json:"id"`
	TimeEntryID uuid.UUID  `json:"timeEntryId"`
	Category    string     `json:"category"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
}

// TimeEntry is one clock-in/clock-out session for one employee. The derived
// fields (BreakHours, Duration, RegularHours, BonusHours) are recomputed from
// the raw timestamps on every mutation and never treated as source of truth.
type TimeEntry struct {
	ID           uuid.UUID       `json:"id"`
	EmployeeID   uuid.UUID       `json:"employeeId"`
	CompanyID    uuid.UUID       `json:"companyId"`
	ClockIn      time.Time       `json:"clockIn"`
	ClockOut     *time.Time      `json:"clockOut,omitempty"`
	Breaks       []BreakInterval `json:"breaks,omitempty"`
	BreakHours   float64         `json:"breakHours"`
	Duration     float64         `json:"duration"`
	RegularHours float64         `json:"regularHours"`
	BonusHours   float64         `json:"bonusHours"`
	Status       TimeEntryStatus `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	ApprovedBy   *uuid.UUID      `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time      `json:"approvedAt,omitempty"`
	// PaymentID is set once the entry's hours have been folded into a
	// payroll payment. A consumed entry is immutable.
	PaymentID *uuid.UUID `json:"paymentId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Open reports whether the session is still running.
func (e *TimeEntry) Open() bool {
	return e.ClockOut == nil
}

// OpenBreak returns the currently running break, if any.
func (e *TimeEntry) OpenBreak() *BreakInterval {
	for i := range e.Breaks {
		if e.Breaks[i].End == nil {
			return &e.Breaks[i]
		}
	}
	return nil
}

// RecomputeDerived recalculates break total, worked duration and the
// regular/bonus split from the entry's raw timestamps. The cap is applied per
// session, not per calendar day: a second session on the same day gets its
// own cap.
func RecomputeDerived(e *TimeEntry, maxDailyHours float64) {
	var breakHours float64
	for _, b := range e.Breaks {
		if b.End != nil {
			breakHours += b.End.Sub(b.Start).Hours()
		}
	}
	e.BreakHours = breakHours

	if e.ClockOut == nil {
		e.Duration = 0
		e.RegularHours = 0
		e.BonusHours = 0
		return
	}

	worked := e.ClockOut.Sub(e.ClockIn).Hours() - breakHours
	if worked < 0 {
		worked = 0
	}
	e.Duration = worked
	e.RegularHours = worked
	e.BonusHours = 0
	if worked > maxDailyHours {
		e.RegularHours = maxDailyHours
		e.BonusHours = worked - maxDailyHours
	}
}

// MaxPayoutRetries bounds how often a failed payment may be re-dispatched.
const MaxPayoutRetries = 3

// Payment is one payout obligation for one employee over one period. Rate and
// multiplier are snapshots taken at calculation time so later rate changes do
// not rewrite history.
type Payment struct {
	ID                  uuid.UUID       `json:"id"`
	EmployeeID          uuid.UUID       `json:"employeeId"`
	PeriodStart         time.Time       `json:"periodStart"`
	PeriodEnd           time.Time       `json:"periodEnd"`
	RegularHours        float64         `json:"regularHours"`
	BonusHours          float64         `json:"bonusHours"`
	HourlyRate          decimal.Decimal `json:"hourlyRate"`
	BonusRateMultiplier decimal.Decimal `json:"bonusRateMultiplier"`
	Amount              decimal.Decimal `json:"amount"`
	Status              PaymentStatus   `json:"status"`
	GatewaySessionID    string          `json:"gatewaySessionId,omitempty"`
	GatewayTransactionID string         `json:"gatewayTransactionId,omitempty"`
	FailureReason       string          `json:"failureReason,omitempty"`
	RetryCount          int             `json:"retryCount"`
	ApprovedBy          *uuid.UUID      `json:"approvedBy,omitempty"`
	ApprovedAt          *time.Time      `json:"approvedAt,omitempty"`
	PaymentDate         *time.Time      `json:"paymentDate,omitempty"`
	NotifiedAt          *time.Time      `json:"notifiedAt,omitempty"`
	TimeEntryIDs        []uuid.UUID     `json:"timeEntryIds,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// ComputeAmount is the single place the pay formula lives:
// regular*rate + bonus*rate*multiplier.
func ComputeAmount(regularHours, bonusHours float64, rate, multiplier decimal.Decimal) decimal.Decimal {
	regular := rate.Mul(decimal.NewFromFloat(regularHours))
	bonus := rate.Mul(decimal.NewFromFloat(bonusHours)).Mul(multiplier)
	return regular.Add(bonus)
}

// Company holds the payroll knobs the calculator reads.
type Company struct {
	ID                  uuid.UUID       `json:"id"`
	Name                string          `json:"name"`
	EmployerID          uuid.UUID       `json:"employerId"`
	PaymentCycle        PaymentCycle    `json:"paymentCycle"`
	BonusRateMultiplier decimal.Decimal `json:"bonusRateMultiplier"`
	MaxDailyHours       float64         `json:"maxDailyHours"`
	MerchantKey         string          `json:"-"`
	IsActive            bool            `json:"isActive"`
}

// Employee is the payee side of a payment.
type Employee struct {
	ID             uuid.UUID       `json:"id"`
	CompanyID      uuid.UUID       `json:"companyId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	HourlyRate     decimal.Decimal `json:"hourlyRate"`
	TelebirrMSISDN string          `json:"telebirrMsisdn"`
	IsActive       bool            `json:"isActive"`
}

// Telebirr wallet numbers are country-code prefixed with a fixed digit count.
var msisdnPattern = regexp.MustCompile(`^251[0-9]{9}$`)

// ValidMSISDN reports whether s is a well-formed Telebirr wallet number.
func ValidMSISDN(s string) bool {
	return msisdnPattern.MatchString(s)
}
