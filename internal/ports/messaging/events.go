package messaging

import (
	"time"

	"github.com/google/uuid"
)

// PayoutCompletedEvent is the JSON payload queued for the notification
// worker after a payout settles.
type PayoutCompletedEvent struct {
	PaymentID     uuid.UUID `json:"paymentId"`
	EmployeeID    uuid.UUID `json:"employeeId"`
	EmployeeEmail string    `json:"employeeEmail"`
	EmployeeName  string    `json:"employeeName"`
	Amount        string    `json:"amount"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
	OccurredAt    time.Time `json:"occurredAt"`
}
