package model

import "time"

// Status is the single appointment lifecycle state. Keeping it one enum means
// a row can never be both available and confirmed at once.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusConfirmed Status = "confirmed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusConfirmed:
		return true
	}
	return false
}

// Appointment is one bookable slot for a provider.
//
// Client is empty exactly when Status is available. ReservedAt is set while a
// reservation is pending so the expiry deadline can be recomputed after a
// restart.
type Appointment struct {
	ID         string
	Provider   string
	Time       time.Time
	Status     Status
	Client     string
	ReservedAt *time.Time
	CreatedAt  time.Time
}
