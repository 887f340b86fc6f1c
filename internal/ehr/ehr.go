// Package ehr defines the capability surface the receptionist needs from an
// electronic health record system, plus a deterministic in-memory adapter.
package ehr

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSlotNotFound indicates the slot id does not exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotNotFree indicates the slot exists but is already booked.
	ErrSlotNotFree = errors.New("slot is not free")

	// ErrCoverageNotFound indicates no coverage record exists for the patient.
	ErrCoverageNotFound = errors.New("coverage not found for patient")
)

// VisitType classifies an appointment.
type VisitType string

const (
	VisitRoutine  VisitType = "routine"
	VisitUrgent   VisitType = "urgent"
	VisitCheckup  VisitType = "checkup"
	VisitFollowup VisitType = "followup"
)

// Valid reports whether v is a known visit type.
func (v VisitType) Valid() bool {
	switch v {
	case VisitRoutine, VisitUrgent, VisitCheckup, VisitFollowup:
		return true
	}
	return false
}

// AppointmentStatus is the booking status of an appointment.
type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentFulfilled AppointmentStatus = "fulfilled"
)

// Slot statuses.
const (
	SlotFree = "free"
	SlotBusy = "busy"
)

// Patient is a patient demographic record.
type Patient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"` // YYYY-MM-DD
	Phone     string `json:"phone,omitempty"`
}

// Practitioner is a provider the practice schedules for.
type Practitioner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Slot is a bookable time interval for one practitioner.
type Slot struct {
	ID             string    `json:"id"`
	PractitionerID string    `json:"practitioner_id"`
	Status         string    `json:"status"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// Appointment is a booked visit.
type Appointment struct {
	ID             string            `json:"id"`
	Status         AppointmentStatus `json:"status"`
	VisitType      VisitType         `json:"visit_type"`
	PatientID      string            `json:"patient_id"`
	PractitionerID string            `json:"practitioner_id"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	Description    string            `json:"description,omitempty"`
}

// Coverage is an insurance coverage record.
type Coverage struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	PatientID string   `json:"patient_id"`
	Payors    []string `json:"payors"`
	PlanName  string   `json:"plan_name,omitempty"`
}

// Gateway is the EHR capability surface.
//
// Lookup methods return (nil, nil) when no record matches, reserving errors
// for the system being unavailable. That keeps "patient not found" and
// "EHR is down" distinguishable without inspecting error strings.
type Gateway interface {
	// LookupPatient finds a patient by name and date of birth (YYYY-MM-DD).
	// Name matching is adapter-defined but must be case-insensitive.
	LookupPatient(ctx context.Context, name, dob string) (*Patient, error)

	// LookupPatientByID finds a patient by id.
	LookupPatientByID(ctx context.Context, patientID string) (*Patient, error)

	// GetAvailability returns free slots for a practitioner between the two
	// dates inclusive, in chronological order.
	GetAvailability(ctx context.Context, providerID string, start, end time.Time) ([]Slot, error)

	// BookAppointment books the slot for the patient. Fails with
	// ErrSlotNotFound or ErrSlotNotFree without side effects.
	BookAppointment(ctx context.Context, patientID, slotID string, visitType VisitType) (*Appointment, error)

	// CheckInsurance verifies coverage for the patient against a plan.
	// Fails with ErrCoverageNotFound when the patient has no coverage.
	CheckInsurance(ctx context.Context, patientID, planID string) (*Coverage, error)

	// ListPractitioners returns all practitioners.
	ListPractitioners(ctx context.Context) ([]Practitioner, error)
}
