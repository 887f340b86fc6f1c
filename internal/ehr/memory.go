package ehr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// seedPatient pairs a name with a date of birth for deterministic seeding.
type seedPatient struct {
	name string
	dob  string
}

var seedPractitioners = []string{
	"Dr. Sarah Chen",
	"Dr. Marcus Webb",
	"Dr. Priya Natarajan",
	"Dr. Tom Okafor",
	"Dr. Elena Vasquez",
}

var seedPatients = []seedPatient{
	{"Jane Doe", "1985-03-12"},
	{"John Smith", "1990-05-15"},
	{"Maria Garcia", "1978-11-02"},
	{"Robert Kim", "1962-07-30"},
	{"Alice Thompson", "1995-01-21"},
	{"David Okonkwo", "1988-09-09"},
	{"Linda Park", "1971-04-17"},
	{"Samuel Rivera", "2001-12-05"},
}

var seedPayors = []string{"Aetna", "Blue Cross", "United Healthcare", "Cigna", "Medicare"}

// Memory is a deterministic in-memory EHR adapter for tests and demos.
// Patients, practitioners, and 30 days of weekday slots are seeded at
// construction.
type Memory struct {
	mu            sync.Mutex
	patients      map[string]Patient
	practitioners map[string]Practitioner
	slots         map[string]*Slot
	appointments  map[string]Appointment
	coverages     map[string]Coverage // keyed by patient id
}

var _ Gateway = (*Memory)(nil)

// NewMemory creates a seeded in-memory EHR.
func NewMemory() *Memory {
	m := &Memory{
		patients:      make(map[string]Patient),
		practitioners: make(map[string]Practitioner),
		slots:         make(map[string]*Slot),
		appointments:  make(map[string]Appointment),
		coverages:     make(map[string]Coverage),
	}
	m.seed()
	return m
}

func (m *Memory) seed() {
	for i, name := range seedPractitioners {
		id := fmt.Sprintf("prov-%d", i+1)
		m.practitioners[id] = Practitioner{
			ID:    id,
			Name:  name,
			Email: fmt.Sprintf("provider%d@valleyfamilymedicine.example", i+1),
		}
	}

	for i, sp := range seedPatients {
		id := fmt.Sprintf("pat-%d", i+1)
		m.patients[id] = Patient{
			ID:        id,
			Name:      sp.name,
			BirthDate: sp.dob,
			Phone:     fmt.Sprintf("+1555%07d", 2000000+i),
		}
		m.coverages[id] = Coverage{
			ID:        uuid.NewString(),
			Status:    "active",
			PatientID: id,
			Payors:    []string{seedPayors[i%len(seedPayors)]},
			PlanName:  []string{"Gold Plan", "Silver Plan", "Bronze Plan"}[i%3],
		}
	}

	// 30-minute slots, 9am to 5pm, weekdays only, for the next 30 days.
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for provID := range m.practitioners {
		for dayOffset := 0; dayOffset < 30; dayOffset++ {
			day := today.AddDate(0, 0, dayOffset)
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			start := day.Add(9 * time.Hour)
			for start.Hour() < 17 {
				end := start.Add(30 * time.Minute)
				id := uuid.NewString()
				m.slots[id] = &Slot{
					ID:             id,
					PractitionerID: provID,
					Status:         SlotFree,
					Start:          start,
					End:            end,
				}
				start = end
			}
		}
	}
}

// LookupPatient matches case-insensitively with bidirectional substring
// containment on the name plus an exact date-of-birth match. Containment is
// intentionally loose for spoken names; short names can collide, which is a
// documented limitation of the matching scheme.
func (m *Memory) LookupPatient(ctx context.Context, name, dob string) (*Patient, error) {
	if _, err := time.Parse("2006-01-02", dob); err != nil {
		return nil, fmt.Errorf("invalid date of birth %q: %w", dob, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := strings.ToLower(strings.TrimSpace(name))
	for _, p := range m.patients {
		full := strings.ToLower(p.Name)
		if (strings.Contains(full, target) || strings.Contains(target, full)) && p.BirthDate == dob {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) LookupPatientByID(ctx context.Context, patientID string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	found := p
	return &found, nil
}

func (m *Memory) GetAvailability(ctx context.Context, providerID string, start, end time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	endOfDay := end.Add(24*time.Hour - time.Nanosecond)
	var available []Slot
	for _, s := range m.slots {
		if s.PractitionerID != providerID || s.Status != SlotFree {
			continue
		}
		if s.Start.Before(start) || s.Start.After(endOfDay) {
			continue
		}
		available = append(available, *s)
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].Start.Before(available[j].Start)
	})
	return available, nil
}

func (m *Memory) BookAppointment(ctx context.Context, patientID, slotID string, visitType VisitType) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if slot.Status != SlotFree {
		return nil, ErrSlotNotFree
	}

	slot.Status = SlotBusy
	appt := Appointment{
		ID:             uuid.NewString(),
		Status:         AppointmentBooked,
		VisitType:      visitType,
		PatientID:      patientID,
		PractitionerID: slot.PractitionerID,
		Start:          slot.Start,
		End:            slot.End,
		Description:    fmt.Sprintf("%s appointment", visitType),
	}
	m.appointments[appt.ID] = appt
	return &appt, nil
}

func (m *Memory) CheckInsurance(ctx context.Context, patientID, planID string) (*Coverage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cov, ok := m.coverages[patientID]
	if !ok {
		return nil, ErrCoverageNotFound
	}
	found := cov
	return &found, nil
}

func (m *Memory) ListPractitioners(ctx context.Context) ([]Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Practitioner, 0, len(m.practitioners))
	for _, p := range m.practitioners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
