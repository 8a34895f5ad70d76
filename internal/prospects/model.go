package prospects

import (
	"time"

	"github.com/google/uuid"
)

// Well-known tags applied by the engine.
const (
	TagTimesOffered         = "times_offered"
	TagAppointmentScheduled = "appointment_scheduled"
	TagOptedOut             = "opted_out"
	TagInactive             = "inactive"
	TagSequenceCompleted    = "sequence_completed"
)

type Contact struct {
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Phone     string            `json:"phone"`
	Email     string            `json:"email"`
	Extra     map[string]string `json:"extra,omitempty"`
}

type AppointmentStatus string

const (
	AppointmentOffered   AppointmentStatus = "offered"
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked visit. Date is midnight of the visit day in the
// practice time zone; Time is the human slot label, e.g. "3:00 PM".
type Appointment struct {
	ID         string            `json:"id"`
	ProspectID string            `json:"prospectId"`
	Date       time.Time         `json:"date"`
	Time       string            `json:"time"`
	Status     AppointmentStatus `json:"status"`
	Service    string            `json:"service,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// DateLabel formats the appointment date for messages.
func (a Appointment) DateLabel() string {
	return a.Date.Format("Monday, January 2")
}

type HistoryKind string

const (
	HistoryEventSent         HistoryKind = "event_sent"
	HistoryEventFailed       HistoryKind = "event_failed"
	HistoryInbound           HistoryKind = "inbound"
	HistoryReply             HistoryKind = "reply"
	HistoryCampaignChanged   HistoryKind = "campaign_changed"
	HistoryOptedOut          HistoryKind = "opted_out"
	HistoryAppointmentBooked HistoryKind = "appointment_booked"
	HistorySequenceCompleted HistoryKind = "sequence_completed"
)

type HistoryEntry struct {
	ID                string      `json:"id"`
	At                time.Time   `json:"at"`
	Kind              HistoryKind `json:"kind"`
	CampaignID        string      `json:"campaignId,omitempty"`
	Stage             int         `json:"stage"`
	Channel           string      `json:"channel,omitempty"`
	Body              string      `json:"body,omitempty"`
	Action            string      `json:"action,omitempty"`
	ProviderMessageID string      `json:"providerMessageId,omitempty"`
	Attempts          int         `json:"attempts,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// Prospect is a lead being worked through a campaign.
type Prospect struct {
	ID              string         `json:"id"`
	Contact         Contact        `json:"contact"`
	CampaignID      string         `json:"campaignId"`
	CampaignVersion int            `json:"campaignVersion"`
	EventCount      int            `json:"eventCount"`
	StageIndex      int            `json:"stageIndex"`
	EnrolledAt      time.Time      `json:"enrolledAt"`
	Tags            []string       `json:"tags"`
	History         []HistoryEntry `json:"history"`
	Appointment     *Appointment   `json:"appointment,omitempty"`
	DoNotContact    bool           `json:"doNotContact"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Exhausted reports whether every automation event has been sent.
func (p *Prospect) Exhausted() bool {
	return p.StageIndex >= p.EventCount
}

// AddTag adds tag once; it reports whether the tag was new.
func (p *Prospect) AddTag(tag string) bool {
	if tag == "" || p.HasTag(tag) {
		return false
	}
	p.Tags = append(p.Tags, tag)
	return true
}

func (p *Prospect) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasResponded reports whether the prospect ever sent an inbound message.
func (p *Prospect) HasResponded() bool {
	for _, h := range p.History {
		if h.Kind == HistoryInbound {
			return true
		}
	}
	return false
}

// ScheduledAppointment returns the appointment if one is scheduled.
func (p *Prospect) ScheduledAppointment() (*Appointment, bool) {
	if p.Appointment == nil || p.Appointment.Status != AppointmentScheduled {
		return nil, false
	}
	return p.Appointment, true
}

// Record appends a history entry, filling in its id and timestamp when unset.
func (p *Prospect) Record(entry HistoryEntry, at time.Time) HistoryEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = at
	}
	if entry.CampaignID == "" {
		entry.CampaignID = p.CampaignID
	}
	p.History = append(p.History, entry)
	return entry
}

// TemplateFields exposes contact and appointment values for message rendering.
func (p *Prospect) TemplateFields() map[string]string {
	fields := make(map[string]string, len(p.Contact.Extra)+8)
	for k, v := range p.Contact.Extra {
		fields[k] = v
	}
	fields["FirstName"] = p.Contact.FirstName
	fields["LastName"] = p.Contact.LastName
	fields["Phone"] = p.Contact.Phone
	fields["Email"] = p.Contact.Email
	if p.Appointment != nil {
		fields["AppointmentDate"] = p.Appointment.DateLabel()
		fields["AppointmentTime"] = p.Appointment.Time
		if p.Appointment.Service != "" {
			fields["Service"] = p.Appointment.Service
		}
	}
	return fields
}

// Clone returns a deep copy.
func (p Prospect) Clone() Prospect {
	out := p
	if p.Contact.Extra != nil {
		out.Contact.Extra = make(map[string]string, len(p.Contact.Extra))
		for k, v := range p.Contact.Extra {
			out.Contact.Extra[k] = v
		}
	}
	out.Tags = append([]string(nil), p.Tags...)
	out.History = append([]HistoryEntry(nil), p.History...)
	if p.Appointment != nil {
		appt := *p.Appointment
		out.Appointment = &appt
	}
	return out
}
