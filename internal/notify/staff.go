package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// StaffNotifier emails the front desk when the engine books an appointment.
type StaffNotifier struct {
	sender       messaging.Sender
	to           string
	practiceName string
	logger       *logging.Logger
}

// NewStaffNotifier returns nil when there is no sender or recipient; the nil
// notifier is a no-op.
func NewStaffNotifier(sender messaging.Sender, to, practiceName string, logger *logging.Logger) *StaffNotifier {
	if sender == nil || strings.TrimSpace(to) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StaffNotifier{sender: sender, to: to, practiceName: practiceName, logger: logger}
}

// AppointmentBooked tells staff about a newly scheduled appointment.
func (n *StaffNotifier) AppointmentBooked(ctx context.Context, p prospects.Prospect, appt prospects.Appointment) error {
	if n == nil {
		return nil
	}
	name := strings.TrimSpace(p.Contact.FirstName + " " + p.Contact.LastName)
	if name == "" {
		name = p.ID
	}
	var body strings.Builder
	fmt.Fprintf(&body, "%s booked through the %s campaign.\n\n", name, p.CampaignID)
	fmt.Fprintf(&body, "When: %s at %s\n", appt.DateLabel(), appt.Time)
	if appt.Service != "" {
		fmt.Fprintf(&body, "Service: %s\n", appt.Service)
	}
	if p.Contact.Phone != "" {
		fmt.Fprintf(&body, "Phone: %s\n", p.Contact.Phone)
	}
	if p.Contact.Email != "" {
		fmt.Fprintf(&body, "Email: %s\n", p.Contact.Email)
	}

	subject := fmt.Sprintf("New appointment: %s, %s %s", name, appt.DateLabel(), appt.Time)
	if n.practiceName != "" {
		subject = fmt.Sprintf("[%s] %s", n.practiceName, subject)
	}
	_, err := n.sender.Send(ctx, messaging.OutboundMessage{
		ProspectID: p.ID,
		Channel:    "email",
		To:         n.to,
		Subject:    subject,
		Body:       body.String(),
	})
	if err != nil {
		return fmt.Errorf("notify: staff appointment email: %w", err)
	}
	n.logger.Info("staff notified of appointment", "prospect_id", p.ID, "appointment_id", appt.ID)
	return nil
}
