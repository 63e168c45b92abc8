// Package notification delivers patient-facing messages over WhatsApp and
// SMS. Delivery is always fire-and-forget relative to the business
// transaction that triggered it: a failed send is recorded and retryable but
// never rolls anything back.
package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

// Message statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Message is a single outbound notification and its delivery record.
type Message struct {
	ID          string    `json:"id"`
	Channel     Channel   `json:"channel"`
	Recipient   string    `json:"recipient"`
	Kind        string    `json:"kind"` // confirmation, reminder, bill, payment_reminder, package_expiry, general
	Body        string    `json:"body"`
	Status      string    `json:"status"`
	ProviderSID string    `json:"provider_sid,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      time.Time `json:"sent_at,omitempty"`
}

// WhatsAppSender sends a WhatsApp message and returns the provider's message
// sid.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) (sid string, err error)
}

// SMSSender sends a plain SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (sid string, err error)
}

// Template is a reusable message body with {{placeholder}} substitution.
type Template struct {
	ID   string
	Kind string
	Body string
}

// TemplateEngine stores templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   "appointment-confirmation",
			Kind: "confirmation",
			Body: "Hello {{patient_name}}, your appointment with {{doctor_name}} is booked for {{date}} at {{time}} ({{visit_type}}). Please arrive 15 minutes early. Thank you!",
		},
		{
			ID:   "appointment-reminder",
			Kind: "reminder",
			Body: "Appointment reminder: {{patient_name}}, you are seeing {{doctor_name}} tomorrow, {{date}} at {{time}} ({{visit_type}}). For changes, please contact us.",
		},
		{
			ID:   "bill-notification",
			Kind: "bill",
			Body: "Hello {{patient_name}}, your bill {{bill_number}} for {{amount}} has been generated. You can pay by cash, card, UPI or bank transfer.",
		},
		{
			ID:   "payment-reminder",
			Kind: "payment_reminder",
			Body: "Payment reminder: {{patient_name}}, bill {{bill_number}} has an outstanding amount of {{outstanding}}. Please make the payment at your earliest convenience.",
		},
		{
			ID:   "package-expiry",
			Kind: "package_expiry",
			Body: "Hello {{patient_name}}, your package \"{{package_name}}\" expires on {{expiry_date}} with {{sessions_remaining}} sessions remaining. Book your sessions soon!",
		},
		{
			ID:   "online-consultation",
			Kind: "confirmation",
			Body: "Hello {{patient_name}}, your online consultation on {{date}} at {{time}} is ready. Join: {{meeting_url}} (password: {{meeting_password}}).",
		},
	}
	for _, t := range builtIn {
		e.templates[t.ID] = t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes {{key}} placeholders in the template body.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (kind, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	body = t.Body
	for key, value := range data {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	return t.Kind, body, nil
}

// Manager sends messages and keeps their delivery records in memory.
type Manager struct {
	mu       sync.RWMutex
	messages map[string]*Message
	whatsapp WhatsAppSender
	sms      SMSSender
	tpl      *TemplateEngine
}

func NewManager(whatsapp WhatsAppSender, sms SMSSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		messages: make(map[string]*Message),
		whatsapp: whatsapp,
		sms:      sms,
		tpl:      tpl,
	}
}

// Send delivers the message on its channel and records the outcome.
func (m *Manager) Send(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Channel == "" {
		msg.Channel = ChannelWhatsApp
	}
	msg.Status = StatusPending
	msg.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	m.messages[msg.ID] = msg
	m.mu.Unlock()

	return m.deliver(ctx, msg)
}

func (m *Manager) deliver(ctx context.Context, msg *Message) error {
	var sid string
	var err error

	switch msg.Channel {
	case ChannelWhatsApp:
		if m.whatsapp == nil {
			err = fmt.Errorf("whatsapp sender not configured")
		} else {
			sid, err = m.whatsapp.SendWhatsApp(ctx, msg.Recipient, msg.Body)
		}
	case ChannelSMS:
		if m.sms == nil {
			err = fmt.Errorf("sms sender not configured")
		} else {
			sid, err = m.sms.SendSMS(ctx, msg.Recipient, msg.Body)
		}
	default:
		err = fmt.Errorf("unknown channel %q", msg.Channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		msg.Status = StatusFailed
		msg.Error = err.Error()
		return err
	}
	msg.Status = StatusSent
	msg.ProviderSID = sid
	msg.SentAt = time.Now().UTC()
	msg.Error = ""
	return nil
}

// SendTemplate renders templateID with data and sends it to recipient.
func (m *Manager) SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Message, error) {
	kind, body, err := m.tpl.Render(templateID, data)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Channel:   ChannelWhatsApp,
		Recipient: recipient,
		Kind:      kind,
		Body:      body,
	}
	sendErr := m.Send(ctx, msg)
	return msg, sendErr
}

// Get returns a message by id.
func (m *Manager) Get(id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %q not found", id)
	}
	return msg, nil
}

// ListByRecipient returns the most recent messages for a recipient.
func (m *Manager) ListByRecipient(recipient string, limit int) []*Message {
	m.mu.RLock()
	var out []*Message
	for _, msg := range m.messages {
		if recipient == "" || msg.Recipient == recipient {
			out = append(out, msg)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-attempts delivery of a failed message.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("message %q not found", id)
	}
	if msg.Status != StatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("message %q is %s, only failed messages can be retried", id, msg.Status)
	}
	msg.Status = StatusPending
	m.mu.Unlock()

	return m.deliver(ctx, msg)
}

// Stats returns message counts by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{
		"total":        len(m.messages),
		StatusPending: 0,
		StatusSent:    0,
		StatusFailed:  0,
	}
	for _, msg := range m.messages {
		stats[msg.Status]++
	}
	return stats
}
