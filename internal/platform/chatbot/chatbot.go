// Package chatbot implements the WhatsApp self-service assistant. It is a
// rule-based engine: inbound messages are classified into intents by
// keyword matching and answered from canned, lightly templated replies.
// Anything it cannot handle is flagged for a human follow-up.
package chatbot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Intents the engine recognizes.
const (
	IntentGreeting          = "greeting"
	IntentBookAppointment   = "book_appointment"
	IntentCancelAppointment = "cancel_appointment"
	IntentClinicHours       = "clinic_hours"
	IntentClinicLocation    = "clinic_location"
	IntentListPackages      = "list_packages"
	IntentHumanHandoff      = "human_handoff"
	IntentFallback          = "fallback"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ChatMessage is one turn in a conversation.
type ChatMessage struct {
	Direction string    `json:"direction"`
	Body      string    `json:"body"`
	Intent    string    `json:"intent,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Conversation is the per-phone chat history. Sessions idle past the
// session TTL get a fresh session id on the next message.
type Conversation struct {
	ID           uuid.UUID     `json:"id"`
	Phone        string        `json:"phone"`
	SessionID    uuid.UUID     `json:"session_id"`
	Messages     []ChatMessage `json:"messages"`
	HandedOff    bool          `json:"handed_off"`
	StartedAt    time.Time     `json:"started_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
}

// PackageLister supplies the package catalog for the list_packages reply.
type PackageLister interface {
	PackageSummaries(ctx context.Context) ([]string, error)
}

// rule maps keywords to an intent. Rules are checked in order; the first
// keyword hit wins.
type rule struct {
	intent   string
	keywords []string
}

var defaultRules = []rule{
	{IntentHumanHandoff, []string{"agent", "human", "representative", "talk to someone", "staff"}},
	{IntentCancelAppointment, []string{"cancel", "reschedule"}},
	{IntentBookAppointment, []string{"book", "appointment", "slot", "schedule", "visit"}},
	{IntentClinicHours, []string{"hours", "timing", "open", "close", "when"}},
	{IntentClinicLocation, []string{"where", "location", "address", "directions", "reach"}},
	{IntentListPackages, []string{"package", "plan", "offer", "price list"}},
	{IntentGreeting, []string{"hi", "hello", "hey", "namaste", "good morning", "good evening"}},
}

const sessionTTL = 30 * time.Minute

// Config carries the clinic facts the canned replies mention.
type Config struct {
	ClinicName    string
	Address       string
	HoursLine     string // e.g. "Mon-Sat, 9:00 AM to 6:00 PM"
	BookingNumber string // phone the front desk answers
}

// Engine classifies messages and keeps conversation history in memory.
type Engine struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	rules         []rule
	packages      PackageLister
	cfg           Config
}

func NewEngine(cfg Config, packages PackageLister) *Engine {
	if cfg.ClinicName == "" {
		cfg.ClinicName = "the clinic"
	}
	return &Engine{
		conversations: make(map[string]*Conversation),
		rules:         defaultRules,
		packages:      packages,
		cfg:           cfg,
	}
}

// Classify returns the intent for a message body.
func (e *Engine) Classify(body string) string {
	text := strings.ToLower(strings.TrimSpace(body))
	if text == "" {
		return IntentFallback
	}
	for _, r := range e.rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.intent
			}
		}
	}
	return IntentFallback
}

// HandleMessage records the inbound message, classifies it and returns the
// reply. The reply is also recorded on the conversation.
func (e *Engine) HandleMessage(ctx context.Context, phone, body string) (reply, intent string) {
	intent = e.Classify(body)
	reply = e.respond(ctx, intent)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	conv, ok := e.conversations[phone]
	if !ok {
		conv = &Conversation{
			ID:        uuid.New(),
			Phone:     phone,
			SessionID: uuid.New(),
			StartedAt: now,
		}
		e.conversations[phone] = conv
	} else if now.Sub(conv.LastActiveAt) > sessionTTL {
		conv.SessionID = uuid.New()
		conv.HandedOff = false
	}
	conv.LastActiveAt = now
	if intent == IntentHumanHandoff {
		conv.HandedOff = true
	}
	conv.Messages = append(conv.Messages,
		ChatMessage{Direction: DirectionIn, Body: body, Intent: intent, SentAt: now},
		ChatMessage{Direction: DirectionOut, Body: reply, SentAt: now},
	)
	return reply, intent
}

func (e *Engine) respond(ctx context.Context, intent string) string {
	switch intent {
	case IntentGreeting:
		return fmt.Sprintf("Hello! Welcome to %s. I can help you book an appointment, share our timings and location, or list our treatment packages. How can I help?", e.cfg.ClinicName)
	case IntentBookAppointment:
		if e.cfg.BookingNumber != "" {
			return fmt.Sprintf("To book an appointment, reply with your preferred date and time, or call us on %s and our front desk will find you a slot.", e.cfg.BookingNumber)
		}
		return "To book an appointment, reply with your preferred date and time and our front desk will find you a slot."
	case IntentCancelAppointment:
		return "To cancel or reschedule, share your appointment date and registered phone number and our staff will take care of it."
	case IntentClinicHours:
		if e.cfg.HoursLine != "" {
			return fmt.Sprintf("We are open %s. We are closed on Sundays.", e.cfg.HoursLine)
		}
		return "We are open Monday to Saturday, 9:00 AM to 6:00 PM. We are closed on Sundays."
	case IntentClinicLocation:
		if e.cfg.Address != "" {
			return fmt.Sprintf("You can find us at: %s", e.cfg.Address)
		}
		return "Please call our front desk for directions to the clinic."
	case IntentListPackages:
		return e.packagesReply(ctx)
	case IntentHumanHandoff:
		return "Connecting you to our staff. Someone will reply on this number shortly."
	default:
		return "Sorry, I did not understand that. You can ask me to book an appointment, or about our timings, location and packages. Type \"agent\" to talk to our staff."
	}
}

func (e *Engine) packagesReply(ctx context.Context) string {
	if e.packages == nil {
		return "Please ask our front desk about the treatment packages we currently offer."
	}
	summaries, err := e.packages.PackageSummaries(ctx)
	if err != nil || len(summaries) == 0 {
		return "Please ask our front desk about the treatment packages we currently offer."
	}
	var sb strings.Builder
	sb.WriteString("Our current packages:\n")
	for _, s := range summaries {
		sb.WriteString("- ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	sb.WriteString("Reply with a package name to know more.")
	return sb.String()
}

// Conversation returns the chat history for a phone number.
func (e *Engine) Conversation(phone string) (*Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.conversations[phone]
	if !ok {
		return nil, fmt.Errorf("no conversation for %s", phone)
	}
	return conv, nil
}

// HandedOff lists conversations waiting for a human reply.
func (e *Engine) HandedOff() []*Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Conversation
	for _, conv := range e.conversations {
		if conv.HandedOff {
			out = append(out, conv)
		}
	}
	return out
}

// Stats summarizes chatbot traffic by intent.
func (e *Engine) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := map[string]int{"conversations": len(e.conversations)}
	for _, conv := range e.conversations {
		for _, msg := range conv.Messages {
			if msg.Direction == DirectionIn {
				stats[msg.Intent]++
			}
		}
	}
	return stats
}
