package notification

import (
	"context"
	"fmt"
	"sync"
)

// Call records a single send attempt made against a mock sender.
type Call struct {
	To   string
	Body string
}

// MockWhatsAppSender records WhatsApp sends for tests and dev environments
// without Twilio credentials.
type MockWhatsAppSender struct {
	mu    sync.Mutex
	calls []Call
	// FailNext makes the next send return an error.
	FailNext bool
}

func (m *MockWhatsAppSender) SendWhatsApp(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return "", fmt.Errorf("simulated whatsapp failure")
	}
	m.calls = append(m.calls, Call{To: to, Body: body})
	return fmt.Sprintf("SM%04d", len(m.calls)), nil
}

func (m *MockWhatsAppSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSMSSender records SMS sends.
type MockSMSSender struct {
	mu    sync.Mutex
	calls []Call
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{To: to, Body: body})
	return fmt.Sprintf("SM%04d", len(m.calls)), nil
}

func (m *MockSMSSender) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
