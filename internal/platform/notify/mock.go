package notify

import (
	"context"
	"errors"
	"sync"
)

// ChatCall records a single call to SendChat.
type ChatCall struct {
	Message string
}

// MockChatSender is a test double for ChatSender.
type MockChatSender struct {
	mu         sync.Mutex
	calls      []ChatCall
	ShouldFail bool
	FailTimes  int // fail this many calls, then succeed; 0 with ShouldFail=true fails always
	FailError  string
}

// SendChat records the call and optionally returns an error.
func (m *MockChatSender) SendChat(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ChatCall{Message: message})
	return m.failure()
}

// Calls returns a copy of recorded chat calls.
func (m *MockChatSender) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockChatSender) failure() error {
	if m.FailTimes > 0 {
		m.FailTimes--
		return errors.New(m.failError())
	}
	if m.ShouldFail {
		return errors.New(m.failError())
	}
	return nil
}

func (m *MockChatSender) failError() string {
	if m.FailError == "" {
		return "chat send failed"
	}
	return m.FailError
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      []string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailTimes  int
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(to))
	copy(cp, to)
	m.calls = append(m.calls, EmailCall{To: cp, Subject: subject, Body: body})
	return m.failure()
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockEmailSender) failure() error {
	if m.FailTimes > 0 {
		m.FailTimes--
		return errors.New(m.failError())
	}
	if m.ShouldFail {
		return errors.New(m.failError())
	}
	return nil
}

func (m *MockEmailSender) failError() string {
	if m.FailError == "" {
		return "email send failed"
	}
	return m.FailError
}
