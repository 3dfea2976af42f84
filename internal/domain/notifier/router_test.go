package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/domain/dosealert"
	"github.com/abxguard/abxguard/internal/platform/notify"
)

type memStore struct {
	sent []uuid.UUID
	err  error
}

func (m *memStore) MarkSent(_ context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, id)
	return nil
}

type captureListener struct {
	events []DispatchEvent
	err    error
}

func (l *captureListener) OnDispatch(_ context.Context, ev DispatchEvent) error {
	l.events = append(l.events, ev)
	return l.err
}

func fastRetry() notify.RetryPolicy {
	return notify.RetryPolicy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}}
}

func newTestRouter(chat notify.ChatSender, email notify.EmailSender, store *memStore) *Router {
	r := NewRouter(chat, email, []string{"stewardship@hospital.test"}, store, zerolog.Nop())
	r.SetRetryPolicy(fastRetry())
	return r
}

func testAlert(severity string) *dosealert.Record {
	return &dosealert.Record{
		ID:          uuid.New(),
		PatientID:   "pat-1",
		PatientMRN:  "MRN-1001",
		PatientName: "Jordan Feld",
		Drug:        "vancomycin",
		Indication:  "c_diff",
		FlagType:    "wrong_route",
		Severity:    severity,
		Message:     "IV vancomycin ordered for C. difficile colitis",
		Expected:    "PO/NG route",
		Actual:      "IV route",
		RuleSource:  "IDSA/SHEA CDI guideline",
		Status:      dosealert.StatusPending,
	}
}

func TestDispatchCriticalChatAndEmail(t *testing.T) {
	chat := &notify.MockChatSender{}
	email := &notify.MockEmailSender{}
	store := &memStore{}
	r := newTestRouter(chat, email, store)
	rec := testAlert("critical")

	if err := r.Dispatch(context.Background(), rec); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(chat.Calls()) != 1 || len(email.Calls()) != 1 {
		t.Fatalf("chat calls = %d, email calls = %d, want 1 and 1", len(chat.Calls()), len(email.Calls()))
	}
	if len(store.sent) != 1 || store.sent[0] != rec.ID {
		t.Error("record should be marked sent")
	}

	msg := chat.Calls()[0].Message
	if !strings.Contains(msg, "[CRITICAL]") || !strings.Contains(msg, "vancomycin") {
		t.Errorf("chat message missing severity or drug:\n%s", msg)
	}
	mail := email.Calls()[0]
	if mail.To[0] != "stewardship@hospital.test" {
		t.Errorf("email recipient = %v", mail.To)
	}
	if !strings.Contains(mail.Subject, "CRITICAL") || !strings.Contains(mail.Body, "MRN-1001") {
		t.Error("email subject or body missing alert details")
	}
}

func TestDispatchCriticalChatIsTheGate(t *testing.T) {
	chat := &notify.MockChatSender{ShouldFail: true}
	email := &notify.MockEmailSender{}
	store := &memStore{}
	r := newTestRouter(chat, email, store)

	err := r.Dispatch(context.Background(), testAlert("critical"))
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("err = %v, want ErrDispatchFailed", err)
	}
	if len(chat.Calls()) != 3 {
		t.Errorf("chat attempts = %d, want 3", len(chat.Calls()))
	}
	if len(email.Calls()) != 0 {
		t.Error("email should not be attempted when the chat gate fails")
	}
	if len(store.sent) != 0 {
		t.Error("record must stay pending after a failed dispatch")
	}
}

func TestDispatchCriticalEmailFailureNonBlocking(t *testing.T) {
	chat := &notify.MockChatSender{}
	email := &notify.MockEmailSender{ShouldFail: true}
	store := &memStore{}
	r := newTestRouter(chat, email, store)
	rec := testAlert("critical")

	if err := r.Dispatch(context.Background(), rec); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.sent) != 1 {
		t.Error("chat delivery alone should mark the record sent")
	}
}

func TestDispatchCriticalRetriesTransientChat(t *testing.T) {
	chat := &notify.MockChatSender{FailTimes: 2}
	email := &notify.MockEmailSender{}
	store := &memStore{}
	r := newTestRouter(chat, email, store)

	if err := r.Dispatch(context.Background(), testAlert("critical")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(chat.Calls()) != 3 {
		t.Errorf("chat attempts = %d, want 3", len(chat.Calls()))
	}
	if len(store.sent) != 1 {
		t.Error("record should be sent once the retry lands")
	}
}

func TestDispatchCriticalFallsBackToEmail(t *testing.T) {
	email := &notify.MockEmailSender{}
	store := &memStore{}
	r := newTestRouter(nil, email, store)

	if err := r.Dispatch(context.Background(), testAlert("critical")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(email.Calls()) != 1 || len(store.sent) != 1 {
		t.Error("email should carry the dispatch when chat is not configured")
	}
}

func TestDispatchHighEmailOnly(t *testing.T) {
	chat := &notify.MockChatSender{}
	email := &notify.MockEmailSender{}
	store := &memStore{}
	r := newTestRouter(chat, email, store)

	if err := r.Dispatch(context.Background(), testAlert("high")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(chat.Calls()) != 0 {
		t.Error("high severity must not page chat")
	}
	if len(email.Calls()) != 1 || len(store.sent) != 1 {
		t.Error("high severity should email and mark sent")
	}
}

func TestDispatchHighEmailFailure(t *testing.T) {
	email := &notify.MockEmailSender{ShouldFail: true}
	store := &memStore{}
	r := newTestRouter(&notify.MockChatSender{}, email, store)

	err := r.Dispatch(context.Background(), testAlert("high"))
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("err = %v, want ErrDispatchFailed", err)
	}
	if len(store.sent) != 0 {
		t.Error("record must stay pending")
	}
}

func TestDispatchModerateStaysOnDashboard(t *testing.T) {
	chat := &notify.MockChatSender{}
	email := &notify.MockEmailSender{}
	store := &memStore{}
	r := newTestRouter(chat, email, store)

	if err := r.Dispatch(context.Background(), testAlert("moderate")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(chat.Calls()) != 0 || len(email.Calls()) != 0 {
		t.Error("moderate severity must not dispatch externally")
	}
	if len(store.sent) != 0 {
		t.Error("moderate record stays pending for the dashboard")
	}
}

func TestDispatchUnconfiguredChannelsLeavePending(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(nil, nil, store)

	if err := r.Dispatch(context.Background(), testAlert("critical")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(store.sent) != 0 {
		t.Error("no channels configured, record must stay pending")
	}
}

func TestListenersObserveSuccessfulDispatch(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(&notify.MockChatSender{}, &notify.MockEmailSender{}, store)
	good := &captureListener{}
	bad := &captureListener{err: errors.New("listener boom")}
	r.AddListener(bad)
	r.AddListener(good)
	rec := testAlert("critical")

	if err := r.Dispatch(context.Background(), rec); err != nil {
		t.Fatalf("listener failure must not fail the dispatch: %v", err)
	}
	if len(good.events) != 1 {
		t.Fatalf("events = %d, want 1", len(good.events))
	}
	ev := good.events[0]
	if ev.Alert.ID != rec.ID {
		t.Error("event should carry the dispatched record")
	}
	if len(ev.Channels) != 2 || ev.Channels[0] != ChannelChat || ev.Channels[1] != ChannelEmail {
		t.Errorf("channels = %v, want [chat email]", ev.Channels)
	}
}

func TestDispatchToleratesConcurrentTransition(t *testing.T) {
	store := &memStore{err: dosealert.ErrInvalidTransition}
	r := newTestRouter(&notify.MockChatSender{}, &notify.MockEmailSender{}, store)

	if err := r.Dispatch(context.Background(), testAlert("critical")); err != nil {
		t.Fatalf("an already-transitioned record is not a dispatch failure: %v", err)
	}
}
