package reviewqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/abxguard/abxguard/internal/platform/auth"
)

func invoke(t *testing.T, h echo.HandlerFunc, method, target, body string, params map[string]string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(context.WithValue(req.Context(), auth.UserNameKey, "rx.lopez"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	return rec, h(c)
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestReviewHandlerRecordsReviewer(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	entry := queueEntry(ModuleDosing, "critical")
	if err := svc.Push(context.Background(), entry); err != nil {
		t.Fatalf("Push: %v", err)
	}

	rec, err := invoke(t, h.ReviewAlertDecision, http.MethodPost, "/review-alerts/"+entry.ID.String()+"/review",
		`{"status": "reviewed"}`, map[string]string{"id": entry.ID.String()})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got ReviewAlert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ReviewedBy == nil || *got.ReviewedBy != "rx.lopez" {
		t.Error("reviewer should come from the auth context")
	}
}

func TestReviewHandlerConflictWhenDecided(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()
	entry := queueEntry(ModuleDosing, "high")
	if err := svc.Push(ctx, entry); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := svc.Review(ctx, entry.ID, "rx.chen", StatusDismissed); err != nil {
		t.Fatalf("Review: %v", err)
	}

	_, err := invoke(t, h.ReviewAlertDecision, http.MethodPost, "/review-alerts/"+entry.ID.String()+"/review",
		`{"status": "reviewed"}`, map[string]string{"id": entry.ID.String()})
	if code := httpStatus(t, err); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestReviewHandlerBadDecision(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	entry := queueEntry(ModuleDosing, "high")
	if err := svc.Push(context.Background(), entry); err != nil {
		t.Fatalf("Push: %v", err)
	}

	_, err := invoke(t, h.ReviewAlertDecision, http.MethodPost, "/review-alerts/"+entry.ID.String()+"/review",
		`{"status": "snoozed"}`, map[string]string{"id": entry.ID.String()})
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}

	_, err = invoke(t, h.ReviewAlertDecision, http.MethodPost, "/review-alerts/not-a-uuid/review",
		`{"status": "reviewed"}`, map[string]string{"id": "not-a-uuid"})
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a bad id", code)
	}
}

func TestListHandlerFilters(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()
	for _, a := range []*ReviewAlert{
		queueEntry(ModuleDosing, "critical"),
		queueEntry(ModuleDosing, "high"),
		queueEntry("iv2po", "critical"),
	} {
		if err := svc.Push(ctx, a); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	rec, err := invoke(t, h.ListReviewAlerts, http.MethodGet,
		"/review-alerts?module=dosing&severity=critical", "", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var resp struct {
		Data  []*ReviewAlert `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Fatalf("total = %d, items = %d, want 1 and 1", resp.Total, len(resp.Data))
	}
	if resp.Data[0].Module != ModuleDosing || resp.Data[0].Severity != "critical" {
		t.Error("filter returned the wrong entry")
	}
}
