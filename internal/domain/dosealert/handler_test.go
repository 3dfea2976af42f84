package dosealert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/abxguard/abxguard/internal/platform/auth"
)

// invoke runs one handler directly, with the performer attached the way the
// auth middleware would attach it.
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
	var names, values []string
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
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

func TestAcknowledgeHandlerNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)

	_, err := invoke(t, h.AcknowledgeDoseAlert, http.MethodPost, "/", "",
		map[string]string{"id": uuid.NewString()})
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestAcknowledgeHandlerRecordsPerformer(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	saved := testRecord("MRN-1001", "cefepime", "subtherapeutic_dose", "high")
	if err := svc.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := invoke(t, h.AcknowledgeDoseAlert, http.MethodPost, "/", "",
		map[string]string{"id": saved.ID.String()})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusAcknowledged {
		t.Errorf("status = %s, want acknowledged", got.Status)
	}
	if got.AcknowledgedBy == nil || *got.AcknowledgedBy != "rx.lopez" {
		t.Error("performer from the token should be recorded")
	}
}

func TestResolveHandlerConflictOnResolved(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	saved := testRecord("MRN-1001", "vancomycin", "wrong_route", "critical")
	if err := svc.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := svc.Resolve(context.Background(), saved.ID, "rx.chen", ReasonRouteChanged, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	_, err := invoke(t, h.ResolveDoseAlert, http.MethodPost, "/",
		`{"reason":"dose_adjusted"}`, map[string]string{"id": saved.ID.String()})
	if code := httpStatus(t, err); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestResolveHandlerOK(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	saved := testRecord("MRN-1001", "gentamicin", "weight_dose_mismatch", "high")
	if err := svc.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := invoke(t, h.ResolveDoseAlert, http.MethodPost, "/",
		`{"reason":"dose_adjusted","notes":"corrected on rounds"}`,
		map[string]string{"id": saved.ID.String()})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
	if got.ResolvedBy == nil || *got.ResolvedBy != "rx.lopez" {
		t.Error("resolver should come from the token")
	}
	if got.Notes == nil || !strings.Contains(*got.Notes, "corrected on rounds") {
		t.Error("notes should be recorded")
	}
}

func TestResolveHandlerBadReason(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	saved := testRecord("MRN-1001", "gentamicin", "weight_dose_mismatch", "high")
	if err := svc.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := invoke(t, h.ResolveDoseAlert, http.MethodPost, "/",
		`{"reason":"fixed"}`, map[string]string{"id": saved.ID.String()})
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestListHandlerStatusSwitch(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()

	active := testRecord("MRN-1001", "cefepime", "subtherapeutic_dose", "high")
	done := testRecord("MRN-1002", "vancomycin", "wrong_route", "critical")
	for _, r := range []*Record{active, done} {
		if err := svc.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, err := svc.Resolve(ctx, done.ID, "rx.lopez", ReasonRouteChanged, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	type listResponse struct {
		Data  []*Record `json:"data"`
		Total int       `json:"total"`
	}

	rec, err := invoke(t, h.ListDoseAlerts, http.MethodGet, "/dose-alerts", "", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var activeResp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &activeResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if activeResp.Total != 1 || activeResp.Data[0].Drug != "cefepime" {
		t.Errorf("active listing = %+v, want only the cefepime alert", activeResp)
	}

	rec, err = invoke(t, h.ListDoseAlerts, http.MethodGet, "/dose-alerts?status=resolved", "", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var resolvedResp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resolvedResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resolvedResp.Total != 1 || resolvedResp.Data[0].Drug != "vancomycin" {
		t.Errorf("resolved listing = %+v, want only the vancomycin alert", resolvedResp)
	}
}

func TestListHandlerSeverityFilter(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()

	crit := testRecord("MRN-1001", "vancomycin", "contraindicated", "critical")
	high := testRecord("MRN-1002", "cefepime", "missing_renal_adjustment", "high")
	for _, r := range []*Record{crit, high} {
		if err := svc.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rec, err := invoke(t, h.ListDoseAlerts, http.MethodGet, "/dose-alerts?severity=critical", "", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var resp struct {
		Data  []*Record `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || resp.Data[0].Severity != "critical" {
		t.Errorf("filtered listing = %+v, want only the critical alert", resp)
	}
}

func TestGetHandlerInvalidID(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)

	_, err := invoke(t, h.GetDoseAlert, http.MethodGet, "/", "",
		map[string]string{"id": "not-a-uuid"})
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestAddNoteHandlerValidation(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	saved := testRecord("MRN-1001", "cefepime", "extended_infusion_candidate", "moderate")
	if err := svc.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := invoke(t, h.AddDoseAlertNote, http.MethodPost, "/",
		`{"text":"  "}`, map[string]string{"id": saved.ID.String()})
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestAnalyticsHandlerWindow(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)

	rec, err := invoke(t, h.GetAnalytics, http.MethodGet, "/dose-alerts/analytics?window_days=7", "", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var a Analytics
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.WindowDays != 7 {
		t.Errorf("window days = %d, want 7", a.WindowDays)
	}
}

func TestPatientAlertsHandler(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()

	for _, r := range []*Record{
		testRecord("MRN-2001", "cefepime", "subtherapeutic_dose", "high"),
		testRecord("MRN-2001", "vancomycin", "weight_dose_mismatch", "high"),
		testRecord("MRN-2002", "meropenem", "drug_interaction", "high"),
	} {
		if err := svc.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rec, err := invoke(t, h.ListPatientDoseAlerts, http.MethodGet, "/", "",
		map[string]string{"mrn": "MRN-2001"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var got []*Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("patient alerts = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.PatientMRN != "MRN-2001" {
			t.Errorf("unexpected patient %s in listing", r.PatientMRN)
		}
	}
}
