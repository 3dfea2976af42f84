package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

func invoke(t *testing.T, h echo.HandlerFunc, target string, params map[string]string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, nil)
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

func TestTriggerRunReturnsStats(t *testing.T) {
	src := newMemSource(cdiIVPatient("p1", "MRN-1001"))
	alerts := newMemAlerts()
	h := NewHandler(newTestMonitor(src, alerts, &memDispatcher{}, Config{}))

	rec, err := invoke(t, h.TriggerRun, "/monitor/run", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats PassStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Patients != 1 || stats.NewAlerts == 0 {
		t.Errorf("patients = %d, new_alerts = %d", stats.Patients, stats.NewAlerts)
	}
}

func TestTriggerRunDryRunParam(t *testing.T) {
	src := newMemSource(cdiIVPatient("p1", "MRN-1001"))
	alerts := newMemAlerts()
	h := NewHandler(newTestMonitor(src, alerts, &memDispatcher{}, Config{}))

	rec, err := invoke(t, h.TriggerRun, "/monitor/run?dry_run=true", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var stats PassStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !stats.DryRun {
		t.Error("stats should report dry run")
	}
	if len(alerts.saved) != 0 {
		t.Error("dry run trigger must not persist alerts")
	}
}

func TestTriggerPatientRunNotFound(t *testing.T) {
	h := NewHandler(newTestMonitor(newMemSource(), newMemAlerts(), &memDispatcher{}, Config{}))

	_, err := invoke(t, h.TriggerPatientRun, "/monitor/patients/ghost/run", map[string]string{"id": "ghost"})
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestTriggerPatientRunSourceDown(t *testing.T) {
	src := newMemSource()
	src.failIDs["p1"] = fmt.Errorf("%w: dial tcp", patientcontext.ErrSourceUnreachable)
	h := NewHandler(newTestMonitor(src, newMemAlerts(), &memDispatcher{}, Config{}))

	_, err := invoke(t, h.TriggerPatientRun, "/monitor/patients/p1/run", map[string]string{"id": "p1"})
	if code := httpStatus(t, err); code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
}

func TestTriggerPatientRunOK(t *testing.T) {
	src := newMemSource(cdiIVPatient("p1", "MRN-1001"))
	h := NewHandler(newTestMonitor(src, newMemAlerts(), &memDispatcher{}, Config{}))

	rec, err := invoke(t, h.TriggerPatientRun, "/monitor/patients/p1/run", map[string]string{"id": "p1"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats PassStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Evaluated != 1 {
		t.Errorf("evaluated = %d, want 1", stats.Evaluated)
	}
}
