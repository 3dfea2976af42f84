package main

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/config"
	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

func TestNewLoggerLevel(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "warn"}
	logger := newLogger(cfg)
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %s", logger.GetLevel())
	}
}

func TestNewLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "shouty"}
	logger := newLogger(cfg)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level fallback, got %s", logger.GetLevel())
	}
}

func TestValidateEvaluateFlags(t *testing.T) {
	if err := validateEvaluateFlags(true, ""); err != nil {
		t.Errorf("unexpected error for --all: %v", err)
	}
	if err := validateEvaluateFlags(false, "fixture-001"); err != nil {
		t.Errorf("unexpected error for --patient: %v", err)
	}
	if err := validateEvaluateFlags(false, ""); err == nil {
		t.Error("expected error when neither --all nor --patient is given")
	}
	if err := validateEvaluateFlags(true, "fixture-001"); err == nil {
		t.Error("expected error when both --all and --patient are given")
	}
}

func TestBuildClinicalSourceFixture(t *testing.T) {
	cfg := &config.Config{DataSource: "fixture", FHIRTimeoutSeconds: 5}
	src, err := buildClinicalSource(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*patientcontext.StaticSource); !ok {
		t.Errorf("expected static source for fixture mode, got %T", src)
	}
}

func TestBuildClinicalSourceFHIR(t *testing.T) {
	cfg := &config.Config{
		DataSource:         "fhir",
		FHIRBaseURL:        "https://fhir.example.org/R4",
		FHIRTimeoutSeconds: 5,
	}
	src, err := buildClinicalSource(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*patientcontext.FHIRSource); !ok {
		t.Errorf("expected FHIR source, got %T", src)
	}
}

func TestBuildClinicalSourceRejectsBadFHIRURL(t *testing.T) {
	cfg := &config.Config{
		DataSource:         "fhir",
		FHIRBaseURL:        "ftp://fhir.example.org",
		FHIRTimeoutSeconds: 5,
	}
	if _, err := buildClinicalSource(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for non-http FHIR base url")
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := &config.Config{NotifyMaxAttempts: 5}
	p := retryPolicy(cfg)
	if p.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", p.MaxAttempts)
	}
	if len(p.Delays) == 0 {
		t.Error("expected the default backoff ladder to be kept")
	}
}

func TestFixtureOrderSummary(t *testing.T) {
	fixtures := patientcontext.DefaultFixtures()
	if len(fixtures) == 0 {
		t.Fatal("expected fixture patients")
	}

	got := fixtureOrderSummary(fixtures[0])
	if !strings.Contains(got, "Vancomycin") || !strings.Contains(got, "q12h") {
		t.Errorf("unexpected summary %q", got)
	}

	if got := fixtureOrderSummary(&patientcontext.StaticPatient{}); got != "no active antimicrobials" {
		t.Errorf("unexpected empty-order summary %q", got)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "monitor", "evaluate", "migrate", "seed"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}
