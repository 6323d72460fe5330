package config

import "testing"

func prodConfig() *Config {
	return &Config{
		Env:                 "production",
		AuthHMACKey:         "secret",
		DueDaysCheckup:      7,
		DueDaysProcedure:    30,
		DueDaysLab:          15,
		DueDaysPrescription: 7,
	}
}

func TestValidateRequiresAuthOutsideDev(t *testing.T) {
	cfg := prodConfig()
	cfg.AuthHMACKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without any auth configuration")
	}

	cfg.AuthJWKSURL = "https://idp.example.com/jwks"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with JWKS configured: %v", err)
	}
}

func TestValidateSkipsAuthCheckInDev(t *testing.T) {
	cfg := &Config{Env: "development"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error in dev mode: %v", err)
	}
}

func TestValidateRejectsNonPositiveDueDays(t *testing.T) {
	cfg := prodConfig()
	cfg.DueDaysLab = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for a zero due-day offset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/dentms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("port = %q, want 8000", cfg.Port)
	}
	if cfg.DueDaysProcedure != 30 {
		t.Errorf("procedure due days = %d, want 30", cfg.DueDaysProcedure)
	}
	if cfg.AdvancePaymentPct != 25 {
		t.Errorf("advance pct = %d, want 25", cfg.AdvancePaymentPct)
	}
	if cfg.DefaultFeeCheckup != 50 {
		t.Errorf("checkup default fee = %v, want 50", cfg.DefaultFeeCheckup)
	}
}
