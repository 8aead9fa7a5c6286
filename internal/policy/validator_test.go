package policy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/errs"
)

func TestResolveTTL(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
		wantErr   bool
	}{
		{"zero selects default", 0, 300 * time.Second, false},
		{"lower bound", 60 * time.Second, 60 * time.Second, false},
		{"upper bound", 3600 * time.Second, 3600 * time.Second, false},
		{"below minimum", 59 * time.Second, 0, true},
		{"above maximum", 3601 * time.Second, 0, true},
		{"negative", -time.Second, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ResolveTTL(tt.requested)
			if tt.wantErr {
				if !errors.Is(err, errs.ErrValidation) {
					t.Fatalf("ResolveTTL(%v) error = %v, want ErrValidation", tt.requested, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveTTL(%v) error = %v", tt.requested, err)
			}
			if got != tt.want {
				t.Fatalf("ResolveTTL(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestRequestExpiry(t *testing.T) {
	v := NewValidator(nil)
	if got := v.RequestExpiry(true); got != 5*time.Minute {
		t.Errorf("RequestExpiry(emergency) = %v, want 5m", got)
	}
	if got := v.RequestExpiry(false); got != 60*time.Minute {
		t.Errorf("RequestExpiry(standard) = %v, want 60m", got)
	}
}

func TestValidatorFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Token.DefaultTTL = "2m"
	cfg.Requests.EmergencyExpiry = "90s"

	v := NewValidator(cfg)
	if got, _ := v.ResolveTTL(0); got != 2*time.Minute {
		t.Errorf("ResolveTTL(0) = %v, want 2m", got)
	}
	if got := v.RequestExpiry(true); got != 90*time.Second {
		t.Errorf("RequestExpiry(emergency) = %v, want 90s", got)
	}
}

func TestValidateCreateRequest(t *testing.T) {
	v := NewValidator(nil)

	if err := v.ValidateCreateRequest("dr-a", "stroke code", "pacs", "radiology/admin"); err != nil {
		t.Fatalf("ValidateCreateRequest() error = %v", err)
	}

	tests := []struct {
		name                          string
		requester, reason, vault, path string
	}{
		{"missing requester", "", "r", "v", "p"},
		{"blank reason", "u", "   ", "v", "p"},
		{"missing vault", "u", "r", "", "p"},
		{"missing path", "u", "r", "v", ""},
		{"reason too long", "u", strings.Repeat("x", maxReasonLength+1), "v", "p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCreateRequest(tt.requester, tt.reason, tt.vault, tt.path)
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("ValidateCreateRequest() error = %v, want ErrValidation", err)
			}
		})
	}
}
