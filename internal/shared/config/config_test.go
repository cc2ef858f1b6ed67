package config

import (
	"testing"
	"time"
)

func TestProviderBreakerDefaultsDifferByProvider(t *testing.T) {
	breakers := loadProviderBreakers()

	openai, ok := breakers["openai"]
	if !ok {
		t.Fatal("expected openai breaker settings")
	}
	textract, ok := breakers["textract"]
	if !ok {
		t.Fatal("expected textract breaker settings")
	}

	if openai.Timeout <= textract.Timeout {
		t.Fatalf("expected vision timeout above textract: %s vs %s", openai.Timeout, textract.Timeout)
	}
	if textract.FailureThreshold >= openai.FailureThreshold {
		t.Fatalf("expected textract to trip earlier: %d vs %d", textract.FailureThreshold, openai.FailureThreshold)
	}
}

func TestProviderBreakerEnvOverrides(t *testing.T) {
	t.Setenv("BREAKER_TEXTRACT_FAILURE_THRESHOLD", "7")
	t.Setenv("BREAKER_OPENAI_TIMEOUT_SECONDS", "120")
	t.Setenv("BREAKER_RETRY_TIMEOUT_SECONDS", "45")

	breakers := loadProviderBreakers()

	if got := breakers["textract"].FailureThreshold; got != 7 {
		t.Fatalf("textract threshold = %d, want 7", got)
	}
	if got := breakers["openai"].Timeout; got != 120*time.Second {
		t.Fatalf("openai timeout = %s, want 120s", got)
	}
	// The global knob reaches every provider without a specific override.
	for name, settings := range breakers {
		if settings.RetryTimeout != 45*time.Second {
			t.Fatalf("%s retry timeout = %s, want 45s", name, settings.RetryTimeout)
		}
	}
}

func TestProviderBreakerSpecificBeatsGlobal(t *testing.T) {
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "9")
	t.Setenv("BREAKER_GROK_FAILURE_THRESHOLD", "2")

	breakers := loadProviderBreakers()

	if got := breakers["grok"].FailureThreshold; got != 2 {
		t.Fatalf("grok threshold = %d, want 2", got)
	}
	if got := breakers["anthropic"].FailureThreshold; got != 9 {
		t.Fatalf("anthropic threshold = %d, want 9", got)
	}
}
