package resilience

import (
	"errors"
	"testing"
	"time"

)

func TestDeadLetterBackoff(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"first retry", 0, 10 * time.Minute},
		{"second retry", 1, 20 * time.Minute},
		{"third retry", 2, 40 * time.Minute},
		{"capped", 5, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeadLetterBackoff(tt.retryCount, 10*time.Minute, time.Hour); got != tt.want {
				t.Errorf("DeadLetterBackoff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeadLetterBackoff_Defaults(t *testing.T) {
	if got := DeadLetterBackoff(0, 0, 0); got != 15*time.Minute {
		t.Errorf("DeadLetterBackoff() = %v, want 15m", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}
