package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestManager(t *testing.T) {
	manager := NewManager(testLogger())

	config := Config{
		MaxFailures: 3,
		Timeout:     100 * time.Millisecond,
		MaxRequests: 2,
	}

	cb := manager.GetOrCreate("branch-catalog", config)
	if cb == nil {
		t.Fatal("Expected circuit breaker, got nil")
	}

	// Getting the same name should return the same instance.
	if manager.GetOrCreate("branch-catalog", config) != cb {
		t.Error("Expected same circuit breaker instance")
	}

	if manager.Get("branch-catalog") != cb {
		t.Error("Expected to get the registered breaker")
	}
	if manager.Get("non-existent") != nil {
		t.Error("Expected nil for non-existent circuit breaker")
	}

	other := manager.GetOrCreate("payment-gateway", config)
	if other == cb {
		t.Error("Expected different circuit breaker instances")
	}

	metrics := manager.GetAllMetrics()
	if len(metrics) != 2 {
		t.Errorf("Expected 2 circuit breakers in metrics, got %d", len(metrics))
	}

	cb.Execute(func() error { return errors.New("test failure") })
	if cb.Metrics()["failures"].(int) != 1 {
		t.Error("Expected 1 failure")
	}

	if !manager.Reset("branch-catalog") {
		t.Error("Expected reset to find the breaker")
	}
	if cb.Metrics()["failures"].(int) != 0 {
		t.Error("Expected 0 failures after reset")
	}

	if manager.Reset("non-existent") {
		t.Error("Expected reset of unknown breaker to return false")
	}
}
