package memo

import (
	"testing"

	"go.uber.org/goleak"
)

// Debouncer timers and singleflight callers must not outlive their tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
