package orchestration

import (
	"fmt"
)

// panicSafeCallback invokes callback and converts a panic into a logged
// error so that a misbehaving callback cannot stop the dispatch loop.
func panicSafeCallback(name string, callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("callback panicked", "callback", name, "error", fmt.Errorf("%s callback panicked: %v", name, recovered))
		}
	}()

	callback()
}

func notify[T any](name string, callback func(T), value T) {
	if callback == nil {
		return
	}
	panicSafeCallback(name, func() { callback(value) })
}
