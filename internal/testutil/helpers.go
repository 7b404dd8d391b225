package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// RunConcurrent executes the given function concurrently n times.
// Waits for all goroutines to complete before returning.
// Any panics are captured and reported as test failures.
func RunConcurrent(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		go func(workerID int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("worker %d panicked: %v", workerID, r)
				}
			}()
			fn(workerID)
		}(i)
	}

	wg.Wait()
}

// ErrorInjector provides systematic error injection for testing
type ErrorInjector struct {
	errors    map[string]error
	remaining map[string]int
	counts    map[string]int
	mu        sync.Mutex
}

// NewErrorInjector creates a new error injector
func NewErrorInjector() *ErrorInjector {
	return &ErrorInjector{
		errors:    make(map[string]error),
		remaining: make(map[string]int),
		counts:    make(map[string]int),
	}
}

// InjectError configures an error to be returned for every call with key
func (e *ErrorInjector) InjectError(key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[key] = err
	delete(e.remaining, key)
}

// InjectErrorTimes configures an error for the next n calls with key, after
// which calls succeed again
func (e *ErrorInjector) InjectErrorTimes(key string, n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[key] = err
	e.remaining[key] = n
}

// ShouldError checks if an error should be returned for the given key
func (e *ErrorInjector) ShouldError(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counts[key]++

	err, exists := e.errors[key]
	if !exists {
		return nil
	}

	if n, limited := e.remaining[key]; limited {
		if n <= 0 {
			return nil
		}

		e.remaining[key] = n - 1
	}

	return err
}

// GetCount returns the number of times a key was checked
func (e *ErrorInjector) GetCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[key]
}

// CountPrefix sums counts over keys starting with prefix
func (e *ErrorInjector) CountPrefix(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0

	for k, v := range e.counts {
		if strings.HasPrefix(k, prefix) {
			total += v
		}
	}

	return total
}

// Key joins parts into an injector key
func Key(parts ...interface{}) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}

	return strings.Join(s, ":")
}
