// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestMaxRows is the row cap used by synthesizer and gate tests
	TestMaxRows = 100

	// TestChunkSize is a small chunk size that forces multi-chunk output
	TestChunkSize = 160

	// TestDimensions is the embedding dimension used by fake providers
	TestDimensions = 16

	// TestModel is the embedding model identifier used by fake providers
	TestModel = "test-embed-v1"
)

// Common test identities
const (
	// UserA and UserB are distinct owners for isolation tests
	UserA = "user-a"
	UserB = "user-b"
)

// FixedNow is the reference clock for time_range tests (a Wednesday)
var FixedNow = time.Date(2024, time.March, 13, 15, 30, 0, 0, time.UTC)

// Clock returns FixedNow; pass it wherever a func() time.Time is expected
func Clock() time.Time {
	return FixedNow
}
