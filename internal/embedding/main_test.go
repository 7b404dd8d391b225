package embedding

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// started at init by the genai client's telemetry dependency
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}
