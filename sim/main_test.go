package sim

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	// Failing consumers log warnings the tests trigger on purpose.
	// DCSIM_TEST_LOG=debug go test ./sim/... -v shows them.
	level := logrus.ErrorLevel
	if v := os.Getenv("DCSIM_TEST_LOG"); v != "" {
		if l, err := logrus.ParseLevel(v); err == nil {
			level = l
		}
	}
	logrus.SetLevel(level)
	os.Exit(m.Run())
}
