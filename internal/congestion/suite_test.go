package congestion

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// suite_test.go lives in package congestion (not congestion_test) because
// the transition specs below reach into CubicSender's unexported fields to
// set up exact preconditions (cwnd, ssthresh, W_max) the way a white-box
// unit test for a state machine normally does.
func TestCongestion(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "congestion suite")
}
