package quic

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// suite_test.go lives in package quic itself (not quic_test) because the
// path-finding and registry specs below exercise unexported fields the same
// way the teacher's own ginkgo specs sit alongside the package they cover.
func TestQuic(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "quic suite")
}
