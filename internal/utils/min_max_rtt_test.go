package utils_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/utils"
)

var _ = Describe("MinMaxRTT.HyStartTest", func() {
	It("never trips while filling the initial window with a flat baseline", func() {
		var m utils.MinMaxRTT
		base := time.Unix(1700000000, 0)
		for i := 0; i < utils.MinMaxRTTScope; i++ {
			tripped := m.HyStartTest(100*time.Millisecond, base.Add(time.Duration(i)*2*time.Millisecond))
			Expect(tripped).To(BeFalse())
		}
		Expect(m.FilteredMin()).To(Equal(100 * time.Millisecond))
	})

	It("trips on exactly the scope-th sample of monotonically rising, threshold-crossing RTTs", func() {
		var m utils.MinMaxRTT
		base := time.Unix(1700000000, 0)
		now := base
		step := func() time.Time {
			now = now.Add(2 * time.Millisecond)
			return now
		}

		for i := 0; i < utils.MinMaxRTTScope; i++ {
			Expect(m.HyStartTest(100*time.Millisecond, step())).To(BeFalse())
		}

		// The ring keeps sliding for as long as a stale low sample from the
		// baseline window is still present; a 5ms-a-step, 30%-over-baseline
		// climb only starts registering excess samples once the window has
		// fully turned over, and 8 (SCOPE) consecutive excess samples are
		// needed after that to actually trip.
		val := 130 * time.Millisecond
		trippedAt := -1
		for i := 0; i < 20; i++ {
			tripped := m.HyStartTest(val, step())
			if tripped {
				trippedAt = i
				break
			}
			val += 5 * time.Millisecond
		}

		Expect(trippedAt).To(Equal(14))
	})
})
