package uuid_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rohan-flutterint/minum/common/uuid"
)

var _ = Describe("GenerateUUID", func() {
	It("generates a v4 uuid string", func() {
		id, err := uuid.GenerateUUID()
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(MatchRegexp(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`))
	})

	It("does not repeat", func() {
		a, err := uuid.GenerateUUID()
		Expect(err).NotTo(HaveOccurred())
		b, err := uuid.GenerateUUID()
		Expect(err).NotTo(HaveOccurred())
		Expect(a).NotTo(Equal(b))
	})
})
