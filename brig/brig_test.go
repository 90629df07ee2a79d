package brig_test

import (
	"os"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tedsuo/ifrit"

	"github.com/rohan-flutterint/minum/brig"
	"github.com/rohan-flutterint/minum/test_util"
)

var _ = Describe("Brig", func() {
	var (
		clk *fakeclock.FakeClock
		b   *brig.Brig
	)

	tokens := []string{".php", ".env", "wp-login", "admin.cgi", "/cgi-bin/"}

	BeforeEach(func() {
		clk = fakeclock.NewFakeClock(time.Now())
		b = brig.NewBrig(test_util.NewTestZapLogger("test"), clk, true, tokens)
	})

	Describe("jailing", func() {
		It("holds a key for the whole sentence and frees it afterwards", func() {
			b.SendToJail("10.0.0.1_vuln_seeking", 10*time.Second)

			Expect(b.IsInJail("10.0.0.1_vuln_seeking")).To(BeTrue())

			clk.Increment(9 * time.Second)
			Expect(b.IsInJail("10.0.0.1_vuln_seeking")).To(BeTrue())

			clk.Increment(2 * time.Second)
			Expect(b.IsInJail("10.0.0.1_vuln_seeking")).To(BeFalse())
		})

		It("evicts an expired key lazily on lookup", func() {
			b.SendToJail("k", time.Second)
			clk.Increment(2 * time.Second)

			Expect(b.IsInJail("k")).To(BeFalse())
			Expect(b.NumInmates()).To(BeZero())
		})

		It("overwrites the sentence on a repeat offense", func() {
			b.SendToJail("k", time.Second)
			b.SendToJail("k", time.Minute)

			clk.Increment(30 * time.Second)
			Expect(b.IsInJail("k")).To(BeTrue())
		})

		It("does not know keys it never jailed", func() {
			Expect(b.IsInJail("stranger")).To(BeFalse())
		})
	})

	Describe("IsLookingForSuspiciousPaths", func() {
		It("matches honeypot tokens anywhere in the path, ignoring case", func() {
			Expect(b.IsLookingForSuspiciousPaths("/WP-LOGIN.php")).To(BeTrue())
			Expect(b.IsLookingForSuspiciousPaths("/site/.env")).To(BeTrue())
			Expect(b.IsLookingForSuspiciousPaths("/cgi-bin/test")).To(BeTrue())
		})

		It("passes ordinary paths", func() {
			Expect(b.IsLookingForSuspiciousPaths("/index.html")).To(BeFalse())
			Expect(b.IsLookingForSuspiciousPaths("/photos")).To(BeFalse())
		})
	})

	Describe("Prune", func() {
		It("evicts only expired entries", func() {
			b.SendToJail("old", time.Second)
			b.SendToJail("young", time.Hour)
			clk.Increment(time.Minute)

			Expect(b.Prune()).To(Equal(1))
			Expect(b.NumInmates()).To(Equal(1))
			Expect(b.IsInJail("young")).To(BeTrue())
		})
	})

	Describe("when disabled", func() {
		BeforeEach(func() {
			b = brig.NewBrig(test_util.NewTestZapLogger("test"), clk, false, tokens)
		})

		It("never jails and never flags", func() {
			b.SendToJail("k", time.Hour)
			Expect(b.IsInJail("k")).To(BeFalse())
			Expect(b.NumInmates()).To(BeZero())
			Expect(b.IsLookingForSuspiciousPaths("/wp-login.php")).To(BeFalse())
		})
	})

	Describe("Sweeper", func() {
		It("prunes on every tick", func() {
			b.SendToJail("k", time.Second)

			sweeper := brig.NewSweeper(b, time.Minute, clk, test_util.NewTestZapLogger("test"))
			process := ifrit.Invoke(sweeper)
			defer process.Signal(os.Interrupt)

			clk.WaitForWatcherAndIncrement(time.Minute)
			Eventually(b.NumInmates).Should(BeZero())
		})
	})
})
