package registry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rohan-flutterint/minum/registry"
	"github.com/rohan-flutterint/minum/test_util"
	"github.com/rohan-flutterint/minum/wire"
)

func respondingWith(code int) registry.Handler {
	return registry.HandlerFunc(func(wire.Request) wire.Response {
		return wire.EmptyResponse(code)
	})
}

var _ = Describe("HandlerRegistry", func() {
	var r *registry.HandlerRegistry

	BeforeEach(func() {
		r = registry.NewHandlerRegistry(test_util.NewTestZapLogger("test"))
	})

	It("returns nil on a miss", func() {
		Expect(r.Lookup(wire.MethodGet, "nope")).To(BeNil())
	})

	It("finds a registered handler", func() {
		r.Register(wire.MethodGet, "/photos", respondingWith(200))

		h := r.Lookup(wire.MethodGet, "photos")
		Expect(h).NotTo(BeNil())
		Expect(h.Handle(wire.Request{}).Code).To(Equal(200))
	})

	It("keys on the method as well as the path", func() {
		r.Register(wire.MethodGet, "/photos", respondingWith(200))

		Expect(r.Lookup(wire.MethodPost, "photos")).To(BeNil())
	})

	It("is case-insensitive on path: registrations differing only in case collide", func() {
		r.Register(wire.MethodGet, "/Photos", respondingWith(200))
		r.Register(wire.MethodGet, "/photos", respondingWith(204))

		Expect(r.NumHandlers()).To(Equal(1))
		h := r.Lookup(wire.MethodGet, "PHOTOS")
		Expect(h.Handle(wire.Request{}).Code).To(Equal(204))
	})

	It("normalizes the leading slash away", func() {
		r.Register(wire.MethodGet, "photos", respondingWith(200))

		Expect(r.Lookup(wire.MethodGet, "/photos")).NotTo(BeNil())
	})

	It("overwrites on duplicate registration", func() {
		r.RegisterFunc(wire.MethodPost, "/upload", func(wire.Request) wire.Response {
			return wire.EmptyResponse(201)
		})
		r.RegisterFunc(wire.MethodPost, "/upload", func(wire.Request) wire.Response {
			return wire.EmptyResponse(202)
		})

		h := r.Lookup(wire.MethodPost, "upload")
		Expect(h.Handle(wire.Request{}).Code).To(Equal(202))
	})
})
