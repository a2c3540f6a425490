package events_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stockroom-pos/desktop/core/events"
)

var _ = Describe("Emitter", func() {
	It("delivers to every subscriber in order", func() {
		e := events.NewEmitter[int]()
		var got []string
		e.Subscribe(func(v int) { got = append(got, "a") })
		e.Subscribe(func(v int) { got = append(got, "b") })
		e.Emit(1)
		Expect(got).To(Equal([]string{"a", "b"}))
	})

	It("stops delivering after unsubscribe", func() {
		e := events.NewEmitter[string]()
		var got []string
		unsubscribe := e.Subscribe(func(v string) { got = append(got, v) })
		e.Emit("checking")
		unsubscribe()
		e.Emit("available")
		Expect(got).To(Equal([]string{"checking"}))
		Expect(e.Len()).To(BeZero())
	})

	It("lets a subscriber unsubscribe itself while being called", func() {
		e := events.NewEmitter[int]()
		calls := 0
		var unsubscribe func()
		unsubscribe = e.Subscribe(func(int) {
			calls++
			unsubscribe()
		})
		e.Emit(1)
		e.Emit(2)
		Expect(calls).To(Equal(1))
	})

	It("keeps going when a subscriber panics", func() {
		e := events.NewEmitter[int]()
		reached := false
		e.Subscribe(func(int) { panic("boom") })
		e.Subscribe(func(int) { reached = true })
		Expect(func() { e.Emit(1) }).ToNot(Panic())
		Expect(reached).To(BeTrue())
	})
})
