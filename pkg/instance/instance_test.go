package instance_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stockroom-pos/desktop/pkg/instance"
)

var _ = Describe("Instance lock", func() {
	var dir string

	BeforeEach(func() {
		var err error
		// unix socket paths are length limited, keep it short
		dir, err = os.MkdirTemp("", "sr")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("refuses a second holder", func() {
		first, err := instance.Acquire(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		defer first.Release()

		second, err := instance.Acquire(dir, "app")
		Expect(err).To(MatchError(instance.ErrAlreadyRunning))
		Expect(second).To(BeNil())
	})

	It("can be re-acquired after release", func() {
		first, err := instance.Acquire(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		Expect(first.Release()).To(Succeed())
		Expect(first.Release()).To(Succeed())

		again, err := instance.Acquire(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		Expect(again.Release()).To(Succeed())
	})

	It("reports the holder pid", func() {
		pid, err := instance.Holder(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		Expect(pid).To(BeZero())

		l, err := instance.Acquire(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		defer l.Release()

		pid, err = instance.Holder(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		Expect(pid).To(Equal(os.Getpid()))
	})

	It("delivers forwarded invocations to the holder", func() {
		l, err := instance.Acquire(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		defer l.Release()

		received := make(chan instance.Invocation, 1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Serve(ctx, func(inv instance.Invocation) { received <- inv })

		Eventually(func() error {
			_, err := os.Stat(filepath.Join(dir, "app.sock"))
			return err
		}).Should(Succeed())

		inv := instance.NewInvocation([]string{"--open", "grn"})
		Expect(instance.Forward(dir, "app", inv)).To(Succeed())

		var got instance.Invocation
		Eventually(received).Should(Receive(&got))
		Expect(got.ID).To(Equal(inv.ID))
		Expect(got.Args).To(Equal([]string{"--open", "grn"}))
	})

	It("replaces a stale socket left by a crashed holder", func() {
		Expect(os.WriteFile(filepath.Join(dir, "app.sock"), []byte("stale"), 0o644)).To(Succeed())

		l, err := instance.Acquire(dir, "app")
		Expect(err).ToNot(HaveOccurred())
		defer l.Release()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- l.Serve(ctx, func(instance.Invocation) {}) }()

		Eventually(func() error {
			return instance.Forward(dir, "app", instance.NewInvocation(nil))
		}).Should(Succeed())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("fails to forward when nobody is listening", func() {
		Expect(instance.Forward(dir, "app", instance.NewInvocation(nil))).ToNot(Succeed())
	})
})
