//go:build !windows

package supervisor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/pkg/health"
)

type captureSink struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
}

func (c *captureSink) Stdout(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout = append(c.stdout, line)
}

func (c *captureSink) Stderr(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderr = append(c.stderr, line)
}

func (c *captureSink) lines() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.stdout...), append([]string{}, c.stderr...)
}

var _ = Describe("Supervisor", func() {
	var (
		dir     string
		healthy atomic.Bool
		hits    atomic.Int32
		server  *httptest.Server
		sink    *captureSink
	)

	writeEntry := func(script string) {
		Expect(os.WriteFile(filepath.Join(dir, "server.sh"), []byte(script), 0o755)).To(Succeed())
	}

	newSupervisor := func(extra ...supervisor.Option) *supervisor.Supervisor {
		opts := []supervisor.Option{
			supervisor.WithDir(dir),
			supervisor.WithRuntime("/bin/sh"),
			supervisor.WithEntry("server.sh"),
			supervisor.WithHealthURL(server.URL + "/api/health"),
			supervisor.WithHealthInterval(10 * time.Millisecond),
			supervisor.WithHealthAttempts(50),
			supervisor.WithStopTimeout(2 * time.Second),
			supervisor.WithPIDFile(filepath.Join(dir, "backend.pid")),
			supervisor.WithSink(sink),
		}
		return supervisor.New(append(opts, extra...)...)
	}

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "supervisor-test-*")
		Expect(err).ToNot(HaveOccurred())
		healthy.Store(true)
		hits.Store(0)
		sink = &captureSink{}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			if healthy.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
	})

	AfterEach(func() {
		server.Close()
		os.RemoveAll(dir)
	})

	Describe("Start", func() {
		It("fails fast when the entry point is missing", func() {
			s := newSupervisor()
			err := s.Start(context.Background())
			Expect(errors.Is(err, supervisor.ErrEntryMissing)).To(BeTrue())
			Expect(s.Status().Running).To(BeFalse())
			Expect(hits.Load()).To(BeZero())
		})

		It("only warns when the config file is missing", func() {
			writeEntry("exec sleep 30\n")
			s := newSupervisor(supervisor.WithConfigFile(".env"))
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()
			Expect(s.State()).To(Equal(supervisor.StateReady))
		})

		It("passes the mode flag and runs inside the backend directory", func() {
			writeEntry("echo \"mode=$NODE_ENV cwd=$(pwd -P)\"\nexec sleep 30\n")
			s := newSupervisor(supervisor.WithMode("NODE_ENV", "production"))
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			realDir, err := filepath.EvalSymlinks(dir)
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() []string {
				out, _ := sink.lines()
				return out
			}).Should(ContainElement("mode=production cwd=" + realDir))
		})

		It("forwards stdout and stderr separately", func() {
			writeEntry("echo hello\necho oops 1>&2\nexec sleep 30\n")
			s := newSupervisor()
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Eventually(func() []string {
				out, _ := sink.lines()
				return out
			}).Should(ContainElement("hello"))
			Eventually(func() []string {
				_, errs := sink.lines()
				return errs
			}).Should(ContainElement("oops"))

			Eventually(func() []supervisor.LogLine { return s.RecentLogs(10) }).Should(HaveLen(2))
		})

		It("rejects when the backend exits with a non-zero code while starting", func() {
			healthy.Store(false)
			writeEntry("exit 3\n")
			s := newSupervisor()
			err := s.Start(context.Background())

			var exitErr *supervisor.ExitError
			Expect(errors.As(err, &exitErr)).To(BeTrue())
			Expect(exitErr.Code).To(Equal(3))
			Expect(s.Status().Running).To(BeFalse())
			Expect(s.State()).To(Equal(supervisor.StateExitedError))
		})

		It("keeps polling after a clean exit and times out", func() {
			healthy.Store(false)
			writeEntry("exit 0\n")
			s := newSupervisor(supervisor.WithHealthAttempts(5))
			err := s.Start(context.Background())
			Expect(err).To(MatchError(health.ErrTimeout))
			Expect(hits.Load()).To(Equal(int32(5)))
		})

		It("kills the backend when it never becomes healthy", func() {
			healthy.Store(false)
			writeEntry("exec sleep 30\n")
			s := newSupervisor(supervisor.WithHealthAttempts(3))
			err := s.Start(context.Background())
			Expect(err).To(MatchError(health.ErrTimeout))
			Expect(hits.Load()).To(Equal(int32(3)))
			Expect(s.Status().Running).To(BeFalse())
			_, statErr := os.Stat(filepath.Join(dir, "backend.pid"))
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})

		It("refuses to start a second process", func() {
			writeEntry("exec sleep 30\n")
			s := newSupervisor()
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()
			Expect(s.Start(context.Background())).To(MatchError(supervisor.ErrAlreadyRunning))
		})

		It("returns ErrStopped when stopped while starting", func() {
			healthy.Store(false)
			writeEntry("exec sleep 30\n")
			s := newSupervisor(supervisor.WithHealthAttempts(1000))

			go func() {
				defer GinkgoRecover()
				Eventually(func() bool { return s.Status().Running }).Should(BeTrue())
				Expect(s.Stop()).To(Succeed())
			}()

			Expect(s.Start(context.Background())).To(MatchError(supervisor.ErrStopped))
			seen := hits.Load()
			Consistently(hits.Load, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(seen))
		})
	})

	Describe("Stop", func() {
		It("is a no-op when nothing is tracked", func() {
			s := newSupervisor()
			Expect(s.Stop()).To(Succeed())
			Expect(s.Stop()).To(Succeed())
		})

		It("terminates the backend and can be called twice", func() {
			writeEntry("exec sleep 30\n")
			s := newSupervisor()
			Expect(s.Start(context.Background())).To(Succeed())

			status := s.Status()
			Expect(status.Running).To(BeTrue())
			Expect(status.PID).ToNot(BeNil())
			pid, err := supervisor.ReadPIDFile(filepath.Join(dir, "backend.pid"))
			Expect(err).ToNot(HaveOccurred())
			Expect(pid).To(Equal(*status.PID))

			Expect(s.Stop()).To(Succeed())
			Expect(s.Stop()).To(Succeed())
			Expect(s.Status()).To(Equal(supervisor.Status{}))
			Expect(s.State()).To(Equal(supervisor.StateStopped))
		})

		It("kills a backend that ignores the termination signal", func() {
			writeEntry("trap '' TERM\nwhile true; do sleep 0.05; done\n")
			s := newSupervisor(supervisor.WithStopTimeout(200 * time.Millisecond))
			Expect(s.Start(context.Background())).To(Succeed())

			start := time.Now()
			Expect(s.Stop()).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically(">=", 200*time.Millisecond))
			Expect(s.Status().Running).To(BeFalse())
		})

		It("does not report a stopped backend as an unexpected exit", func() {
			writeEntry("exec sleep 30\n")
			s := newSupervisor()
			var exits atomic.Int32
			s.OnExit(func(supervisor.Exit) { exits.Add(1) })
			Expect(s.Start(context.Background())).To(Succeed())
			Expect(s.Stop()).To(Succeed())
			Consistently(exits.Load, 100*time.Millisecond).Should(BeZero())
		})

		It("reports an exit only when the backend went away before Stop", func() {
			writeEntry("sleep 0.05\nexit 5\n")
			for i := 0; i < 8; i++ {
				s := newSupervisor()
				var exits atomic.Int32
				s.OnExit(func(supervisor.Exit) { exits.Add(1) })
				Expect(s.Start(context.Background())).To(Succeed())

				time.Sleep(time.Duration(i*10) * time.Millisecond)
				Expect(s.Stop()).To(Succeed())
				time.Sleep(100 * time.Millisecond)

				if s.State() == supervisor.StateStopped {
					Expect(exits.Load()).To(BeZero(), "stopped after %dms", i*10)
				} else {
					Expect(exits.Load()).To(Equal(int32(1)), "exited after %dms", i*10)
				}
			}
		})
	})

	Describe("OnExit", func() {
		It("reports a backend that dies after becoming ready", func() {
			marker := filepath.Join(dir, "die")
			writeEntry("while [ ! -f " + marker + " ]; do sleep 0.02; done\nexit 7\n")
			s := newSupervisor()
			exits := make(chan supervisor.Exit, 1)
			s.OnExit(func(e supervisor.Exit) { exits <- e })

			Expect(s.Start(context.Background())).To(Succeed())
			Expect(os.WriteFile(marker, nil, 0o644)).To(Succeed())

			var e supervisor.Exit
			Eventually(exits, 5*time.Second).Should(Receive(&e))
			Expect(e.Code).To(Equal(7))
			Expect(e.AfterReady).To(BeTrue())
			Expect(s.Status().Running).To(BeFalse())
			Expect(s.State()).To(Equal(supervisor.StateExitedError))
		})
	})

	Describe("orphaned backends", func() {
		spawn := func(name string, args ...string) (*exec.Cmd, chan struct{}) {
			cmd := exec.Command(name, args...)
			Expect(cmd.Start()).To(Succeed())
			done := make(chan struct{})
			go func() {
				cmd.Wait()
				close(done)
			}()
			pidFile := filepath.Join(dir, "backend.pid")
			Expect(os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644)).To(Succeed())
			return cmd, done
		}

		It("terminates a backend left behind by an earlier run", func() {
			_, done := spawn("/bin/sh", "-c", "while true; do sleep 0.05; done")
			writeEntry("exec sleep 30\n")
			s := newSupervisor()
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Eventually(done, 5*time.Second).Should(BeClosed())
		})

		It("leaves unrelated processes alone", func() {
			other, done := spawn("sleep", "30")
			defer func() {
				other.Process.Kill()
				<-done
			}()
			writeEntry("exec sleep 30\n")
			s := newSupervisor()
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Consistently(done, 300*time.Millisecond).ShouldNot(BeClosed())
		})
	})

	It("can restart", func() {
		writeEntry("exec sleep 30\n")
		s := newSupervisor()
		Expect(s.Start(context.Background())).To(Succeed())
		first := *s.Status().PID
		Expect(s.Restart(context.Background())).To(Succeed())
		defer s.Stop()
		Expect(*s.Status().PID).ToNot(Equal(first))
	})
})

var _ = Describe("FormatLine", func() {
	It("prefixes backend output", func() {
		Expect(supervisor.FormatLine("listening", false)).To(Equal("[Backend] listening"))
		Expect(supervisor.FormatLine("boom", true)).To(Equal("[Backend Error] boom"))
		Expect(strings.HasPrefix(supervisor.FormatLine("", true), "[Backend Error]")).To(BeTrue())
	})
})
