package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stockroom-pos/desktop/core/config"
)

var _ = Describe("ApplicationConfig", func() {
	It("has the documented defaults", func() {
		c := config.NewApplicationConfig(config.WithDataDir("/tmp/data"))
		Expect(c.BackendHealthURL).To(Equal("http://127.0.0.1:3000/api/health"))
		Expect(c.HealthInterval).To(Equal(time.Second))
		Expect(c.HealthAttempts).To(Equal(30))
		Expect(c.UpdateCheckInterval).To(Equal(4 * time.Hour))
		Expect(c.CrashPolicy).To(Equal(config.CrashPolicyRestart))
		Expect(c.Mode()).To(Equal("development"))
	})

	Describe("path resolution", func() {
		It("uses the project root when unpackaged", func() {
			c := config.NewApplicationConfig(
				config.WithProjectRoot("/src/stockroom"),
				config.WithExecutablePath("/src/stockroom/bin/stockroom"),
				config.WithDataDir("/tmp/data"),
			)
			Expect(c.BackendDir).To(Equal(filepath.Join("/src/stockroom", "backend")))
			Expect(c.BackendEntryPath()).To(Equal(filepath.Join("/src/stockroom", "backend", "server.js")))
			Expect(c.BackendConfigPath()).To(Equal(filepath.Join("/src/stockroom", "backend", ".env")))
		})

		It("uses the bundle Resources directory on macOS", func() {
			c := config.NewApplicationConfig(
				config.WithPackaged(true),
				config.WithGOOS("darwin"),
				config.WithExecutablePath("/Applications/Stockroom.app/Contents/MacOS/stockroom"),
				config.WithDataDir("/tmp/data"),
			)
			Expect(c.BackendDir).To(Equal("/Applications/Stockroom.app/Contents/Resources/backend"))
			Expect(c.Mode()).To(Equal("production"))
		})

		It("uses resources next to the executable elsewhere", func() {
			c := config.NewApplicationConfig(
				config.WithPackaged(true),
				config.WithGOOS("linux"),
				config.WithExecutablePath("/opt/stockroom/stockroom"),
				config.WithDataDir("/tmp/data"),
			)
			Expect(c.BackendDir).To(Equal("/opt/stockroom/resources/backend"))
			Expect(c.FrontendPath()).To(Equal("/opt/stockroom/dist"))
			Expect(c.UpdateTarget).To(Equal("/opt/stockroom/stockroom"))
		})

		It("keeps explicit overrides", func() {
			c := config.NewApplicationConfig(
				config.WithPackaged(true),
				config.WithBackendDir("/srv/backend"),
				config.WithDataDir("/tmp/data"),
			)
			Expect(c.BackendDir).To(Equal("/srv/backend"))
		})
	})

	It("never shrinks the window below its minimum", func() {
		c := config.NewApplicationConfig(config.WithDataDir("/tmp/data"), config.WithWindowSize(200, 100))
		Expect(c.Window.Width).To(Equal(c.Window.MinWidth))
		Expect(c.Window.Height).To(Equal(c.Window.MinHeight))
	})
})

var _ = Describe("Settings", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "settings-test-*")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("returns the defaults when nothing is stored", func() {
		defaults := config.Settings{Window: config.WindowSettings{Width: 1280, Height: 800}}
		s, err := config.LoadSettings(filepath.Join(dir, "settings.yaml"), defaults)
		Expect(err).ToNot(HaveOccurred())
		Expect(s).To(Equal(defaults))
	})

	It("overrides defaults with stored values only where set", func() {
		path := filepath.Join(dir, "settings.yaml")
		Expect(os.WriteFile(path, []byte("window:\n  width: 1600\nlast_version: v1.2.0\n"), 0o644)).To(Succeed())

		s, err := config.LoadSettings(path, config.Settings{Window: config.WindowSettings{Width: 1280, Height: 800}})
		Expect(err).ToNot(HaveOccurred())
		Expect(s.Window.Width).To(Equal(1600))
		Expect(s.Window.Height).To(Equal(800))
		Expect(s.LastVersion).To(Equal("v1.2.0"))
	})

	It("round-trips through SaveSettings", func() {
		path := filepath.Join(dir, "nested", "settings.yaml")
		at := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
		Expect(config.SaveSettings(path, config.Settings{LastUpdateCheck: at, LastVersion: "v2.0.0"})).To(Succeed())

		s, err := config.LoadSettings(path, config.Settings{})
		Expect(err).ToNot(HaveOccurred())
		Expect(s.LastUpdateCheck.Equal(at)).To(BeTrue())
		Expect(s.LastVersion).To(Equal("v2.0.0"))
	})

	It("reports unparsable files", func() {
		path := filepath.Join(dir, "settings.yaml")
		Expect(os.WriteFile(path, []byte("window: [oops"), 0o644)).To(Succeed())
		_, err := config.LoadSettings(path, config.Settings{})
		Expect(err).To(HaveOccurred())
	})
})
