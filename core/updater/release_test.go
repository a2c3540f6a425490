package updater_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stockroom-pos/desktop/core/updater"
)

var _ = Describe("GitHubSource", func() {
	var (
		tempDir  string
		server   *httptest.Server
		source   *updater.GitHubSource
		payload  []byte
		checksum string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "updater-test-*")
		Expect(err).ToNot(HaveOccurred())

		payload = []byte(strings.Repeat("stockroom build ", 4096))
		sum := sha256.Sum256(payload)
		checksum = hex.EncodeToString(sum[:])

		mux := http.NewServeMux()
		server = httptest.NewServer(mux)

		source = updater.NewGitHubSource(server.URL, "stockroom-pos", "desktop")
		source.GOOS = "linux"
		source.GOARCH = "amd64"

		mux.HandleFunc("/repos/stockroom-pos/desktop/releases/latest", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"tag_name":     "v1.4.0",
				"name":         "Stockroom 1.4.0",
				"body":         "Faster GRN entry",
				"published_at": "2026-09-30T10:00:00Z",
				"assets": []map[string]any{
					{"name": "stockroom-v1.4.0-linux-amd64", "browser_download_url": server.URL + "/dl/bin", "size": len(payload)},
					{"name": "stockroom-v1.4.0-checksums.txt", "browser_download_url": server.URL + "/dl/sums", "size": 100},
				},
			})
		})
		mux.HandleFunc("/dl/bin", func(w http.ResponseWriter, r *http.Request) {
			w.Write(payload)
		})
		mux.HandleFunc("/dl/sums", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "%s  stockroom-v1.4.0-linux-amd64\n%s  stockroom-v1.4.0-darwin-arm64\n", checksum, strings.Repeat("0", 64))
		})
	})

	AfterEach(func() {
		server.Close()
		os.RemoveAll(tempDir)
	})

	It("names builds per platform with and without the v prefix", func() {
		Expect(source.AssetName("v1.4.0")).To(Equal("stockroom-v1.4.0-linux-amd64"))
		Expect(source.AssetName("1.4.0")).To(Equal(source.AssetName("v1.4.0")))
		source.GOOS = "windows"
		Expect(source.AssetName("v1.4.0")).To(Equal("stockroom-v1.4.0-windows-amd64.exe"))
	})

	It("reads the latest release", func() {
		rel, err := source.Latest(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(rel.Version).To(Equal("v1.4.0"))
		Expect(rel.Name).To(Equal("Stockroom 1.4.0"))
		Expect(rel.Assets).To(HaveLen(2))
	})

	It("downloads, verifies and reports progress", func() {
		rel, err := source.Latest(context.Background())
		Expect(err).ToNot(HaveOccurred())

		var last [2]int64
		calls := 0
		path, err := source.Download(context.Background(), rel, tempDir, func(transferred, total int64) {
			calls++
			Expect(transferred).To(BeNumerically("<=", total))
			last = [2]int64{transferred, total}
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(calls).To(BeNumerically(">", 0))
		Expect(last).To(Equal([2]int64{int64(len(payload)), int64(len(payload))}))

		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(payload))

		info, err := os.Stat(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Mode().Perm() & 0o100).ToNot(BeZero())
	})

	It("rejects a build whose checksum does not match", func() {
		payload = []byte("tampered")
		rel, err := source.Latest(context.Background())
		Expect(err).ToNot(HaveOccurred())

		_, err = source.Download(context.Background(), rel, tempDir, nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("checksum mismatch"))
		_, statErr := os.Stat(filepath.Join(tempDir, "stockroom-v1.4.0-linux-amd64"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("fails when the platform has no build", func() {
		source.GOARCH = "riscv64"
		rel, err := source.Latest(context.Background())
		Expect(err).ToNot(HaveOccurred())
		_, err = source.Download(context.Background(), rel, tempDir, nil)
		Expect(err).To(MatchError(ContainSubstring("has no build")))
	})

	It("surfaces HTTP errors from the releases API", func() {
		source.Repo = "missing"
		_, err := source.Latest(context.Background())
		Expect(err).To(MatchError(ContainSubstring("status 404")))
	})
})

var _ = Describe("VerifyChecksum", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "checksum-test-*")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	It("accepts a matching sha256", func() {
		file := filepath.Join(tempDir, "stockroom")
		Expect(os.WriteFile(file, []byte("build"), 0o644)).To(Succeed())
		sum := sha256.Sum256([]byte("build"))
		sums := filepath.Join(tempDir, "sums.txt")
		Expect(os.WriteFile(sums, []byte(hex.EncodeToString(sum[:])+"  stockroom\n"), 0o644)).To(Succeed())
		Expect(updater.VerifyChecksum(file, sums, "stockroom")).To(Succeed())
	})

	It("reports a missing entry", func() {
		file := filepath.Join(tempDir, "stockroom")
		Expect(os.WriteFile(file, []byte("build"), 0o644)).To(Succeed())
		sums := filepath.Join(tempDir, "sums.txt")
		Expect(os.WriteFile(sums, []byte("abc  other\n"), 0o644)).To(Succeed())
		Expect(updater.VerifyChecksum(file, sums, "stockroom")).To(MatchError(ContainSubstring("checksum not found")))
	})

	It("reports a missing checksums file", func() {
		file := filepath.Join(tempDir, "stockroom")
		Expect(os.WriteFile(file, []byte("build"), 0o644)).To(Succeed())
		Expect(updater.VerifyChecksum(file, filepath.Join(tempDir, "nope"), "stockroom")).To(MatchError(ContainSubstring("failed to open checksums file")))
	})
})

var _ = Describe("IsNewer", func() {
	It("compares semantic versions", func() {
		Expect(updater.IsNewer("v1.4.0", "v1.3.9")).To(BeTrue())
		Expect(updater.IsNewer("v1.4.0", "1.4.0")).To(BeFalse())
		Expect(updater.IsNewer("v1.3.0", "v1.4.0")).To(BeFalse())
		Expect(updater.IsNewer("v1.4.0", "v0.0.0-dev")).To(BeTrue())
	})

	It("falls back to tag inequality", func() {
		Expect(updater.IsNewer("nightly-2026-10-01", "nightly-2026-09-30")).To(BeTrue())
		Expect(updater.IsNewer("nightly", "nightly")).To(BeFalse())
	})
})

var _ = Describe("NewProgress", func() {
	It("keeps percent and byte counts consistent", func() {
		for _, c := range [][2]int64{{0, 100}, {50, 100}, {100, 100}, {150, 100}, {-5, 100}, {30, 0}, {0, -1}} {
			p := updater.NewProgress(c[0], c[1])
			Expect(p.Percent).To(BeNumerically(">=", 0))
			Expect(p.Percent).To(BeNumerically("<=", 100))
			Expect(p.Transferred).To(BeNumerically("<=", p.Total))
		}
		Expect(updater.NewProgress(50, 200).Percent).To(Equal(25.0))
	})
})
