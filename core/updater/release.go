package updater

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/pkg/xio"
)

// Release represents a published application release
type Release struct {
	Version     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset represents a release asset
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// Source finds and fetches releases.
type Source interface {
	Latest(ctx context.Context) (*Release, error)
	// Download fetches the platform build of rel into dir, verifies it and
	// returns the path of the staged file.
	Download(ctx context.Context, rel *Release, dir string, progress func(transferred, total int64)) (string, error)
}

// GitHubSource reads releases from the GitHub releases API.
type GitHubSource struct {
	Client  *http.Client
	APIURL  string
	Owner   string
	Repo    string
	AppName string
	GOOS    string
	GOARCH  string
}

func NewGitHubSource(apiURL, owner, repo string) *GitHubSource {
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	return &GitHubSource{
		Client:  &http.Client{},
		APIURL:  strings.TrimSuffix(apiURL, "/"),
		Owner:   owner,
		Repo:    repo,
		AppName: "stockroom",
		GOOS:    runtime.GOOS,
		GOARCH:  runtime.GOARCH,
	}
}

// Latest fetches the latest release information from GitHub
func (g *GitHubSource) Latest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.APIURL, g.Owner, g.Repo)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch latest release: status %d", resp.StatusCode)
	}

	release := &Release{}
	if err := json.NewDecoder(resp.Body).Decode(release); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if release.Version == "" {
		return nil, fmt.Errorf("no version found in release data")
	}

	return release, nil
}

// AssetName returns the build name for the configured platform
func (g *GitHubSource) AssetName(version string) string {
	name := fmt.Sprintf("%s-v%s-%s-%s", g.AppName, strings.TrimPrefix(version, "v"), g.GOOS, g.GOARCH)
	if g.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

func (g *GitHubSource) ChecksumsName(version string) string {
	return fmt.Sprintf("%s-%s-checksums.txt", g.AppName, version)
}

func (g *GitHubSource) Download(ctx context.Context, rel *Release, dir string, progress func(transferred, total int64)) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create update directory: %w", err)
	}

	name := g.AssetName(rel.Version)
	asset, ok := rel.Asset(name)
	if !ok {
		return "", fmt.Errorf("release %s has no build %s", rel.Version, name)
	}
	checksums, ok := rel.Asset(g.ChecksumsName(rel.Version))
	if !ok {
		return "", fmt.Errorf("release %s has no checksums file", rel.Version)
	}

	checksumPath := filepath.Join(dir, "checksums.txt")
	if _, err := g.downloadFile(ctx, checksums, checksumPath, nil); err != nil {
		return "", fmt.Errorf("failed to download checksums: %w", err)
	}

	localPath := filepath.Join(dir, name)
	digest, err := g.downloadFile(ctx, asset, localPath, progress)
	if err != nil {
		return "", fmt.Errorf("failed to download update: %w", err)
	}

	if err := verifyDigest(digest, checksumPath, name); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("checksum verification failed: %w", err)
	}

	if err := os.Chmod(localPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to make update executable: %w", err)
	}
	return localPath, nil
}

// downloadFile writes asset to path through a .part file and returns the
// sha256 of what was written.
func (g *GitHubSource) downloadFile(ctx context.Context, asset Asset, path string, progress func(transferred, total int64)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.BrowserDownloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	partial := path + ".part"
	out, err := os.Create(partial)
	if err != nil {
		return "", err
	}

	total := resp.ContentLength
	if total <= 0 {
		total = asset.Size
	}
	hasher := sha256.New()
	pw := xio.NewProgressWriter(total, hasher, progress)

	if _, err := xio.Copy(ctx, io.MultiWriter(out, pw), resp.Body); err != nil {
		out.Close()
		os.Remove(partial)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (g *GitHubSource) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

// VerifyChecksum verifies a file against the sha256 lines of a checksums file
func VerifyChecksum(filePath, checksumPath, name string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return verifyDigest(hex.EncodeToString(hasher.Sum(nil)), checksumPath, name)
}

func verifyDigest(calculatedHash, checksumPath, name string) error {
	checksumFile, err := os.Open(checksumPath)
	if err != nil {
		return fmt.Errorf("failed to open checksums file: %w", err)
	}
	defer checksumFile.Close()

	scanner := bufio.NewScanner(checksumFile)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 || strings.TrimPrefix(parts[1], "*") != name {
			continue
		}
		if strings.EqualFold(parts[0], calculatedHash) {
			return nil
		}
		return fmt.Errorf("checksum mismatch: expected %s, got %s", parts[0], calculatedHash)
	}

	return fmt.Errorf("checksum not found for %s", name)
}

// IsNewer reports whether latest is a newer release than current. Tags that
// are not semantic versions are compared for equality only.
func IsNewer(latest, current string) bool {
	lv, lerr := semver.NewVersion(latest)
	cv, cerr := semver.NewVersion(current)
	if lerr != nil || cerr != nil {
		xlog.Debug("falling back to tag comparison", "latest", latest, "current", current)
		return strings.TrimPrefix(latest, "v") != strings.TrimPrefix(current, "v")
	}
	return lv.GreaterThan(cv)
}
