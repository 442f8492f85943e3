// Package netcache keeps local copies of playbooks referenced by URL,
// revalidated with ETag/Last-Modified on each use.
package netcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// maxBodySize caps a single download.
const maxBodySize = 32 << 20

// Cache is a persistent HTTP cache rooted at Dir.
type Cache struct {
	Dir     string
	Client  *http.Client
	Retries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	Logger  *slog.Logger
}

// New returns a Cache with a default HTTP client.
func New(dir string) *Cache {
	return &Cache{
		Dir:     dir,
		Client:  &http.Client{Timeout: time.Minute},
		Retries: 3,
		Backoff: 2 * time.Second,
	}
}

// DefaultDir is the per-user cache directory for downloaded playbooks.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "conductor", "playbooks")
	}
	return filepath.Join(os.TempDir(), "conductor-playbooks")
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type meta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	DataFile     string `json:"data_file"`
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Get returns a local path holding the body of rawURL, and whether the
// cached copy was used. A cached copy is served when the server answers
// 304 or cannot be reached.
func (c *Cache) Get(ctx context.Context, rawURL string) (string, bool, error) {
	key := hash(rawURL)
	mpath := filepath.Join(c.Dir, key+".json")
	dataFile := key + fileSuffix(rawURL)

	var m meta
	haveMeta := false
	if b, err := os.ReadFile(mpath); err == nil {
		if json.Unmarshal(b, &m) == nil && m.URL == rawURL && fileExists(filepath.Join(c.Dir, m.DataFile)) {
			haveMeta = true
		}
	}

	if haveMeta {
		cached := filepath.Join(c.Dir, m.DataFile)
		p, fresh, err := c.revalidate(ctx, rawURL, m, mpath, dataFile)
		if err == nil {
			return p, !fresh, nil
		}
		c.logger().Warn("revalidation failed, using cached copy", "url", rawURL, "error", err)
		return cached, true, nil
	}

	var lastErr error
	backoff := c.Backoff
	for attempt := 0; attempt < max(c.Retries, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		p, retry, err := c.fetch(ctx, rawURL, mpath, dataFile)
		if err == nil {
			return p, false, nil
		}
		lastErr = err
		if !retry {
			break
		}
		c.logger().Debug("fetch failed, retrying", "url", rawURL, "attempt", attempt+1, "error", err)
	}
	return "", false, fmt.Errorf("fetching %s: %w", rawURL, lastErr)
}

// revalidate issues a conditional GET. fresh is true when a new body was
// stored.
func (c *Cache) revalidate(ctx context.Context, rawURL string, m meta, mpath, dataFile string) (p string, fresh bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, err
	}
	if m.ETag != "" {
		req.Header.Set("If-None-Match", m.ETag)
	}
	if m.LastModified != "" {
		req.Header.Set("If-Modified-Since", m.LastModified)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return filepath.Join(c.Dir, m.DataFile), false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p, err := c.store(resp, rawURL, mpath, dataFile)
		return p, err == nil, err
	}
	return "", false, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// fetch does an unconditional GET. retry reports whether the failure is
// worth another attempt (network errors and 5xx).
func (c *Cache) fetch(ctx context.Context, rawURL, mpath, dataFile string) (p string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode >= 500, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	p, err = c.store(resp, rawURL, mpath, dataFile)
	return p, false, err
}

func (c *Cache) store(resp *http.Response, rawURL, mpath, dataFile string) (string, error) {
	dst := filepath.Join(c.Dir, dataFile)
	if err := streamToFile(io.LimitReader(resp.Body, maxBodySize), dst, 0o644); err != nil {
		return "", err
	}
	m := meta{
		URL:          rawURL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DataFile:     dataFile,
	}
	if err := writeMeta(mpath, m); err != nil {
		return "", err
	}
	return dst, nil
}

func streamToFile(r io.Reader, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func writeMeta(path string, m meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// fileSuffix keeps a .yml or .yaml extension from the URL path.
func fileSuffix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".data"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".yml", ".yaml":
		return ext
	}
	return ".data"
}
