// Package payload materializes the file a workflow run uploads. A reference
// is a local path, a file:// URL or an http(s):// URL that is downloaded first.
package payload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
	"github.com/xkilldash9x/portalpilot/internal/network"
)

const (
	op              = "fetch upload payload"
	defaultTimeout  = 60 * time.Second
	defaultFileName = "payload"
	// maxDownloadBytes bounds a downloaded payload.
	maxDownloadBytes = 256 << 20
)

// Fetcher resolves upload references to local files.
type Fetcher struct {
	downloadDir string
	timeout     time.Duration
	client      *http.Client
	logger      *zap.Logger
}

// NewFetcher creates a Fetcher. Downloads land in cfg.DownloadDir, or in a
// portalpilot directory under the system temp dir when unset.
func NewFetcher(cfg config.PayloadConfig, logger *zap.Logger) *Fetcher {
	dir := cfg.DownloadDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "portalpilot-payloads")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.RequestTimeout = timeout
	clientCfg.Logger = logger
	return &Fetcher{
		downloadDir: dir,
		timeout:     timeout,
		client:      network.NewClient(clientCfg),
		logger:      logger.Named("payload"),
	}
}

// FetchUploadPayload returns the absolute path of a readable regular file for
// ref. Any reference that cannot be resolved is UPLOAD_TARGET_MISSING.
func (f *Fetcher) FetchUploadPayload(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", failure.Newf(failure.UploadTargetMissing, op, "no upload reference given")
	}

	u, err := url.Parse(ref)
	// A single letter scheme is a Windows drive, not a URL.
	if err != nil || len(u.Scheme) <= 1 {
		return localFile(ref)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		return localFile(filepath.FromSlash(p))
	case "http", "https":
		return f.download(ctx, u)
	}
	return "", failure.Newf(failure.UploadTargetMissing, op, "unsupported reference scheme %q", u.Scheme)
}

func localFile(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", failure.New(failure.UploadTargetMissing, op, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", failure.New(failure.UploadTargetMissing, op, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", failure.New(failure.UploadTargetMissing, op, err)
	}
	if !info.Mode().IsRegular() {
		return "", failure.Newf(failure.UploadTargetMissing, op, "%s is not a regular file", abs)
	}
	if info.Size() == 0 {
		return "", failure.Newf(failure.UploadTargetMissing, op, "%s is empty", abs)
	}
	fh, err := os.Open(abs)
	if err != nil {
		return "", failure.New(failure.UploadTargetMissing, op, err)
	}
	fh.Close()
	return abs, nil
}

func (f *Fetcher) download(ctx context.Context, u *url.URL) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", failure.New(failure.UploadTargetMissing, op, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", failure.New(failure.UploadTargetMissing, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", failure.Newf(failure.UploadTargetMissing, op, "download of %s returned %s", u.Redacted(), resp.Status)
	}

	if err := os.MkdirAll(f.downloadDir, 0o700); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	dest := filepath.Join(f.downloadDir, fileName(resp, u))
	tmp, err := os.CreateTemp(f.downloadDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		return "", failure.New(failure.UploadTargetMissing, op, fmt.Errorf("downloading %s: %w", u.Redacted(), err))
	case n == 0:
		return "", failure.Newf(failure.UploadTargetMissing, op, "download of %s is empty", u.Redacted())
	case n > maxDownloadBytes:
		return "", failure.Newf(failure.UploadTargetMissing, op, "download of %s exceeds %d bytes", u.Redacted(), maxDownloadBytes)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("saving download: %w", err)
	}

	f.logger.Info("Downloaded upload payload",
		zap.String("url", u.Redacted()),
		zap.String("path", dest),
		zap.Int64("bytes", n))
	return dest, nil
}

// fileName picks the saved name from Content-Disposition, then the URL path.
func fileName(resp *http.Response, u *url.URL) string {
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if name := sanitize(params["filename"]); name != "" {
			return name
		}
	}
	if name := sanitize(path.Base(u.Path)); name != "" {
		return name
	}
	return defaultFileName
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/", "":
		return ""
	}
	return name
}

// Close releases idle connections held by the download client.
func (f *Fetcher) Close() {
	network.CloseIdle(f.client)
}

