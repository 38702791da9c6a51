package aria2

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/termidl/internal/logctx"
	"github.com/zeebo/bencode"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultFilename is used when nothing better can be resolved.
	DefaultFilename = "download"

	defaultProbeTimeout = 10 * time.Second
	torrentExt          = ".torrent"
)

// FilenameResolver decides the output name handed to aria2c.
type FilenameResolver interface {
	Resolve(ctx context.Context, rawURL string) string
}

// Probe resolves output names with a HEAD request, reading Content-Disposition and
// falling back to the URL's path basename. Local .torrent files resolve to the name
// stored in their metainfo. Probe never fails: it returns DefaultFilename instead.
type Probe struct {
	client  *http.Client
	timeout time.Duration
}

// NewProbe creates a Probe. A nil client gets an instrumented default client.
func NewProbe(client *http.Client) *Probe {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Probe{client: client, timeout: defaultProbeTimeout}
}

// SetTimeout sets the timeout for the HEAD request.
func (p *Probe) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Resolve returns the file name aria2c should write rawURL to.
func (p *Probe) Resolve(ctx context.Context, rawURL string) string {
	logger := logctx.LoggerFromContext(ctx).With("url", rawURL)

	if local, ok := localTorrentPath(rawURL); ok {
		name, err := torrentName(local)
		if err == nil {
			return name
		}

		logger.Debug("failed to read torrent name", "err", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		logger.Debug("failed to parse url for filename", "err", err)

		return DefaultFilename
	}

	if u.Scheme == "http" || u.Scheme == "https" {
		name, err := p.headFilename(ctx, rawURL)
		if err != nil {
			logger.Debug("filename probe failed", "err", err)
		} else if name != "" {
			return name
		}
	}

	if name := urlBasename(u); name != "" {
		return name
	}

	return DefaultFilename
}

func (p *Probe) headFilename(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("probe request failed with status %d", resp.StatusCode)
	}

	if name := dispositionFilename(resp.Header.Get("Content-Disposition")); name != "" {
		return name, nil
	}

	// Redirects may land on a URL with a better basename than the one we were given.
	if resp.Request != nil && resp.Request.URL != nil && resp.Request.URL.String() != rawURL {
		return urlBasename(resp.Request.URL), nil
	}

	return "", nil
}

// dispositionFilename extracts the filename parameter of a Content-Disposition header.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return sanitize(params["filename"])
}

func urlBasename(u *url.URL) string {
	if u.Path == "" {
		return ""
	}

	return sanitize(path.Base(u.Path))
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	if name == "." || name == "/" || name == ".." {
		return ""
	}

	return name
}

func localTorrentPath(rawURL string) (string, bool) {
	p := strings.TrimPrefix(rawURL, "file://")
	if !strings.EqualFold(filepath.Ext(p), torrentExt) {
		return "", false
	}

	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}

	return p, true
}

type metainfo struct {
	Info struct {
		Name string `bencode:"name"`
	} `bencode:"info"`
}

// torrentName reads the suggested name out of a .torrent file.
func torrentName(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("failed to read torrent file: %w", err)
	}

	var meta metainfo
	if err := bencode.DecodeBytes(data, &meta); err != nil {
		return "", fmt.Errorf("invalid bencode structure: %w", err)
	}

	name := sanitize(meta.Info.Name)
	if name == "" {
		return "", fmt.Errorf("torrent has no name")
	}

	return name, nil
}
