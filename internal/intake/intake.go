// Package intake validates and persists the two ways an import source
// enters the system: a direct upload, and a remote URL fetched under an
// SSRF-defense checklist.
package intake

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artemis/databridge/internal/apierr"
	"github.com/artemis/databridge/internal/storage"
)

var allowedMimeTypes = map[string]bool{
	"application/json":     true,
	"application/ndjson":   true,
	"application/x-ndjson": true,
	"application/jsonl":    true,
	"text/plain":           true,
	"text/json":            true,
}

// Result is what either intake path returns once content is validated and
// persisted. Location is the storage key the content was saved under.
type Result struct {
	Location string
	FileSize int64
}

// Upload validates an uploaded file's declared mime type and size against
// the allowlist and (0, maxFileSize], then persists it to storage under
// key.
func Upload(adapter storage.Adapter, key, mimeType string, size, maxFileSize int64, r io.Reader) (Result, *apierr.Error) {
	if !allowedMimeTypes[strings.ToLower(mimeType)] {
		return Result{}, apierr.New(apierr.UnsupportedFormat, "unsupported content type").WithField("mimeType").WithValue(mimeType)
	}
	if size <= 0 {
		return Result{}, apierr.New(apierr.EmptyFile, "uploaded file is empty")
	}
	if size > maxFileSize {
		return Result{}, apierr.New(apierr.FileTooLarge, "uploaded file exceeds the maximum size")
	}

	res, err := adapter.SaveStream(key, r)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.ReadWriteFailure, err, "failed to persist upload")
	}
	return Result{Location: res.Key, FileSize: res.Bytes}, nil
}

// RemoteFetch fetches rawURL under the SSRF-defense checklist: scheme
// restricted to http/https, localhost/*.localhost/*.local rejected
// outright, an optional host allow-list, DNS resolution checked against
// non-routable ranges, no redirects followed, response Content-Type
// checked against the same allowlist Upload uses, and the body streamed
// through a size-limiting reader that aborts rather than truncates on
// overrun.
func RemoteFetch(ctx context.Context, adapter storage.Adapter, key, rawURL string, allowedHosts []string, maxFileSize int64, timeout time.Duration) (Result, *apierr.Error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{}, apierr.New(apierr.URLNotAllowed, "url must use http or https").WithField("url")
	}

	host := u.Hostname()
	if host == "" {
		return Result{}, apierr.New(apierr.URLNotAllowed, "url has no host").WithField("url")
	}
	lowerHost := strings.ToLower(host)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") || strings.HasSuffix(lowerHost, ".local") {
		return Result{}, apierr.New(apierr.URLNotAllowed, "url host is not reachable externally").WithField("url")
	}
	if len(allowedHosts) > 0 && !hostAllowed(lowerHost, allowedHosts) {
		return Result{}, apierr.New(apierr.URLNotAllowed, "url host is not on the allow list").WithField("url")
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.URLFetchFailure, err, "failed to resolve host").WithField("url")
	}
	for _, ip := range ips {
		if !isGloballyRoutable(ip.IP) {
			return Result{}, apierr.New(apierr.URLNotAllowed, "url host resolves to a non-routable address").WithField("url")
		}
	}

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.URLFetchFailure, err, "failed to build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.URLFetchFailure, err, "remote fetch failed").WithField("url")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, apierr.Newf(apierr.URLFetchFailure, "remote host returned status %d", resp.StatusCode).WithField("url")
	}

	contentType := firstContentType(resp.Header.Get("Content-Type"))
	if !allowedMimeTypes[contentType] {
		return Result{}, apierr.New(apierr.UnsupportedFormat, "remote content type is not allowed").WithField("contentType").WithValue(contentType)
	}
	if resp.ContentLength > 0 && resp.ContentLength > maxFileSize {
		return Result{}, apierr.New(apierr.FileTooLarge, "remote file exceeds the maximum size")
	}

	limited := &limitedReader{r: resp.Body, limit: maxFileSize}
	res, err := adapter.SaveStream(key, limited)
	if err != nil {
		adapter.Delete(key)
		if errors.Is(err, errOverLimit) {
			return Result{}, apierr.New(apierr.FileTooLarge, "remote file exceeds the maximum size")
		}
		return Result{}, apierr.Wrap(apierr.ReadWriteFailure, err, "failed to persist remote fetch")
	}
	if res.Bytes == 0 {
		adapter.Delete(key)
		return Result{}, apierr.New(apierr.EmptyFile, "remote file is empty")
	}
	return Result{Location: res.Key, FileSize: res.Bytes}, nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func firstContentType(header string) string {
	if idx := strings.IndexByte(header, ';'); idx >= 0 {
		header = header[:idx]
	}
	return strings.TrimSpace(strings.ToLower(header))
}

var errOverLimit = errors.New("remote fetch exceeded the size limit")

// limitedReader aborts with errOverLimit once more than limit bytes have
// been read, rather than silently truncating like io.LimitReader.
type limitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, errOverLimit
	}
	return n, err
}

func isGloballyRoutable(ip net.IP) bool {
	switch {
	case ip.IsPrivate(), ip.IsLoopback(), ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(), ip.IsMulticast(), ip.IsUnspecified():
		return false
	default:
		return true
	}
}
