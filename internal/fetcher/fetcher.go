// Package fetcher pulls remote sensor files over HTTP or FTP, unpacks ZIP
// archives, and streams rows out of CSV and XLSX tables.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures a remote fetcher. Credentials are sent as HTTP basic
// auth or used as the FTP login.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Username   string
	Password   string
}

// ForURL returns the fetcher matching the URL scheme.
func ForURL(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(opts), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// copyToFile drains body into a newly created file at path.
func copyToFile(body io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
