package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPFetcher downloads files over FTP. It logs in anonymously unless
// credentials are configured or embedded in the URL.
type FTPFetcher struct {
	opts Options
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts Options) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and any userinfo from an FTP URL.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

func (f *FTPFetcher) credentials(t ftpTarget) (string, string) {
	switch {
	case t.user != "":
		return t.user, t.password
	case f.opts.Username != "":
		return f.opts.Username, f.opts.Password
	default:
		return "anonymous", "anonymous@"
	}
}

// ftpConnReader closes the FTP response and the connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

// Download retrieves the file. The caller must close the returned reader to
// release the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}

	user, pass := f.credentials(t)
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp login as %s", user)
	}

	resp, err := conn.Retr(t.path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp retrieve %s", t.path)
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// DownloadToFile downloads the FTP URL to a local file. Returns bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, path string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	return copyToFile(rc, path)
}
