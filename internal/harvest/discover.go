package harvest

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/repository"
)

// discover registers the datasource for the request, or reuses the one
// already registered for the same source, and resolves the local root the
// rest of the run reads from.
func (o *Orchestrator) discover(ctx context.Context, r *run) error {
	ds, err := o.deps.Store.DatasourceByURL(ctx, r.req.Source)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		ds = &repository.Datasource{
			URL:            r.req.Source,
			StoreKind:      string(r.req.StoreKind),
			Username:       r.req.Username,
			Password:       r.req.Password,
			ReadFromRemote: r.req.Remote,
		}
		if err := o.deps.Store.CreateDatasource(ctx, ds); err != nil {
			return eris.Wrap(err, "harvest: register datasource")
		}
		r.log.Info("harvest: registered datasource", zap.Int64("datasource", ds.ID))
	case err != nil:
		return eris.Wrap(err, "harvest: look up datasource")
	}
	r.ds = ds

	if !r.req.Remote {
		info, err := os.Stat(r.req.Source)
		if err != nil {
			return eris.Wrapf(err, "harvest: stat %s", r.req.Source)
		}
		r.root = r.req.Source
		if !info.IsDir() && info.Size() == 0 {
			r.log.Warn("harvest: source file is empty")
		}
		return nil
	}
	return o.download(ctx, r)
}

// download copies a remote source into the temp directory of its datasource.
func (o *Orchestrator) download(ctx context.Context, r *run) error {
	u, err := url.Parse(r.req.Source)
	if err != nil {
		return eris.Wrapf(err, "harvest: parse source URL %s", r.req.Source)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return eris.Errorf("harvest: remote source %s does not name a file", r.req.Source)
	}

	opts := o.deps.Fetch
	if r.req.Username != "" {
		opts.Username = r.req.Username
		opts.Password = r.req.Password
	}
	f, err := o.deps.NewFetcher(r.req.Source, opts)
	if err != nil {
		return eris.Wrap(err, "harvest: create fetcher")
	}

	dir := filepath.Join(o.deps.TempDir, strconv.FormatInt(r.ds.ID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "harvest: create temp dir %s", dir)
	}
	dest := filepath.Join(dir, name)
	n, err := f.DownloadToFile(ctx, r.req.Source, dest)
	if err != nil {
		return eris.Wrapf(err, "harvest: download %s", r.req.Source)
	}
	r.log.Info("harvest: downloaded remote source", zap.String("path", dest), zap.Int64("bytes", n))
	r.root = dest
	return nil
}
