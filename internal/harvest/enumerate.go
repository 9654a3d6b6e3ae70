package harvest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/fetcher"
	"github.com/sells-group/sensor-harvest/internal/repository"
)

// enumerate selects every file under the run root that matches the store
// kind. ZIP archives are expanded next to themselves first. Paths selected
// by an earlier run that no longer exist are marked REMOVED.
func (o *Orchestrator) enumerate(ctx context.Context, r *run) error {
	files, err := collectFiles(r.root)
	if err != nil {
		return err
	}

	var selected []string
	for _, f := range files {
		if fetcher.IsZIP(f) {
			dest := strings.TrimSuffix(f, filepath.Ext(f))
			extracted, err := fetcher.ExtractZIP(f, dest)
			if err != nil {
				return eris.Wrapf(err, "harvest: expand %s", f)
			}
			r.log.Debug("harvest: expanded archive", zap.String("archive", f), zap.Int("files", len(extracted)))
			for _, e := range extracted {
				if r.req.StoreKind.Matches(e) {
					selected = append(selected, e)
				}
			}
			continue
		}
		if r.req.StoreKind.Matches(f) {
			selected = append(selected, f)
		}
	}
	sort.Strings(selected)

	present := make(map[string]bool, len(selected))
	added := 0
	for _, p := range selected {
		present[p] = true
		isNew, err := o.deps.Store.AddPath(ctx, r.ds.ID, p)
		if err != nil {
			return eris.Wrap(err, "harvest: select path")
		}
		if isNew {
			added++
		}
	}

	known, err := o.deps.Store.Paths(ctx, r.ds.ID)
	if err != nil {
		return eris.Wrap(err, "harvest: list paths")
	}
	for _, p := range known {
		switch {
		case present[p.Path] && p.Status == repository.PathRemoved:
			// The file came back: integrate it again.
			if p.ProviderID != "" {
				if err := o.removeProvider(ctx, p.ProviderID); err != nil {
					return err
				}
			}
			if err := o.deps.Store.SetPathStatus(ctx, r.ds.ID, p.Path, repository.PathNew, ""); err != nil {
				return eris.Wrap(err, "harvest: reselect path")
			}
			added++
		case !present[p.Path] && p.Status.Done():
			if err := o.deps.Store.SetPathStatus(ctx, r.ds.ID, p.Path, repository.PathRemoved, p.ProviderID); err != nil {
				return eris.Wrap(err, "harvest: mark path removed")
			}
		}
	}

	r.log.Info("harvest: enumerated files", zap.Int("selected", len(selected)), zap.Int("new", added))
	return nil
}

// collectFiles lists root when it is a file, or every regular file below it
// when it is a directory. The walk completes before archives are expanded
// so extracted files are not visited twice.
func collectFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, eris.Wrapf(err, "harvest: stat %s", root)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "harvest: walk %s", root)
	}
	return files, nil
}
