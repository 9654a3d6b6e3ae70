package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sensor-harvest/internal/om"
	"github.com/sells-group/sensor-harvest/internal/provider"
)

var (
	procSource      sourceFlags
	procFrom        string
	procConcurrency int
)

var harvestProceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "List the procedures found in a folder",
	Long:  "Extracts the procedure tree of every matching file under a folder without integrating anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, params, err := procSource.resolve()
		if err != nil {
			return err
		}
		files, err := matchingFiles(procFrom, kind)
		if err != nil {
			return err
		}
		listings, err := listProcedures(cmd.Context(), files, kind, params, procConcurrency)
		if err != nil {
			return err
		}
		formatProcedures(os.Stdout, listings)
		return nil
	},
}

func init() {
	procSource.register(harvestProceduresCmd)
	harvestProceduresCmd.Flags().StringVar(&procFrom, "source", "", "file or folder to inspect")
	harvestProceduresCmd.Flags().IntVar(&procConcurrency, "concurrency", 4, "files read in parallel")
	_ = harvestProceduresCmd.MarkFlagRequired("source")
	harvestCmd.AddCommand(harvestProceduresCmd)
}

// procedureListing is the inventory of one file.
type procedureListing struct {
	Path  string
	Trees []om.ProcedureTree
	Err   error
}

// matchingFiles returns root, or the files below it that kind reads, sorted.
func matchingFiles(root string, kind provider.StoreKind) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", root)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && kind.Matches(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", root)
	}
	sort.Strings(files)
	return files, nil
}

// listProcedures extracts the procedure trees of files concurrently. A file
// that cannot be read is reported in its listing and does not stop the rest.
func listProcedures(ctx context.Context, files []string, kind provider.StoreKind, params map[string]string, concurrency int) ([]procedureListing, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	factory := provider.NewFactory()
	out := make([]procedureListing, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i].Path = path
			p, err := factory.Open(provider.Config{ID: path, Kind: kind, Path: path, Params: params})
			if err != nil {
				out[i].Err = err
				return nil
			}
			op, ok := p.(provider.ObservationProvider)
			if !ok {
				out[i].Err = eris.Wrapf(provider.ErrNotObservationProvider, "%s", path)
				return nil
			}
			trees, err := op.ProcedureTrees(gctx)
			if err != nil {
				zap.L().Debug("procedure extraction failed", zap.String("path", path), zap.Error(err))
				out[i].Err = err
				return nil
			}
			out[i].Trees = trees
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "list procedures")
	}
	return out, nil
}

// formatProcedures writes one block per file with its procedure trees.
func formatProcedures(w io.Writer, listings []procedureListing) {
	for _, l := range listings {
		_, _ = fmt.Fprintln(w, l.Path)
		if l.Err != nil {
			_, _ = fmt.Fprintf(w, "  error: %v\n", l.Err)
			continue
		}
		for _, t := range l.Trees {
			writeTree(w, t, 1)
		}
	}
}

func writeTree(w io.Writer, t om.ProcedureTree, depth int) {
	indent := strings.Repeat("  ", depth)
	_, _ = fmt.Fprintf(w, "%s%s (%s) [%s]", indent, t.ID, t.Type, strings.Join(t.MeasuredFields, ", "))
	if t.Bound != nil && t.Bound.MinTime != nil && t.Bound.MaxTime != nil {
		_, _ = fmt.Fprintf(w, " %s .. %s", t.Bound.MinTime.Format("2006-01-02 15:04"), t.Bound.MaxTime.Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintln(w)
	for _, c := range t.Children {
		writeTree(w, c, depth+1)
	}
}
