package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/sensor-harvest/internal/config"
	"github.com/sells-group/sensor-harvest/internal/provider"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest sensor files",
	Long:  "Integrates sensor files from a local folder or a remote URL and distributes the generated sensors to the configured services.",
}

func init() {
	rootCmd.AddCommand(harvestCmd)
}

// sourceFlags are the flags shared by commands that read a source.
type sourceFlags struct {
	kind    string
	mapping string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "csv", "store kind: csv, xlsx or file")
	cmd.Flags().StringVar(&f.mapping, "mapping", "", "YAML column mapping file")
}

// resolve parses the store kind and loads the mapping file.
func (f *sourceFlags) resolve() (provider.StoreKind, map[string]string, error) {
	kind, err := provider.ParseStoreKind(f.kind)
	if err != nil {
		return "", nil, err
	}
	if f.mapping == "" {
		return kind, map[string]string{}, nil
	}
	params, err := config.LoadMapping(f.mapping)
	if err != nil {
		return "", nil, err
	}
	return kind, params, nil
}
