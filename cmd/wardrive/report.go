package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/couchcryptid/wardrive/internal/cluster"
	"github.com/couchcryptid/wardrive/internal/pipeline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var reportFormat string

// hotspotReport is the printable subset of a query result.
type hotspotReport struct {
	Count    int               `json:"count" yaml:"count"`
	Source   string            `json:"source" yaml:"source"`
	Clusters []cluster.Cluster `json:"clusters" yaml:"clusters"`
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print insecure hotspot clusters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.coord.Query(cmd.Context())
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), reportFormat, res)
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "yaml", "output format: json or yaml")
}

func writeReport(w io.Writer, format string, res pipeline.QueryResult) error {
	doc := hotspotReport{Count: res.Count, Source: string(res.Source), Clusters: res.Clusters}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q: want json or yaml", format)
	}
}
