package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how CLI commands print results.
type OutputFormat string

const (
	OutputFormatYAML  OutputFormat = "yaml"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table" // Tabular commands only; others print YAML
)

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat = OutputFormatYAML

// SetOutputFormat sets the global output format. Unknown names select YAML.
func SetOutputFormat(format string) {
	switch f := OutputFormat(format); f {
	case OutputFormatJSON, OutputFormatTable:
		globalOutputFormat = f
	default:
		globalOutputFormat = OutputFormatYAML
	}
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to w. The table format has no generic rendering and
// falls back to YAML.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML, OutputFormatTable:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// OutputTable prints rows as a table when the table format is selected and
// data in the structured format otherwise.
func OutputTable(data any, headers []string, rows [][]string, aligns []Alignment) error {
	if globalOutputFormat != OutputFormatTable {
		return Output(data)
	}
	_, err := fmt.Fprintln(os.Stdout, RenderTable(headers, rows, aligns))
	return err
}
