package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"gopkg.in/yaml.v3"
)

// FormatOptions provides common output formatting options
type FormatOptions struct {
	Format string `long:"format" description:"Output format (text, json, yaml, dump)" default:"text"`
}

// IsText returns true if the plain text format is selected (case-insensitive)
func (f *FormatOptions) IsText() bool {
	return f.Format == "" || strings.EqualFold(f.Format, "text")
}

// Emit writes data in the selected structured format.
func (f *FormatOptions) Emit(w io.Writer, data any) error {
	switch strings.ToLower(f.Format) {
	case "json":
		return PrintJSON(w, data)
	case "yaml":
		return PrintYAML(w, data)
	case "dump":
		dumper.Fdump(w, data)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", f.Format)
	}
}

// PrintJSON prints data as formatted JSON
func PrintJSON(w io.Writer, data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(output))
	return nil
}

func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(data); err != nil {
		return err
	}

	return enc.Close()
}

var dumper = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// ByteSize formats n with a binary unit suffix.
func ByteSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1fMB", float64(n)/1024/1024)
	default:
		return fmt.Sprintf("%.1fGB", float64(n)/1024/1024/1024)
	}
}
