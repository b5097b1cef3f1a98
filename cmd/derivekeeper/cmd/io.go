package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/document"
)

var (
	colorOK   = color.New(color.FgGreen).SprintFunc()
	colorErr  = color.New(color.FgRed).SprintFunc()
	colorWarn = color.New(color.FgYellow).SprintFunc()
)

// readFile reads path, or stdin when path is "-".
func readFile(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// readCollection reads every path as a document collection and concatenates
// them in argument order. A file holding one object contributes one document.
func readCollection(paths []string, stdin io.Reader) ([]any, error) {
	var docs []any
	for _, path := range paths {
		data, err := readFile(path, stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		batch, err := document.DecodeCollection(data, document.FormatForPath(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, batch...)
	}
	return docs, nil
}

// readSources reads each path as exactly one source document.
func readSources(paths []string, stdin io.Reader) ([]any, error) {
	sources := make([]any, 0, len(paths))
	for _, path := range paths {
		data, err := readFile(path, stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc, err := document.Decode(data, document.FormatForPath(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sources = append(sources, doc)
	}
	return sources, nil
}

// readObject reads a single object document.
func readObject(path string, stdin io.Reader) (map[string]any, error) {
	data, err := readFile(path, stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := document.Decode(data, document.FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	obj, ok := document.AsObject(doc)
	if !ok {
		return nil, fmt.Errorf("%s: expected an object", path)
	}
	return obj, nil
}

// writeResult encodes v to w as JSON or YAML.
func writeResult(w io.Writer, v any, format string) error {
	var f document.Format
	switch format {
	case "json", "":
		f = document.FormatJSON
	case "yaml":
		f = document.FormatYAML
	default:
		return fmt.Errorf("unknown output format %q (json, yaml)", format)
	}
	out, err := document.Encode(v, f)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// newTable returns a borderless table writing to w.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	return table
}

// statusCell colors a run status for terminal output.
func statusCell(status runs.Status) string {
	switch status {
	case runs.StatusSucceeded:
		return colorOK(string(status))
	case runs.StatusRejected:
		return colorWarn(string(status))
	default:
		return colorErr(string(status))
	}
}
