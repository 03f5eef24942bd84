package ctl

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/framelink/internal/session"
)

// Formatter renders command results.
type Formatter interface {
	Format(data any) (string, error)
}

// NewFormatter returns a Formatter for format: "table" (default), "json" or "yaml".
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", "table":
		return TableFormatter{}, nil
	case "json":
		return JSONFormatter{}, nil
	case "yaml":
		return YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// JSONFormatter writes indented JSON.
type JSONFormatter struct{}

func (JSONFormatter) Format(data any) (string, error) {
	out, err := sonic.ConfigStd.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// YAMLFormatter writes YAML.
type YAMLFormatter struct{}

func (YAMLFormatter) Format(data any) (string, error) {
	// Round-trip through JSON so field names follow the json tags.
	raw, err := sonic.Marshal(data)
	if err != nil {
		return "", err
	}
	var generic any
	if err := sonic.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// TableFormatter prints sessions as aligned columns and anything else as JSON.
type TableFormatter struct{}

func (TableFormatter) Format(data any) (string, error) {
	var infos []session.Info
	switch v := data.(type) {
	case []session.Info:
		infos = v
	case *session.Info:
		infos = []session.Info{*v}
	case session.Info:
		infos = []session.Info{v}
	default:
		return JSONFormatter{}.Format(data)
	}
	if len(infos) == 0 {
		return "No sessions found.\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tORIGIN\tTARGET\tAGE")
	for _, info := range infos {
		origin := info.Origin
		if origin == "" || origin == "*" {
			origin = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.ID, info.State, origin, info.Target,
			time.Since(info.CreatedAt).Round(time.Second))
	}
	w.Flush()
	return buf.String(), nil
}
