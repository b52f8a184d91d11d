package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"fairweather/internal/types"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	bold = color.New(color.Bold).SprintFunc()
	dim  = color.New(color.FgHiBlack).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()

	conditionColors = map[types.Condition]*color.Color{
		types.ConditionExcellent: color.New(color.FgGreen, color.Bold),
		types.ConditionGood:      color.New(color.FgGreen),
		types.ConditionFair:      color.New(color.FgYellow),
		types.ConditionPoor:      color.New(color.FgRed),
	}
)

func conditionLabel(c types.Condition) string {
	if col, ok := conditionColors[c]; ok {
		return col.Sprint(string(c))
	}
	return dim(string(c))
}

// render writes v in the requested format. YAML goes through JSON first so
// both formats share field names and custom marshalers.
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case formatText, "":
		text(w)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}
