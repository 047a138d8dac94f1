package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
)

type frameView struct {
	Timestamp     time.Time      `json:"timestamp"`
	Variant       string         `json:"variant"`
	Model         string         `json:"model,omitempty"`
	LayoutVersion string         `json:"layout_version,omitempty"`
	Header        map[string]any `json:"header"`
	Batteries     []batteryView  `json:"batteries"`
}

type batteryView struct {
	Number int               `json:"number"`
	Values map[string]any    `json:"values"`
	Status map[string]string `json:"status,omitempty"`
}

func newFrameView(frame *bms.Frame) frameView {
	view := frameView{
		Timestamp:     frame.Timestamp,
		Variant:       frame.Variant,
		Model:         frame.Model,
		LayoutVersion: frame.LayoutVersion,
		Header:        valuesView(frame.Header),
	}
	for _, b := range frame.Batteries {
		view.Batteries = append(view.Batteries, batteryView{
			Number: b.Number(),
			Values: valuesView(b.Values),
			Status: bms.StatusTexts(b.Values),
		})
	}
	return view
}

func valuesView(values fieldspec.Values) map[string]any {
	out := make(map[string]any, len(values))
	for name, v := range values {
		switch {
		case v.Elements != nil:
			out[name] = v.Elements
		case v.Kind == fieldspec.KindPhysical:
			out[name] = v.Scaled
		default:
			out[name] = v.Raw
		}
	}
	return out
}

func printFrame(w io.Writer, frame *bms.Frame, asJSON bool) error {
	view := newFrameView(frame)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(w, "[%s] %s %s (layout %s)\n", view.Timestamp.Format("15:04:05"),
		view.Variant, view.Model, view.LayoutVersion)
	if power, ok := frame.Power(); ok {
		fmt.Fprintf(w, "pack power: %.1f W\n", power)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printValues(tw, "pack", view.Header, frame.Header)
	for i, b := range view.Batteries {
		section := fmt.Sprintf("battery %d", b.Number)
		printValues(tw, section, b.Values, frame.Batteries[i].Values)
		for _, name := range sortedKeys(b.Status) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", section, name, b.Status[name])
		}
	}
	return tw.Flush()
}

func printValues(w io.Writer, section string, view map[string]any, values fieldspec.Values) {
	for _, name := range sortedKeys(view) {
		value := view[name]
		text := fmt.Sprint(value)
		if elements, ok := value.([]float64); ok {
			parts := make([]string, len(elements))
			for i, e := range elements {
				parts[i] = fmt.Sprintf("%g", e)
			}
			text = strings.Join(parts, " ")
		}
		if unit := values[name].Unit; unit != "" {
			text += " " + unit
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", section, name, text)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
