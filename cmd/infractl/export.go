package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"itdesk/internal/diagram"

	"gopkg.in/yaml.v3"
)

type exportedNode struct {
	ID      string  `yaml:"id"`
	Kind    string  `yaml:"kind"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Width   float64 `yaml:"width"`
	Height  float64 `yaml:"height"`
	Fill    string  `yaml:"fill,omitempty"`
	Text    string  `yaml:"text,omitempty"`
	SubText string  `yaml:"subtext,omitempty"`
}

type exportedConnection struct {
	ID     string    `yaml:"id"`
	From   string    `yaml:"from,omitempty"`
	To     string    `yaml:"to,omitempty"`
	Points []float64 `yaml:"points,flow"`
	Stroke string    `yaml:"stroke,omitempty"`
}

type exportedDiagram struct {
	ID          string               `yaml:"id,omitempty"`
	Name        string               `yaml:"name"`
	Nodes       []exportedNode       `yaml:"nodes"`
	Connections []exportedConnection `yaml:"connections"`
}

func exportView(ed *diagram.Editor) exportedDiagram {
	v := exportedDiagram{
		ID:          ed.ID(),
		Name:        ed.Name(),
		Nodes:       []exportedNode{},
		Connections: []exportedConnection{},
	}
	for _, n := range ed.Canvas().Nodes() {
		v.Nodes = append(v.Nodes, exportedNode{
			ID: n.ID, Kind: string(n.Kind), X: n.X, Y: n.Y, Width: n.Width, Height: n.Height,
			Fill: n.Fill, Text: n.Text, SubText: n.SubText,
		})
	}
	for _, c := range ed.Canvas().Connections() {
		v.Connections = append(v.Connections, exportedConnection{
			ID: c.ID, From: c.From, To: c.To, Points: c.Points, Stroke: c.Stroke,
		})
	}
	return v
}

// export writes the stored element array as json, or a grouped view as yaml.
func export(w io.Writer, ed *diagram.Editor, format string) error {
	switch format {
	case "json":
		data, err := ed.Canvas().Serialize()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(w)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(exportView(ed)); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

func show(w io.Writer, ed *diagram.Editor) error {
	id := ed.ID()
	if id == "" {
		id = "unsaved"
	}
	fmt.Fprintf(w, "%s (%s)\n", ed.Name(), id)
	for _, e := range ed.Canvas().Visible() {
		if e.IsNode() {
			n := e.Node
			fmt.Fprintf(w, "  node %s %s at (%g,%g)\n", n.ID, n.Kind, n.X, n.Y)
			continue
		}
		c := e.Connection
		if c.Bound() {
			fmt.Fprintf(w, "  link %s %s -> %s\n", c.ID, c.From, c.To)
			continue
		}
		fmt.Fprintf(w, "  arrow %s (%g,%g) -> (%g,%g)\n", c.ID, c.Start().X, c.Start().Y, c.End().X, c.End().Y)
	}
	return nil
}
