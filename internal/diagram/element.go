// Package diagram models the infrastructure diagram editor: typed nodes and
// directed connections on a canvas, driven by pointer gestures and persisted
// as a single JSON element array.
package diagram

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

type Kind string

const (
	KindServer       Kind = "server"
	KindDatabase     Kind = "database"
	KindFirewall     Kind = "firewall"
	KindLoadBalancer Kind = "loadbalancer"
	KindCloud        Kind = "cloud"
	KindContainer    Kind = "rect"
	KindSwitch       Kind = "switch"
	KindCircle       Kind = "circle"
	KindText         Kind = "text"
)

var kinds = []Kind{
	KindServer, KindDatabase, KindFirewall, KindLoadBalancer, KindCloud,
	KindContainer, KindSwitch, KindCircle, KindText,
}

// ParseKind reports whether s names a palette kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// wire type of connections
const typeArrow = "arrow"

const (
	DefaultWidth  = 140.0
	DefaultHeight = 60.0
	DefaultStroke = "#0070d1"
)

type Point struct {
	X, Y float64
}

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

type Node struct {
	ID      string
	Kind    Kind
	X, Y    float64
	Width   float64
	Height  float64
	Fill    string
	Text    string
	SubText string
}

// Anchor is where connections attach: the node's visual centre.
func (n *Node) Anchor() Point {
	return Point{n.X + n.Width/2, n.Y + n.Height/2}
}

func (n *Node) Contains(p Point) bool {
	return p.X >= n.X && p.X <= n.X+n.Width && p.Y >= n.Y && p.Y <= n.Y+n.Height
}

// Connection is an arrow. With both From and To set its points follow the
// two nodes; otherwise it is free-floating and its points are user-drawn.
type Connection struct {
	ID     string
	From   string
	To     string
	Points []float64 // x1, y1, x2, y2
	Stroke string
}

func (c *Connection) Bound() bool { return c.From != "" && c.To != "" }

func (c *Connection) References(nodeID string) bool {
	return c.From == nodeID || c.To == nodeID
}

func (c *Connection) Start() Point { return Point{c.Points[0], c.Points[1]} }
func (c *Connection) End() Point   { return Point{c.Points[len(c.Points)-2], c.Points[len(c.Points)-1]} }

func (c *Connection) translate(d Point) {
	for i := 0; i+1 < len(c.Points); i += 2 {
		c.Points[i] += d.X
		c.Points[i+1] += d.Y
	}
}

// near reports whether p lies within tol of any segment of the arrow.
func (c *Connection) near(p Point, tol float64) bool {
	for i := 0; i+3 < len(c.Points); i += 2 {
		a := Point{c.Points[i], c.Points[i+1]}
		b := Point{c.Points[i+2], c.Points[i+3]}
		if segmentDistance(p, a, b) <= tol {
			return true
		}
	}
	return false
}

func segmentDistance(p, a, b Point) float64 {
	ab := b.Sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*ab.X), p.Y-(a.Y+t*ab.Y))
}

// Element is a closed union: exactly one of Node and Connection is set.
type Element struct {
	Node       *Node
	Connection *Connection
}

func (e Element) ID() string {
	switch {
	case e.Node != nil:
		return e.Node.ID
	case e.Connection != nil:
		return e.Connection.ID
	}
	return ""
}

func (e Element) IsNode() bool { return e.Node != nil }

func (e Element) clone() Element {
	switch {
	case e.Node != nil:
		n := *e.Node
		return Element{Node: &n}
	case e.Connection != nil:
		c := *e.Connection
		c.Points = append([]float64(nil), e.Connection.Points...)
		return Element{Connection: &c}
	}
	return Element{}
}

type nodeWire struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Fill    string  `json:"fill,omitempty"`
	Text    string  `json:"text,omitempty"`
	SubText string  `json:"subtext,omitempty"`
}

type connectionWire struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Points []float64 `json:"points"`
	Stroke string    `json:"stroke,omitempty"`
}

var ErrInvalidElement = errors.New("invalid diagram element")

func (e Element) MarshalJSON() ([]byte, error) {
	switch {
	case e.Node != nil:
		n := e.Node
		return json.Marshal(nodeWire{
			ID: n.ID, Type: string(n.Kind),
			X: n.X, Y: n.Y, Width: n.Width, Height: n.Height,
			Fill: n.Fill, Text: n.Text, SubText: n.SubText,
		})
	case e.Connection != nil:
		c := e.Connection
		return json.Marshal(connectionWire{
			ID: c.ID, Type: typeArrow,
			From: c.From, To: c.To,
			Points: c.Points, Stroke: c.Stroke,
		})
	}
	return nil, fmt.Errorf("%w: empty element", ErrInvalidElement)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidElement)
	}

	switch strings.ToLower(head.Type) {
	case "":
		return fmt.Errorf("%w: element %s has no type", ErrInvalidElement, head.ID)

	case typeArrow:
		var w connectionWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		if len(w.Points) < 4 || len(w.Points)%2 != 0 {
			return fmt.Errorf("%w: arrow %s needs an even number of at least 4 coordinates", ErrInvalidElement, w.ID)
		}
		*e = Element{Connection: &Connection{
			ID: w.ID, From: w.From, To: w.To, Points: w.Points, Stroke: w.Stroke,
		}}

	default:
		var w nodeWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Element{Node: &Node{
			ID: w.ID, Kind: Kind(w.Type),
			X: w.X, Y: w.Y, Width: w.Width, Height: w.Height,
			Fill: w.Fill, Text: w.Text, SubText: w.SubText,
		}}
	}
	return nil
}

// NewNode returns a node of kind at (x, y) with the editor's per-kind defaults.
func NewNode(id string, kind Kind, x, y float64) Node {
	return Node{
		ID:      id,
		Kind:    kind,
		X:       x,
		Y:       y,
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		Fill:    defaultFill(kind),
		Text:    strings.ToUpper(string(kind)),
		SubText: defaultSubText(kind),
	}
}

func defaultFill(kind Kind) string {
	switch kind {
	case KindDatabase:
		return "#f59e0b"
	case KindFirewall:
		return "#ef4444"
	case KindCloud:
		return "#8b5cf6"
	default:
		return "#0070d1"
	}
}

func defaultSubText(kind Kind) string {
	switch kind {
	case KindServer:
		return "Servidor v1"
	case KindDatabase:
		return "PostgreSQL"
	case KindFirewall:
		return "WAF/Firewall"
	default:
		return "Novo Recurso"
	}
}
