package diagram

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gofrs/uuid/v5"
)

type Tool string

const (
	ToolSelect Tool = "select"
	ToolHand   Tool = "hand"
	ToolArrow  Tool = "arrow"
)

type State int

const (
	StateIdle State = iota
	StateDrawing
	StateDragging
	StatePanning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrawing:
		return "drawing"
	case StateDragging:
		return "dragging"
	case StatePanning:
		return "panning"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	GridSize = 10.0

	// placement of nodes created by Add
	originX = 150.0
	originY = 150.0
	stepX   = 200.0
	stepY   = 120.0
	boundW  = 1600.0
	boundH  = 1000.0

	arrowHitTolerance = 5.0
)

// Snap rounds v to the nearest grid line.
func Snap(v float64) float64 {
	return math.Round(v/GridSize) * GridSize
}

type Option func(*Canvas)

// WithIDGenerator replaces the UUID generator used for new elements.
func WithIDGenerator(gen func() string) Option {
	return func(c *Canvas) { c.newID = gen }
}

// Canvas owns the element list and turns pointer gestures into mutations of
// it. It is not safe for concurrent use; callers drive it from one event loop.
type Canvas struct {
	elements []Element
	selected string
	tool     Tool
	state    State
	offset   Point // stage pan, canvas = screen - offset

	// active gesture
	gestureID   string
	pointerFrom Point
	elemFrom    Point
	preview     Point
	draft       *Connection

	lastAdded string
	lastPos   *Point

	newID func() string
}

func NewCanvas(opts ...Option) *Canvas {
	c := &Canvas{
		tool:  ToolSelect,
		state: StateIdle,
		newID: func() string { return uuid.Must(uuid.NewV4()).String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Canvas) Tool() Tool    { return c.tool }
func (c *Canvas) State() State  { return c.state }
func (c *Canvas) Offset() Point { return c.offset }

// SetTool switches the active tool, abandoning any gesture in progress.
func (c *Canvas) SetTool(t Tool) {
	c.tool = t
	c.resetGesture()
}

func (c *Canvas) resetGesture() {
	c.state = StateIdle
	c.gestureID = ""
	c.draft = nil
}

// Elements returns a copy of the element list in paint order.
func (c *Canvas) Elements() []Element {
	out := make([]Element, len(c.elements))
	for i, e := range c.elements {
		out[i] = e.clone()
	}
	return out
}

func (c *Canvas) Nodes() []Node {
	var out []Node
	for _, e := range c.elements {
		if e.Node != nil {
			out = append(out, *e.Node)
		}
	}
	return out
}

func (c *Canvas) Connections() []Connection {
	var out []Connection
	for _, e := range c.elements {
		if e.Connection != nil {
			out = append(out, *e.clone().Connection)
		}
	}
	return out
}

func (c *Canvas) Find(id string) (Element, bool) {
	if i := c.index(id); i >= 0 {
		return c.elements[i].clone(), true
	}
	return Element{}, false
}

func (c *Canvas) index(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range c.elements {
		if e.ID() == id {
			return i
		}
	}
	return -1
}

func (c *Canvas) node(id string) *Node {
	if i := c.index(id); i >= 0 {
		return c.elements[i].Node
	}
	return nil
}

// Selected returns the sole selected element, if any.
func (c *Canvas) Selected() (Element, bool) {
	return c.Find(c.selected)
}

// Select makes id the sole selection. Unknown ids clear the selection.
func (c *Canvas) Select(id string) bool {
	if c.index(id) < 0 {
		c.selected = ""
		return false
	}
	c.selected = id
	return true
}

func (c *Canvas) ClearSelection() { c.selected = "" }

// HitTest returns the topmost element under the canvas point p, or "".
func (c *Canvas) HitTest(p Point) string {
	for i := len(c.elements) - 1; i >= 0; i-- {
		e := c.elements[i]
		switch {
		case e.Node != nil:
			if e.Node.Contains(p) {
				return e.Node.ID
			}
		case e.Connection != nil:
			if e.Connection.near(p, arrowHitTolerance) {
				return e.Connection.ID
			}
		}
	}
	return ""
}

// ScreenToCanvas converts a stage point into canvas coordinates.
func (c *Canvas) ScreenToCanvas(p Point) Point { return p.Sub(c.offset) }

// PointerDown starts a gesture at stage point pt. hitID is the element under
// the pointer as reported by the renderer, or "" for empty canvas.
func (c *Canvas) PointerDown(pt Point, hitID string) {
	if c.state != StateIdle {
		c.resetGesture()
	}
	cp := c.ScreenToCanvas(pt)

	if c.tool == ToolHand {
		c.state = StatePanning
		c.pointerFrom = pt
		c.elemFrom = c.offset
		return
	}

	i := c.index(hitID)
	if i < 0 {
		c.selected = ""
		if c.tool == ToolArrow {
			c.state = StateDrawing
			c.draft = &Connection{
				ID:     c.newID(),
				Points: []float64{cp.X, cp.Y, cp.X, cp.Y},
				Stroke: DefaultStroke,
			}
		}
		return
	}

	e := c.elements[i]
	c.selected = hitID
	if c.tool != ToolSelect {
		return
	}

	switch {
	case e.Node != nil:
		c.elemFrom = Point{e.Node.X, e.Node.Y}
	case e.Connection != nil:
		if e.Connection.Bound() {
			return
		}
		c.elemFrom = e.Connection.Start()
	}
	c.state = StateDragging
	c.gestureID = hitID
	c.pointerFrom = cp
	c.preview = c.elemFrom
}

// PointerMove updates the transient state of the current gesture. The
// element list is not touched until PointerUp.
func (c *Canvas) PointerMove(pt Point) {
	switch c.state {
	case StateDrawing:
		cp := c.ScreenToCanvas(pt)
		c.draft.Points[2], c.draft.Points[3] = cp.X, cp.Y
	case StateDragging:
		c.preview = c.elemFrom.Add(c.ScreenToCanvas(pt).Sub(c.pointerFrom))
	case StatePanning:
		c.offset = c.elemFrom.Add(pt.Sub(c.pointerFrom))
	}
}

// PointerUp finishes the current gesture and commits its result.
func (c *Canvas) PointerUp(pt Point) {
	c.PointerMove(pt)

	switch c.state {
	case StateDrawing:
		c.elements = append(c.elements, Element{Connection: c.draft})

	case StateDragging:
		i := c.index(c.gestureID)
		if i < 0 {
			break
		}
		e := c.elements[i]
		switch {
		case e.Node != nil:
			e.Node.X, e.Node.Y = Snap(c.preview.X), Snap(c.preview.Y)
			c.recompute(e.Node.ID)
		case e.Connection != nil:
			e.Connection.translate(c.preview.Sub(c.elemFrom))
		}
	}
	c.resetGesture()
}

// DragPreview reports the transient top-left (node) or start point
// (connection) of the element being dragged.
func (c *Canvas) DragPreview() (string, Point, bool) {
	if c.state != StateDragging {
		return "", Point{}, false
	}
	return c.gestureID, c.preview, true
}

// Draft returns the arrow being drawn, if any.
func (c *Canvas) Draft() (Connection, bool) {
	if c.state != StateDrawing || c.draft == nil {
		return Connection{}, false
	}
	return *Element{Connection: c.draft}.clone().Connection, true
}

// recompute re-anchors every bound connection touching nodeID.
func (c *Canvas) recompute(nodeID string) {
	for _, e := range c.elements {
		conn := e.Connection
		if conn == nil || !conn.Bound() || !conn.References(nodeID) {
			continue
		}
		from, to := c.node(conn.From), c.node(conn.To)
		if from == nil || to == nil {
			continue
		}
		conn.Points = anchorPoints(from, to)
	}
}

func anchorPoints(from, to *Node) []float64 {
	a, b := from.Anchor(), to.Anchor()
	return []float64{a.X, a.Y, b.X, b.Y}
}

func (c *Canvas) nextPosition() Point {
	var last *Point
	if n := c.node(c.lastAdded); n != nil {
		last = &Point{n.X, n.Y}
	} else if c.lastPos != nil {
		last = c.lastPos
	}
	if last == nil {
		return Point{originX, originY}
	}

	p := Point{last.X + stepX, last.Y}
	if p.X+DefaultWidth > boundW {
		p = Point{originX, p.Y + stepY}
	}
	if p.Y+DefaultHeight > boundH {
		p = Point{originX, originY}
	}
	return p
}

// Add places a new node of kind and selects it. When a node was selected it
// is connected to the new one.
func (c *Canvas) Add(kind Kind) Node {
	pos := c.nextPosition()
	n := NewNode(c.newID(), kind, pos.X, pos.Y)
	c.elements = append(c.elements, Element{Node: &n})

	if from := c.node(c.selected); from != nil {
		c.elements = append(c.elements, Element{Connection: &Connection{
			ID:     c.newID(),
			From:   from.ID,
			To:     n.ID,
			Points: anchorPoints(from, &n),
			Stroke: DefaultStroke,
		}})
	}

	c.lastAdded = n.ID
	c.lastPos = &Point{n.X, n.Y}
	c.selected = n.ID
	return n
}

// Delete removes the selected element. Deleting a node also deletes every
// connection that references it.
func (c *Canvas) Delete() bool {
	i := c.index(c.selected)
	if i < 0 {
		return false
	}
	removed := c.elements[i]
	c.selected = ""

	kept := c.elements[:0]
	for _, e := range c.elements {
		if e.ID() == removed.ID() {
			continue
		}
		if removed.Node != nil && e.Connection != nil && e.Connection.References(removed.Node.ID) {
			continue
		}
		kept = append(kept, e)
	}
	c.elements = kept
	return true
}

// Clear empties the canvas.
func (c *Canvas) Clear() {
	c.elements = nil
	c.selected = ""
	c.lastAdded = ""
	c.lastPos = nil
	c.resetGesture()
}

// Visible returns the elements to render. Connections pointing at a node
// that no longer exists are skipped.
func (c *Canvas) Visible() []Element {
	out := make([]Element, 0, len(c.elements))
	for _, e := range c.elements {
		if conn := e.Connection; conn != nil {
			if (conn.From != "" && c.node(conn.From) == nil) || (conn.To != "" && c.node(conn.To) == nil) {
				continue
			}
		}
		out = append(out, e.clone())
	}
	return out
}

// Serialize encodes the whole element list.
func (c *Canvas) Serialize() ([]byte, error) {
	if len(c.elements) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(c.elements)
}

// Load replaces the element list with data. On error the canvas is unchanged.
func (c *Canvas) Load(data []byte) error {
	elements, err := Decode(data)
	if err != nil {
		return err
	}

	c.elements = elements
	c.selected = ""
	c.lastAdded = ""
	c.lastPos = nil
	for i := len(elements) - 1; i >= 0; i-- {
		if n := elements[i].Node; n != nil {
			c.lastAdded = n.ID
			break
		}
	}
	c.resetGesture()
	return nil
}

// Decode parses a serialized element list and rejects duplicate ids.
func Decode(data []byte) ([]Element, error) {
	var elements []Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decode diagram: %w", err)
	}
	seen := make(map[string]struct{}, len(elements))
	for _, e := range elements {
		if e.ID() == "" {
			return nil, fmt.Errorf("%w: element without id", ErrInvalidElement)
		}
		if _, dup := seen[e.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidElement, e.ID())
		}
		seen[e.ID()] = struct{}{}
	}
	return elements, nil
}
