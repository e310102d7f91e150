// Package arena holds the navigable cell grid of one round and the generators that
// produce it.
package arena

import (
	"fmt"
	"math"
	"strings"
)

// Cell is a logical grid coordinate. Comparable, so it can key maps directly.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) Add(d Dir) Cell {
	dx, dy := d.Delta()
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// DistSq is the squared straight-line distance between two cells.
func (c Cell) DistSq(o Cell) int {
	dx := c.X - o.X
	dy := c.Y - o.Y
	return dx*dx + dy*dy
}

// Dir is one of the four axis-aligned moves. The numeric order is part of the
// generation contract: RNG draws 0..3 map to up, down, left, right.
type Dir int

const (
	DirUp Dir = iota
	DirDown
	DirLeft
	DirRight
)

// Dirs lists the four directions in RNG draw order for carving and manual input.
// DirUp is -Y, the row above in Rows. Path search uses its own neighbour order.
var Dirs = [4]Dir{DirUp, DirDown, DirLeft, DirRight}

func (d Dir) Delta() (dx, dy int) {
	switch d {
	case DirUp:
		return 0, -1
	case DirDown:
		return 0, 1
	case DirLeft:
		return -1, 0
	case DirRight:
		return 1, 0
	default:
		return 0, 0
	}
}

func (d Dir) String() string {
	switch d {
	case DirUp:
		return "UP"
	case DirDown:
		return "DOWN"
	case DirLeft:
		return "LEFT"
	case DirRight:
		return "RIGHT"
	default:
		return "NONE"
	}
}

// ParseDir accepts the wire names used by observer input messages.
func ParseDir(s string) (Dir, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "U", "W":
		return DirUp, true
	case "DOWN", "D", "S":
		return DirDown, true
	case "LEFT", "L", "A":
		return DirLeft, true
	case "RIGHT", "R":
		return DirRight, true
	default:
		return 0, false
	}
}

// Vec2 is a position on the world ground plane (x, z), centered on the arena.
type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

func (v Vec2) Dist(o Vec2) float64 {
	return math.Hypot(v.X-o.X, v.Z-o.Z)
}

// MoveTowards steps v toward target by at most maxStep and never overshoots.
func (v Vec2) MoveTowards(target Vec2, maxStep float64) Vec2 {
	d := v.Dist(target)
	if d <= maxStep || d == 0 {
		return target
	}
	t := maxStep / d
	return Vec2{X: v.X + (target.X-v.X)*t, Z: v.Z + (target.Z-v.Z)*t}
}

// Grid is a width x height field of blocked flags. It is only mutated by the
// generators in this package; after Build returns it is read-only and safe to share.
type Grid struct {
	width    int
	height   int
	cellSize float64
	blocked  []bool
}

func newGrid(w, h int, cellSize float64, fill bool) *Grid {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if cellSize <= 0 {
		cellSize = 1
	}
	g := &Grid{width: w, height: h, cellSize: cellSize, blocked: make([]bool, w*h)}
	if fill {
		for i := range g.blocked {
			g.blocked[i] = true
		}
	}
	return g
}

// FromRows builds a grid from an ASCII layout: '#' is blocked, anything else is open.
// Rows are indexed by y, columns by x. Short rows are padded with blocked cells.
func FromRows(rows []string, cellSize float64) *Grid {
	w := 0
	for _, r := range rows {
		if len(r) > w {
			w = len(r)
		}
	}
	g := newGrid(w, len(rows), cellSize, true)
	for y, r := range rows {
		for x := 0; x < len(r); x++ {
			g.blocked[y*g.width+x] = r[x] == '#'
		}
	}
	return g
}

func (g *Grid) Width() int        { return g.width }
func (g *Grid) Height() int       { return g.height }
func (g *Grid) CellSize() float64 { return g.cellSize }

func (g *Grid) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < g.width && c.Y >= 0 && c.Y < g.height
}

// IsBlocked reports true for blocked cells and for every out-of-bounds cell.
func (g *Grid) IsBlocked(c Cell) bool {
	if !g.InBounds(c) {
		return true
	}
	return g.blocked[c.Y*g.width+c.X]
}

func (g *Grid) setOpen(c Cell) {
	g.blocked[c.Y*g.width+c.X] = false
}

// Center is the carve start cell.
func (g *Grid) Center() Cell {
	return Cell{X: g.width / 2, Y: g.height / 2}
}

func (g *Grid) OpenCount() int {
	n := 0
	for _, b := range g.blocked {
		if !b {
			n++
		}
	}
	return n
}

// FirstOpen scans row-major and returns the first unblocked cell.
func (g *Grid) FirstOpen() (Cell, bool) {
	for i, b := range g.blocked {
		if !b {
			return Cell{X: i % g.width, Y: i / g.width}, true
		}
	}
	return Cell{}, false
}

// OpenCells lists unblocked cells in row-major order.
func (g *Grid) OpenCells() []Cell {
	out := make([]Cell, 0, len(g.blocked))
	for i, b := range g.blocked {
		if !b {
			out = append(out, Cell{X: i % g.width, Y: i / g.width})
		}
	}
	return out
}

// Rows renders the grid with '#' for blocked and '.' for open cells.
func (g *Grid) Rows() []string {
	out := make([]string, g.height)
	var sb strings.Builder
	for y := 0; y < g.height; y++ {
		sb.Reset()
		for x := 0; x < g.width; x++ {
			if g.blocked[y*g.width+x] {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		out[y] = sb.String()
	}
	return out
}

// Bits packs the blocked flags row-major, LSB first.
func (g *Grid) Bits() []byte {
	out := make([]byte, (len(g.blocked)+7)/8)
	for i, b := range g.blocked {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// GridToWorld returns the world-space center of c; the arena is centered on the origin.
func (g *Grid) GridToWorld(c Cell) Vec2 {
	x := (float64(c.X)-float64(g.width)/2)*g.cellSize + g.cellSize/2
	z := (float64(c.Y)-float64(g.height)/2)*g.cellSize + g.cellSize/2
	return Vec2{X: x, Z: z}
}

// WorldToGrid is the inverse of GridToWorld; the result may be out of bounds.
func (g *Grid) WorldToGrid(v Vec2) Cell {
	x := int(math.Floor((v.X + float64(g.width)*g.cellSize/2) / g.cellSize))
	y := int(math.Floor((v.Z + float64(g.height)*g.cellSize/2) / g.cellSize))
	return Cell{X: x, Y: y}
}
