package entity

import "gridarena.ai/internal/sim/arena"

// Index keeps one round's entities in creation order, grouped by kind, with static
// entities also indexed by cell. It is not safe for concurrent use.
type Index struct {
	all    []*Entity
	live   [numKinds][]*Entity
	byCell map[arena.Cell][]*Entity
}

func NewIndex() *Index {
	return &Index{byCell: map[arena.Cell][]*Entity{}}
}

func (ix *Index) Add(e Entity) *Entity {
	p := &e
	p.ID = ID(len(ix.all) + 1)
	ix.all = append(ix.all, p)
	ix.live[p.Kind] = append(ix.live[p.Kind], p)
	if !p.Kind.Mobile() {
		ix.byCell[p.Cell] = append(ix.byCell[p.Cell], p)
	}
	return p
}

func (ix *Index) Get(id ID) *Entity {
	i := int(id) - 1
	if i < 0 || i >= len(ix.all) {
		return nil
	}
	return ix.all[i]
}

// Remove marks e removed and drops it from the live and cell views.
func (ix *Index) Remove(e *Entity) {
	if e == nil || e.Removed {
		return
	}
	e.Removed = true
	ix.live[e.Kind] = without(ix.live[e.Kind], e)
	if !e.Kind.Mobile() {
		rest := without(ix.byCell[e.Cell], e)
		if len(rest) == 0 {
			delete(ix.byCell, e.Cell)
		} else {
			ix.byCell[e.Cell] = rest
		}
	}
}

// Live returns the live entities of kind k in creation order. The slice is shared;
// callers must not modify it.
func (ix *Index) Live(k Kind) []*Entity { return ix.live[k] }

func (ix *Index) First(k Kind) *Entity {
	if l := ix.live[k]; len(l) > 0 {
		return l[0]
	}
	return nil
}

func (ix *Index) Count(k Kind) int { return len(ix.live[k]) }

// At returns the live static entities on c in creation order.
func (ix *Index) At(c arena.Cell) []*Entity { return ix.byCell[c] }

// All returns every entity created this round, removed ones included.
func (ix *Index) All() []*Entity { return ix.all }

func (ix *Index) Len() int { return len(ix.all) }

// NearestCollectible returns the live collectible closest to from by straight-line
// distance. Ties go to the earliest created.
func (ix *Index) NearestCollectible(from arena.Cell) (*Entity, bool) {
	var best *Entity
	bestD := 0
	for _, e := range ix.live[KindCollectible] {
		d := from.DistSq(e.Cell)
		if best == nil || d < bestD {
			best, bestD = e, d
		}
	}
	return best, best != nil
}

// Reset drops every entity; used at round teardown.
func (ix *Index) Reset() {
	ix.all = nil
	for k := range ix.live {
		ix.live[k] = nil
	}
	ix.byCell = map[arena.Cell][]*Entity{}
}

func without(list []*Entity, e *Entity) []*Entity {
	for i, x := range list {
		if x == e {
			out := make([]*Entity, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	return list
}
