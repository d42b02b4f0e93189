// Package spatial provides an immutable 2-d tree for exact k-nearest-neighbor
// lookups over planar (lon, lat) coordinates.
package spatial

import (
	"container/heap"
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrInvalidK is returned when a query asks for fewer than one neighbor.
var ErrInvalidK = eris.New("spatial: k must be >= 1")

// ErrEmptyTree is returned when querying a tree built over zero points.
var ErrEmptyTree = eris.New("spatial: tree has no points")

// Point is a planar coordinate. X is longitude and Y is latitude.
type Point struct {
	X float64
	Y float64
}

// Neighbor is a single kNN result: the distance to the query and the index of
// the matching point in the slice the tree was built from.
type Neighbor struct {
	Distance float64
	Index    int
}

// KDTree is a balanced 2-d tree stored as a permutation of point indices.
// The median of each range [lo, hi) sits at (lo+hi)/2; the split axis
// alternates X, Y by depth. The tree is never mutated after Build.
type KDTree struct {
	points []Point
	perm   []int32
}

// Build constructs a tree over points in O(n log n). The points slice is
// copied; later changes to it do not affect the tree.
func Build(points []Point) *KDTree {
	t := &KDTree{
		points: make([]Point, len(points)),
		perm:   make([]int32, len(points)),
	}
	copy(t.points, points)
	for i := range t.perm {
		t.perm[i] = int32(i)
	}
	t.split(0, len(t.perm), 0)
	return t
}

// Restore rebuilds a tree from points and a permutation previously obtained
// from Perm. The layout is verified before the tree is returned.
func Restore(points []Point, perm []int32) (*KDTree, error) {
	if len(points) != len(perm) {
		return nil, eris.Errorf("spatial: permutation length %d does not match %d points", len(perm), len(points))
	}
	seen := make([]bool, len(perm))
	for _, idx := range perm {
		if idx < 0 || int(idx) >= len(points) || seen[idx] {
			return nil, eris.Errorf("spatial: invalid permutation entry %d", idx)
		}
		seen[idx] = true
	}

	t := &KDTree{
		points: make([]Point, len(points)),
		perm:   make([]int32, len(perm)),
	}
	copy(t.points, points)
	copy(t.perm, perm)

	if !t.valid(0, len(t.perm), 0) {
		return nil, eris.New("spatial: permutation violates tree ordering")
	}
	return t, nil
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int { return len(t.perm) }

// Perm returns a copy of the tree layout for serialization.
func (t *KDTree) Perm() []int32 {
	out := make([]int32, len(t.perm))
	copy(out, t.perm)
	return out
}

// Nearest returns the k points closest to (x, y), sorted ascending by
// distance with ties broken by index. When k exceeds the number of points it
// is clamped to Len.
func (t *KDTree) Nearest(x, y float64, k int) ([]Neighbor, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(t.perm) == 0 {
		return nil, ErrEmptyTree
	}
	if k > len(t.perm) {
		k = len(t.perm)
	}

	h := make(neighborHeap, 0, k)
	t.search(x, y, k, 0, len(t.perm), 0, &h)

	out := []Neighbor(h)
	sort.Slice(out, func(i, j int) bool { return closer(out[i], out[j]) })
	return out, nil
}

func (t *KDTree) search(x, y float64, k, lo, hi, depth int, h *neighborHeap) {
	if lo >= hi {
		return
	}
	mid := (lo + hi) / 2
	idx := int(t.perm[mid])
	p := t.points[idx]

	h.offer(Neighbor{Distance: math.Hypot(x-p.X, y-p.Y), Index: idx}, k)

	diff := x - p.X
	if depth%2 == 1 {
		diff = y - p.Y
	}

	nearLo, nearHi, farLo, farHi := lo, mid, mid+1, hi
	if diff > 0 {
		nearLo, nearHi, farLo, farHi = mid+1, hi, lo, mid
	}

	t.search(x, y, k, nearLo, nearHi, depth+1, h)
	if h.Len() < k || math.Abs(diff) <= (*h)[0].Distance {
		t.search(x, y, k, farLo, farHi, depth+1, h)
	}
}

// split arranges perm[lo:hi] so the median by the depth's axis sits at the
// middle and recurses on both halves.
func (t *KDTree) split(lo, hi, depth int) {
	if hi-lo <= 1 {
		return
	}
	mid := (lo + hi) / 2
	t.selectNth(lo, hi-1, mid, depth%2)
	t.split(lo, mid, depth+1)
	t.split(mid+1, hi, depth+1)
}

// selectNth is an in-place quickselect over perm[left:right+1] placing the
// nth element in its sorted position.
func (t *KDTree) selectNth(left, right, nth, axis int) {
	for right > left {
		pivot := t.medianOfThree(left, (left+right)/2, right, axis)
		t.perm[pivot], t.perm[right] = t.perm[right], t.perm[pivot]

		store := left
		for i := left; i < right; i++ {
			if t.less(t.perm[i], t.perm[right], axis) {
				t.perm[i], t.perm[store] = t.perm[store], t.perm[i]
				store++
			}
		}
		t.perm[store], t.perm[right] = t.perm[right], t.perm[store]

		switch {
		case store == nth:
			return
		case store < nth:
			left = store + 1
		default:
			right = store - 1
		}
	}
}

func (t *KDTree) medianOfThree(a, b, c, axis int) int {
	pa, pb, pc := t.perm[a], t.perm[b], t.perm[c]
	if t.less(pa, pb, axis) {
		switch {
		case t.less(pb, pc, axis):
			return b
		case t.less(pa, pc, axis):
			return c
		default:
			return a
		}
	}
	switch {
	case t.less(pa, pc, axis):
		return a
	case t.less(pb, pc, axis):
		return c
	default:
		return b
	}
}

// less orders points by the axis coordinate, then by index, giving a strict
// total order so builds are deterministic with duplicate coordinates.
func (t *KDTree) less(a, b int32, axis int) bool {
	ka, kb := t.key(a, axis), t.key(b, axis)
	if ka != kb {
		return ka < kb
	}
	return a < b
}

func (t *KDTree) key(idx int32, axis int) float64 {
	if axis == 0 {
		return t.points[idx].X
	}
	return t.points[idx].Y
}

func (t *KDTree) valid(lo, hi, depth int) bool {
	if hi-lo <= 1 {
		return true
	}
	mid := (lo + hi) / 2
	axis := depth % 2
	m := t.perm[mid]
	for i := lo; i < mid; i++ {
		if t.less(m, t.perm[i], axis) {
			return false
		}
	}
	for i := mid + 1; i < hi; i++ {
		if t.less(t.perm[i], m, axis) {
			return false
		}
	}
	return t.valid(lo, mid, depth+1) && t.valid(mid+1, hi, depth+1)
}

func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Index < b.Index
}

// neighborHeap is a max-heap on (distance, index): the root is the worst
// candidate currently kept.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x any) { *h = append(*h, x.(Neighbor)) }

func (h *neighborHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

func (h *neighborHeap) offer(n Neighbor, k int) {
	if h.Len() < k {
		heap.Push(h, n)
		return
	}
	if closer(n, (*h)[0]) {
		(*h)[0] = n
		heap.Fix(h, 0)
	}
}
