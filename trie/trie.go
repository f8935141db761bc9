// Package trie implements a memory-compact, reference-counted patricia
// (radix) trie over byte strings.
//
// Each node stores a bounded prefix plus a child representation that
// adapts on the fly between a small sparse array (linear scan over a
// handful of discriminator bytes) and a dense array (direct byte-indexed
// lookup) once fan-out grows past a threshold. Add/Remove split, attach,
// compact and re-densify/re-sparsify nodes so the invariant "a node
// exists only while it is either a live subscription or has at least one
// child" always holds.
package trie

const (
	// PrefixMax bounds the number of prefix bytes a single node can hold.
	PrefixMax = 10
	// SparseMax bounds the fan-out of a node's sparse child representation.
	SparseMax = 8
	// DenseThreshold is the fan-out at which a node converts to dense.
	DenseThreshold = SparseMax + 1
)

// AddResult reports whether Add created a brand new subscription or
// incremented an existing one.
type AddResult int

const (
	NewSubscription AddResult = iota
	Duplicate
)

// RemoveResult reports the outcome of Remove.
type RemoveResult int

const (
	Removed RemoveResult = iota
	Decremented
	NotFound
)

// node is a single patricia trie node. In Sparse mode, discs and
// children are parallel arrays of length <= SparseMax. In Dense mode,
// children is indexed by byte-min and occupied counts non-nil entries.
type node struct {
	refcount uint32
	prefix   []byte

	dense bool

	discs    []byte
	children []*node

	min, max byte
	occupied int
}

func leaf(prefix []byte) *node {
	return &node{prefix: append([]byte(nil), prefix...)}
}

func (n *node) hasSubscribers() bool { return n.refcount > 0 }

func (n *node) childCount() int {
	if n.dense {
		return n.occupied
	}
	return len(n.children)
}

// checkPrefix returns how many leading bytes of data match n.prefix.
func (n *node) checkPrefix(data []byte) int {
	i := 0
	for i < len(n.prefix) && i < len(data) && n.prefix[i] == data[i] {
		i++
	}
	return i
}

// next returns the child reached by discriminator byte c, or nil.
func (n *node) next(c byte) *node {
	if n.dense {
		if c < n.min || c > n.max {
			return nil
		}
		return n.children[int(c)-int(n.min)]
	}
	for i, d := range n.discs {
		if d == c {
			return n.children[i]
		}
	}
	return nil
}

// childRef returns a pointer to the child slot for discriminator byte c.
// Precondition: the child exists.
func (n *node) childRef(c byte) **node {
	if n.dense {
		idx := int(c) - int(n.min)
		return &n.children[idx]
	}
	for i, d := range n.discs {
		if d == c {
			return &n.children[i]
		}
	}
	panic("trie: childRef called for absent discriminator")
}

// attach installs child under discriminator byte c, growing or
// converting the child representation as necessary. Precondition: no
// child for c exists yet.
func (n *node) attach(c byte, child *node) {
	if n.dense {
		if c < n.min || c > n.max {
			newMin, newMax := n.min, n.max
			if c < newMin {
				newMin = c
			}
			if c > newMax {
				newMax = c
			}
			grown := make([]*node, int(newMax-newMin)+1)
			copy(grown[int(n.min-newMin):], n.children)
			n.children = grown
			n.min, n.max = newMin, newMax
		}
		n.children[int(c)-int(n.min)] = child
		n.occupied++
		return
	}

	if len(n.discs) < SparseMax {
		n.discs = append(n.discs, c)
		n.children = append(n.children, child)
		return
	}

	// Sparse is full: convert to dense, then attach.
	newMin, newMax := c, c
	for _, d := range n.discs {
		if d < newMin {
			newMin = d
		}
		if d > newMax {
			newMax = d
		}
	}
	dense := make([]*node, int(newMax-newMin)+1)
	for i, d := range n.discs {
		dense[int(d-newMin)] = n.children[i]
	}
	n.dense = true
	n.min, n.max = newMin, newMax
	n.occupied = len(n.discs)
	n.discs = nil
	n.children = dense
	n.children[int(c-newMin)] = child
	n.occupied++
}

// detach removes the child reached by discriminator byte c, shrinking or
// demoting the representation as required. Precondition: a child for c
// exists.
func (n *node) detach(c byte) {
	if !n.dense {
		idx := -1
		for i, d := range n.discs {
			if d == c {
				idx = i
				break
			}
		}
		n.discs = append(n.discs[:idx], n.discs[idx+1:]...)
		n.children = append(n.children[:idx], n.children[idx+1:]...)
		return
	}

	wasDense := n.occupied
	n.children[int(c)-int(n.min)] = nil
	n.occupied--

	if wasDense > SparseMax+1 {
		if c == n.min {
			i := 0
			for i < len(n.children) && n.children[i] == nil {
				i++
			}
			n.min += byte(i)
			n.children = n.children[i:]
		} else if c == n.max {
			i := len(n.children) - 1
			for i >= 0 && n.children[i] == nil {
				i--
			}
			n.max = n.min + byte(i)
			n.children = n.children[:i+1]
		}
		return
	}

	// Demote to sparse: walk the occupied byte range in order.
	discs := make([]byte, 0, n.occupied)
	children := make([]*node, 0, n.occupied)
	for i, ch := range n.children {
		if ch != nil {
			discs = append(discs, n.min+byte(i))
			children = append(children, ch)
		}
	}
	n.dense = false
	n.discs = discs
	n.children = children
	n.min, n.max, n.occupied = 0, 0, 0
}

// compact fuses self with its sole child when self carries no
// subscription of its own and the combined prefix still fits PrefixMax.
// Returns the node that should replace self in the parent (self itself
// if no fusion happened).
func compact(self *node) *node {
	if self.hasSubscribers() || self.childCount() != 1 {
		return self
	}

	var disc byte
	var child *node
	if self.dense {
		disc, child = self.min, self.children[0]
	} else {
		disc, child = self.discs[0], self.children[0]
	}

	if len(self.prefix)+len(child.prefix)+1 > PrefixMax {
		return self
	}

	fused := make([]byte, 0, len(self.prefix)+1+len(child.prefix))
	fused = append(fused, self.prefix...)
	fused = append(fused, disc)
	fused = append(fused, child.prefix...)
	child.prefix = fused
	return child
}

// chain builds a run of fresh nodes to carry data, chunked into
// PrefixMax-byte segments linked by single discriminator bytes, as
// described for insertion step 6. It returns the head of the chain
// (what the caller links into the trie) and the terminal node (whose
// refcount the caller increments).
func chain(data []byte) (head, term *node) {
	n := leaf(data[:min(len(data), PrefixMax)])
	head = n
	data = data[len(n.prefix):]
	for len(data) > 0 {
		c := data[0]
		data = data[1:]
		next := leaf(data[:min(len(data), PrefixMax)])
		data = data[len(next.prefix):]
		n.discs = []byte{c}
		n.children = []*node{next}
		n = next
	}
	return head, n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Trie is a reference-counted patricia trie over byte strings. The zero
// value is an empty, ready-to-use trie.
type Trie struct {
	root *node
}

// Add inserts data into the trie, incrementing the terminal node's
// refcount. Returns NewSubscription on a 0->1 transition, Duplicate
// otherwise.
func (t *Trie) Add(data []byte) AddResult {
	if t.root == nil {
		head, term := chain(data)
		term.refcount++
		t.root = head
		return resultFor(term.refcount)
	}

	slot := &t.root
	for {
		n := *slot
		pos := n.checkPrefix(data)
		data = data[pos:]

		if pos < len(n.prefix) {
			// Split: carve out the matched pos bytes into a new parent
			// node; n keeps the remaining suffix and becomes the parent's
			// sole child.
			splitDisc := n.prefix[pos]
			parentPrefix := n.prefix[:pos]
			n.prefix = append([]byte(nil), n.prefix[pos+1:]...)

			parent := &node{prefix: append([]byte(nil), parentPrefix...)}
			parent.discs = []byte{splitDisc}
			parent.children = []*node{compact(n)}
			*slot = parent

			if len(data) == 0 {
				parent.refcount++
				return resultFor(parent.refcount)
			}
			slot, data = attach(parent, data)
			break
		}

		if len(data) == 0 {
			n.refcount++
			return resultFor(n.refcount)
		}

		child := n.next(data[0])
		if child == nil {
			slot, data = attach(n, data)
			break
		}
		slot = n.childRef(data[0])
		data = data[1:]
	}

	// *slot is a freshly-attached nil child slot awaiting the remaining
	// bytes of data (insertion step 6).
	head, term := chain(data)
	term.refcount++
	*slot = head
	return resultFor(term.refcount)
}

// attach installs a new branch off n keyed by data[0] (nil child slot)
// and returns a pointer to that slot along with the bytes remaining
// after the discriminator, for the caller to fill in with a chain.
func attach(n *node, data []byte) (**node, []byte) {
	c := data[0]
	n.attach(c, nil)
	return n.childRef(c), data[1:]
}

func resultFor(refcount uint32) AddResult {
	if refcount == 1 {
		return NewSubscription
	}
	return Duplicate
}

// Match returns true iff some string stored in the trie is a byte-wise
// prefix of query.
func (t *Trie) Match(query []byte) bool {
	n := t.root
	for n != nil {
		if n.checkPrefix(query) != len(n.prefix) {
			return false
		}
		query = query[len(n.prefix):]
		if n.hasSubscribers() {
			return true
		}
		if len(query) == 0 {
			return false
		}
		n = n.next(query[0])
		query = query[1:]
	}
	return false
}

// Contains reports whether data was itself subscribed (refcount > 0),
// as opposed to Match, which also returns true for any string that
// merely has data as a prefix. Callers use this to keep a second Add
// of the same exact string from pushing refcount above 1 when that
// isn't wanted.
func (t *Trie) Contains(data []byte) bool {
	n := t.root
	for n != nil {
		pos := n.checkPrefix(data)
		if pos != len(n.prefix) {
			return false
		}
		data = data[pos:]
		if len(data) == 0 {
			return n.hasSubscribers()
		}
		n = n.next(data[0])
		data = data[1:]
	}
	return false
}

// Remove decrements the refcount of the string identified by data,
// pruning and compacting the trie as needed.
func (t *Trie) Remove(data []byte) RemoveResult {
	result, newRoot := removeNode(t.root, data)
	if result != NotFound {
		t.root = newRoot
	}
	return result
}

func removeNode(self *node, data []byte) (RemoveResult, *node) {
	if self == nil {
		return NotFound, nil
	}

	if self.checkPrefix(data) != len(self.prefix) {
		return NotFound, self
	}
	data = data[len(self.prefix):]

	if len(data) == 0 {
		if !self.hasSubscribers() {
			return NotFound, self
		}
		self.refcount--
		if self.refcount > 0 {
			return Decremented, self
		}
		if self.childCount() == 0 {
			return Removed, nil
		}
		return Removed, compact(self)
	}

	c := data[0]
	child := self.next(c)
	if child == nil {
		return NotFound, self
	}

	result, newChild := removeNode(child, data[1:])
	if result == NotFound {
		return NotFound, self
	}
	if newChild != nil {
		*self.childRef(c) = newChild
		return result, self
	}

	self.detach(c)
	if self.childCount() == 0 && !self.hasSubscribers() {
		return Removed, nil
	}
	return Removed, compact(self)
}
