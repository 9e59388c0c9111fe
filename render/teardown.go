package render

// ownerNode is a vertex of the ownership tree. A node's children depend on
// it and are destroyed before it, newest first.
type ownerNode struct {
	name     string
	destroy  func()
	parent   *ownerNode
	children []*ownerNode
	released bool
}

func newOwnerTree(name string, destroy func()) *ownerNode {
	return &ownerNode{name: name, destroy: destroy}
}

// own registers a child object destroyed by destroy. destroy may be nil for
// grouping nodes.
func (n *ownerNode) own(name string, destroy func()) *ownerNode {
	child := &ownerNode{name: name, destroy: destroy, parent: n}
	n.children = append(n.children, child)
	return child
}

// release destroys the subtree rooted at n and detaches it from its parent.
// Releasing a node twice is a no-op.
func (n *ownerNode) release() {
	if n == nil || n.released {
		return
	}
	for i := len(n.children) - 1; i >= 0; i-- {
		n.children[i].releaseDetached()
	}
	n.children = nil
	n.finish()

	if p := n.parent; p != nil {
		for i, c := range p.children {
			if c == n {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		n.parent = nil
	}
}

// releaseDetached releases n without touching the parent's child list,
// which the caller is discarding.
func (n *ownerNode) releaseDetached() {
	if n.released {
		return
	}
	for i := len(n.children) - 1; i >= 0; i-- {
		n.children[i].releaseDetached()
	}
	n.children = nil
	n.parent = nil
	n.finish()
}

func (n *ownerNode) finish() {
	n.released = true
	if n.destroy != nil {
		Logger().Debug("destroying", "object", n.name)
		n.destroy()
	}
}

// size returns the number of live nodes in the subtree rooted at n.
func (n *ownerNode) size() int {
	if n == nil || n.released {
		return 0
	}
	total := 1
	for _, c := range n.children {
		total += c.size()
	}
	return total
}
