package mega

import "log/slog"

type mutationKind int

const (
	mutAdd mutationKind = iota
	mutMove
	mutRename
	mutDelete
)

// mutation is one locally applied change the server has confirmed but the
// last full listing does not reflect yet.
type mutation struct {
	seq    uint64
	kind   mutationKind
	node   *Node  // mutAdd
	handle string // mutMove, mutRename, mutDelete
	parent string // mutMove
	name   string // mutMove (optional), mutRename
	meta   map[string]any
}

// applyMutations builds a new snapshot from base with muts applied in order.
// base is not modified.
func applyMutations(base *Tree, muts []mutation, logger *slog.Logger) *Tree {
	if len(muts) == 0 {
		return base
	}

	nodes := make(map[string]*Node, len(base.nodes)+len(muts))
	for h, n := range base.nodes {
		nodes[h] = n
	}

	// Nodes are shared with base; copy before the first write.
	own := func(h string) *Node {
		n := nodes[h]
		if n == nil {
			return nil
		}

		c := n.clone()
		nodes[h] = c

		return c
	}

	for _, m := range muts {
		switch m.kind {
		case mutAdd:
			nodes[m.node.Handle] = m.node
		case mutMove:
			if n := own(m.handle); n != nil {
				n.Parent = m.parent
				if m.name != "" {
					n.Name = m.name
				}
			}
		case mutRename:
			if n := own(m.handle); n != nil {
				n.Name = m.name
				if m.meta != nil {
					n.meta = m.meta
				}
			}
		case mutDelete:
			removeSubtree(nodes, m.handle)
		}
	}

	list := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		list = append(list, n)
	}

	return newTree(list, logger)
}

// removeSubtree deletes handle and everything below it from nodes.
func removeSubtree(nodes map[string]*Node, handle string) {
	children := make(map[string][]string, len(nodes))
	for h, n := range nodes {
		children[n.Parent] = append(children[n.Parent], h)
	}

	stack := []string{handle}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		delete(nodes, h)
		stack = append(stack, children[h]...)
	}
}
