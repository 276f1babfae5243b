package mega

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Tree is an immutable snapshot of the remote filesystem. Every non-root node
// in a Tree has a parent in the same Tree; nodes whose parent is missing are
// dropped when the snapshot is built.
//
// Paths start at a named root ("/Root", "/Inbox", "/Trash") or at a confirmed
// contact's email for incoming shares ("/bob@example.com/Shared"). Names are
// compared after NFC normalization. Siblings may share a name; resolution
// then picks the earliest-created node, breaking timestamp ties by the
// smaller handle.
// Children are listed in that same order (name, then timestamp, then handle).
type Tree struct {
	nodes    map[string]*Node
	children map[string][]*Node
	roots    map[NodeKind]*Node
	contacts []*Node
}

// newTree indexes nodes. logger may be nil.
func newTree(nodes []*Node, logger *slog.Logger) *Tree {
	t := &Tree{
		nodes:    make(map[string]*Node, len(nodes)),
		children: make(map[string][]*Node),
		roots:    make(map[NodeKind]*Node, 3),
	}

	for _, n := range nodes {
		t.nodes[n.Handle] = n
	}

	for _, n := range nodes {
		switch {
		case n.IsRoot():
			t.roots[n.Kind] = n
		case n.Kind == KindContact:
			if n.visible {
				t.contacts = append(t.contacts, n)
			}
		default:
			if _, ok := t.nodes[n.Parent]; !ok {
				if logger != nil {
					logger.Debug("dropping orphan node",
						slog.String("handle", n.Handle),
						slog.String("parent", n.Parent),
					)
				}

				delete(t.nodes, n.Handle)

				continue
			}

			t.children[n.Parent] = append(t.children[n.Parent], n)
		}
	}

	// A node whose ancestor chain was dropped is itself unreachable.
	for h, n := range t.nodes {
		if !t.reachable(n) {
			delete(t.nodes, h)
		}
	}

	for parent, kids := range t.children {
		kids = slices.DeleteFunc(kids, func(n *Node) bool { return t.nodes[n.Handle] == nil })
		slices.SortFunc(kids, compareSiblings)
		t.children[parent] = kids
	}

	slices.SortFunc(t.contacts, func(a, b *Node) int { return strings.Compare(a.Name, b.Name) })

	return t
}

func (t *Tree) reachable(n *Node) bool {
	seen := 0
	for n != nil {
		if n.IsRoot() || n.Kind == KindContact {
			return true
		}

		if seen > len(t.nodes) {
			return false
		}

		seen++
		n = t.nodes[n.Parent]
	}

	return false
}

func compareSiblings(a, b *Node) int {
	if c := strings.Compare(norm.NFC.String(a.Name), norm.NFC.String(b.Name)); c != 0 {
		return c
	}

	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}

	return strings.Compare(a.Handle, b.Handle)
}

// Len returns the number of nodes in the snapshot.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node with handle, or nil.
func (t *Tree) Node(handle string) *Node {
	return t.nodes[handle]
}

// Root returns the named root of kind k, or nil.
func (t *Tree) Root(k NodeKind) *Node {
	return t.roots[k]
}

// Children returns the ordered children of handle.
func (t *Tree) Children(handle string) []*Node {
	return slices.Clone(t.children[handle])
}

// Contacts returns confirmed contacts ordered by email.
func (t *Tree) Contacts() []*Node {
	return slices.Clone(t.contacts)
}

// Stat resolves path and returns nil when it does not resolve.
func (t *Tree) Stat(path string) *Node {
	n, err := t.resolve(path)
	if err != nil {
		return nil
	}

	return n
}

// List returns the children of path, or with recursive every descendant in
// depth-first pre-order. "/" lists the named roots.
func (t *Tree) List(path string, recursive bool) ([]*Node, error) {
	var start []*Node

	if strings.Trim(path, "/") == "" && strings.HasPrefix(path, "/") {
		for _, k := range []NodeKind{KindRoot, KindInbox, KindTrash} {
			if r := t.roots[k]; r != nil {
				start = append(start, r)
			}
		}
	} else {
		n, err := t.resolve(path)
		if err != nil {
			return nil, err
		}

		if !n.IsFolder() {
			return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidArgument, path)
		}

		start = t.children[n.Handle]
	}

	if !recursive {
		return slices.Clone(start), nil
	}

	var out []*Node

	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, n)
			walk(t.children[n.Handle])
		}
	}

	walk(start)

	return out, nil
}

// PathOf returns the absolute path of handle, or "" when it is not in the
// snapshot.
func (t *Tree) PathOf(handle string) string {
	var segs []string

	for n := t.nodes[handle]; n != nil; n = t.nodes[n.Parent] {
		if n.IsRoot() {
			segs = append(segs, rootName(n.Kind))
			break
		}

		segs = append(segs, n.Name)

		if n.Kind == KindContact {
			break
		}
	}

	if len(segs) == 0 {
		return ""
	}

	slices.Reverse(segs)

	return "/" + strings.Join(segs, "/")
}

// topOf returns the topmost ancestor of handle: a named root or, for
// incoming shares, the sharing contact.
func (t *Tree) topOf(handle string) *Node {
	var top *Node
	for n := t.nodes[handle]; n != nil; n = t.nodes[n.Parent] {
		top = n
	}

	return top
}

// inTrash reports whether handle is the Trash root or below it.
func (t *Tree) inTrash(handle string) bool {
	top := t.topOf(handle)
	return top != nil && top.Kind == KindTrash
}

// isAncestor reports whether anc is handle or one of its ancestors.
func (t *Tree) isAncestor(anc, handle string) bool {
	for n := t.nodes[handle]; n != nil; n = t.nodes[n.Parent] {
		if n.Handle == anc {
			return true
		}
	}

	return false
}

// shareAncestors returns the folders enclosing handle (itself included) that
// carry a share key, innermost first.
func (t *Tree) shareAncestors(handle string) []*Node {
	var out []*Node

	for n := t.nodes[handle]; n != nil; n = t.nodes[n.Parent] {
		if n.ShareKey != nil {
			out = append(out, n)
		}
	}

	return out
}

// descendants returns every node below handle in pre-order.
func (t *Tree) descendants(handle string) []*Node {
	var out []*Node

	var walk func(h string)
	walk = func(h string) {
		for _, c := range t.children[h] {
			out = append(out, c)
			walk(c.Handle)
		}
	}

	walk(handle)

	return out
}

// resolve walks path segment by segment.
func (t *Tree) resolve(path string) (*Node, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	cur := t.top(segs[0])
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	for _, seg := range segs[1:] {
		cur = t.child(cur.Handle, seg)
		if cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}

	return cur, nil
}

func (t *Tree) top(seg string) *Node {
	for _, k := range []NodeKind{KindRoot, KindInbox, KindTrash} {
		if r := t.roots[k]; r != nil && rootName(k) == seg {
			return r
		}
	}

	for _, c := range t.contacts {
		if strings.EqualFold(c.Name, seg) {
			return c
		}
	}

	return nil
}

// child returns the first child of parent named name in sibling order,
// which is the tie-break winner among duplicates.
func (t *Tree) child(parent, name string) *Node {
	want := norm.NFC.String(name)

	for _, c := range t.children[parent] {
		if norm.NFC.String(c.Name) == want {
			return c
		}
	}

	return nil
}

// splitPath validates an absolute path and returns its non-empty segments.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q is not absolute", ErrInvalidArgument, path)
	}

	var segs []string

	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: path %q names no node", ErrInvalidArgument, path)
	}

	return segs, nil
}

// splitParent returns the parent path and final name of path.
func splitParent(path string) (string, string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", "", err
	}

	if len(segs) < 2 {
		return "", "", fmt.Errorf("%w: %s has no parent", ErrInvalidArgument, path)
	}

	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidArgument, name)
	}

	return nil
}
