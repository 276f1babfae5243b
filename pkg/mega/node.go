package mega

import (
	"fmt"
	"time"

	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// NodeKind classifies a node.
type NodeKind int

// Node kinds. Root, Inbox and Trash are the account's named roots; contacts
// are folder-like nodes whose children are that user's incoming shares.
const (
	KindFile NodeKind = iota
	KindFolder
	KindRoot
	KindInbox
	KindTrash
	KindContact
)

func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindRoot:
		return "root"
	case KindInbox:
		return "inbox"
	case KindTrash:
		return "trash"
	case KindContact:
		return "contact"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is one file or folder of a tree snapshot. Nodes are shared between
// snapshots and must be treated as read-only.
type Node struct {
	Handle    string
	Parent    string
	Owner     string
	Name      string
	Size      int64
	Timestamp time.Time
	Kind      NodeKind

	// Key is the decrypted node key: 32 bytes for files, 16 for folders,
	// nil for roots and contacts.
	Key []byte
	// ShareKey is set on folders that are shared (outgoing) or are the root
	// of an incoming share.
	ShareKey []byte
	// ShareAccess is the access level of an incoming share root.
	ShareAccess AccessLevel
	// PublicHandle is set when the node has a public link.
	PublicHandle string
	// FileAttrs lists attached thumbnails and previews ("0*h/1*h").
	FileAttrs string

	meta    map[string]any
	visible bool
}

// IsFile reports whether n is a file.
func (n *Node) IsFile() bool {
	return n.Kind == KindFile
}

// IsFolder reports whether n can hold children.
func (n *Node) IsFolder() bool {
	return n.Kind != KindFile
}

// IsRoot reports whether n is one of the named roots.
func (n *Node) IsRoot() bool {
	return n.Kind == KindRoot || n.Kind == KindInbox || n.Kind == KindTrash
}

func (n *Node) fileKey() (*megacrypto.FileKey, error) {
	if !n.IsFile() {
		return nil, fmt.Errorf("%w: %s is not a file", ErrInvalidArgument, n.Name)
	}

	fk, err := megacrypto.ParseFileKey(n.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	return fk, nil
}

func (n *Node) clone() *Node {
	c := *n
	return &c
}

// rootName returns the path segment of a named root.
func rootName(k NodeKind) string {
	switch k {
	case KindRoot:
		return "Root"
	case KindInbox:
		return "Inbox"
	case KindTrash:
		return "Trash"
	default:
		return ""
	}
}
