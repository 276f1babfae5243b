package mega

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// Mkdir creates a folder. The parent must already exist; a sibling with the
// same name is a conflict.
func (s *Session) Mkdir(ctx context.Context, path string) (*Node, error) {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return nil, err
	}

	if err := validName(name); err != nil {
		return nil, err
	}

	tree := s.Tree()

	parent, err := tree.resolve(parentPath)
	if err != nil {
		return nil, err
	}

	if !parent.IsFolder() || parent.Kind == KindContact {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrConflict, parentPath)
	}

	if tree.child(parent.Handle, name) != nil {
		return nil, fmt.Errorf("%w: %s already exists", ErrConflict, path)
	}

	key, err := megacrypto.RandomKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	nn, err := s.newNode(tree, parent.Handle, api.PlaceholderHandle, api.NodeFolder, name, nil, key)
	if err != nil {
		return nil, err
	}

	created, err := s.client.PutNodes(ctx, parent.Handle, []api.NewNode{nn}, "")
	if err != nil {
		return nil, classify(err)
	}

	n := &Node{
		Handle:    created[0].Handle,
		Parent:    parent.Handle,
		Owner:     s.userHandle,
		Name:      name,
		Timestamp: time.Unix(created[0].Timestamp, 0),
		Kind:      KindFolder,
		Key:       key,
	}

	s.record(mutation{kind: mutAdd, node: n})
	s.logger.Info("created folder", slog.String("path", path), slog.String("handle", n.Handle))

	return n, nil
}

// Rename changes the name of the node at path, keeping its other
// attributes.
func (s *Session) Rename(ctx context.Context, path, newName string) error {
	if err := validName(newName); err != nil {
		return err
	}

	tree := s.Tree()

	n, err := s.mutable(tree, path)
	if err != nil {
		return err
	}

	if other := tree.child(n.Parent, newName); other != nil && other.Handle != n.Handle {
		return fmt.Errorf("%w: %s already exists next to %s", ErrConflict, newName, path)
	}

	if err := s.setName(ctx, n, newName); err != nil {
		return err
	}

	s.record(mutation{kind: mutRename, handle: n.Handle, name: newName, meta: n.meta})

	return nil
}

// Mv moves the node at src. When dst is an existing folder the node keeps
// its name and moves into it; otherwise dst names the new parent and name.
func (s *Session) Mv(ctx context.Context, src, dst string) error {
	tree := s.Tree()

	n, err := s.mutable(tree, src)
	if err != nil {
		return err
	}

	var (
		target *Node
		name   string
	)

	if d := tree.Stat(dst); d != nil {
		if !d.IsFolder() || d.Kind == KindContact {
			return fmt.Errorf("%w: %s already exists", ErrConflict, dst)
		}

		target, name = d, n.Name
	} else {
		parentPath, base, err := splitParent(dst)
		if err != nil {
			return err
		}

		if err := validName(base); err != nil {
			return err
		}

		target, err = tree.resolve(parentPath)
		if err != nil {
			return err
		}

		if !target.IsFolder() || target.Kind == KindContact {
			return fmt.Errorf("%w: %s is not a folder", ErrConflict, parentPath)
		}

		name = base
	}

	if tree.isAncestor(n.Handle, target.Handle) {
		return fmt.Errorf("%w: cannot move %s into itself", ErrConflict, src)
	}

	if other := tree.child(target.Handle, name); other != nil && other.Handle != n.Handle {
		return fmt.Errorf("%w: %s already exists", ErrConflict, tree.PathOf(target.Handle)+"/"+name)
	}

	renamed := norm.NFC.String(name) != norm.NFC.String(n.Name)

	if target.Handle == n.Parent && !renamed {
		return nil
	}

	if target.Handle != n.Parent {
		cr, err := s.shareKeysFor(tree, target.Handle, n.Key)
		if err != nil {
			return err
		}

		if err := s.client.Move(ctx, n.Handle, target.Handle, cr); err != nil {
			return classify(err)
		}
	}

	if renamed {
		if err := s.setName(ctx, n, name); err != nil {
			// The move itself went through.
			s.record(mutation{kind: mutMove, handle: n.Handle, parent: target.Handle})
			return err
		}
	}

	s.record(mutation{kind: mutMove, handle: n.Handle, parent: target.Handle, name: name})
	s.logger.Info("moved node",
		slog.String("from", src),
		slog.String("to", tree.PathOf(target.Handle)+"/"+name),
	)

	return nil
}

// Rm moves the node at path to Trash. A node already in Trash, or inside an
// incoming share, is deleted permanently.
func (s *Session) Rm(ctx context.Context, path string) error {
	tree := s.Tree()

	n, err := s.mutable(tree, path)
	if err != nil {
		return err
	}

	top := tree.topOf(n.Handle)
	trash := tree.Root(KindTrash)

	if top.Kind == KindTrash || top.Kind == KindContact || trash == nil {
		if err := s.client.Delete(ctx, n.Handle); err != nil {
			return classify(err)
		}

		s.record(mutation{kind: mutDelete, handle: n.Handle})
		s.logger.Info("deleted node permanently", slog.String("path", path), slog.String("handle", n.Handle))

		return nil
	}

	if err := s.client.Move(ctx, n.Handle, trash.Handle, nil); err != nil {
		return classify(err)
	}

	s.record(mutation{kind: mutMove, handle: n.Handle, parent: trash.Handle})
	s.logger.Info("moved node to trash", slog.String("path", path), slog.String("handle", n.Handle))

	return nil
}

// mutable resolves path to a node that may be renamed, moved or deleted.
func (s *Session) mutable(tree *Tree, path string) (*Node, error) {
	n, err := tree.resolve(path)
	if err != nil {
		return nil, err
	}

	if n.IsRoot() || n.Kind == KindContact {
		return nil, fmt.Errorf("%w: %s cannot be modified", ErrInvalidArgument, path)
	}

	return n, nil
}

func (s *Session) setName(ctx context.Context, n *Node, name string) error {
	attr, err := encryptAttrB64(name, n.meta, n.Key)
	if err != nil {
		return err
	}

	if err := s.client.SetAttr(ctx, n.Handle, attr); err != nil {
		return classify(err)
	}

	return nil
}

// newNode prepares a p command entry: attributes encrypted with the node
// key, the key wrapped with the master key and with every enclosing share.
func (s *Session) newNode(tree *Tree, parent, handle string, typ int, name string,
	meta map[string]any, key []byte,
) (api.NewNode, error) {
	attr, err := encryptAttrB64(name, meta, key)
	if err != nil {
		return api.NewNode{}, err
	}

	wrapped, err := wrapB64(s.masterKey, key)
	if err != nil {
		return api.NewNode{}, err
	}

	cr, err := s.shareKeysFor(tree, parent, key)
	if err != nil {
		return api.NewNode{}, err
	}

	return api.NewNode{Handle: handle, Type: typ, Attr: attr, Key: wrapped, ShareKeys: cr}, nil
}

// shareKeysFor wraps key for every share enclosing handle.
func (s *Session) shareKeysFor(tree *Tree, handle string, key []byte) (map[string]string, error) {
	var cr map[string]string

	for _, sh := range tree.shareAncestors(handle) {
		sk := s.shareKey(sh.Handle)
		if sk == nil {
			sk = sh.ShareKey
		}

		w, err := wrapB64(sk, key)
		if err != nil {
			return nil, err
		}

		if cr == nil {
			cr = make(map[string]string)
		}

		cr[sh.Handle] = w
	}

	return cr, nil
}

func encryptAttrB64(name string, meta map[string]any, nodeKey []byte) (string, error) {
	ak, err := megacrypto.AttributeKey(nodeKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	ct, err := megacrypto.EncryptAttributes(megacrypto.Attributes{Name: name, Meta: meta}, ak)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	return megacrypto.B64Encode(ct), nil
}
