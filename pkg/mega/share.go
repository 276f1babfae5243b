package mega

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// AccessLevel is what a share recipient may do.
type AccessLevel int

// Share access levels.
const (
	AccessRead  AccessLevel = 0
	AccessWrite AccessLevel = 1
	AccessFull  AccessLevel = 2
)

func (a AccessLevel) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessFull:
		return "full"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// Valid reports whether a is one of the defined levels.
func (a AccessLevel) Valid() bool {
	return a >= AccessRead && a <= AccessFull
}

// ParseAccessLevel accepts "read", "write", "full" or their numeric values.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "r", "ro":
		return AccessRead, nil
	case "write", "rw":
		return AccessWrite, nil
	case "full":
		return AccessFull, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || !AccessLevel(n).Valid() {
		return 0, fmt.Errorf("%w: access level %q", ErrInvalidArgument, s)
	}

	return AccessLevel(n), nil
}

const linkBase = "https://mega.nz"

// Export creates (or returns) the public link of the file or folder at
// path. The key in the link fragment never reaches the server: file links
// carry a fresh link key that unwraps the node key, folder links carry the
// folder's share key.
func (s *Session) Export(ctx context.Context, path string) (string, error) {
	tree := s.Tree()

	n, err := s.exportable(tree, path)
	if err != nil {
		return "", err
	}

	if n.IsFile() {
		return s.exportFile(ctx, n)
	}

	return s.exportFolder(ctx, tree, n)
}

func (s *Session) exportable(tree *Tree, path string) (*Node, error) {
	n, err := tree.resolve(path)
	if err != nil {
		return nil, err
	}

	if n.IsRoot() || n.Kind == KindContact {
		return nil, fmt.Errorf("%w: cannot share %s", ErrInvalidArgument, path)
	}

	if top := tree.topOf(n.Handle); top == nil || top.Kind == KindContact {
		return nil, fmt.Errorf("%w: %s is not in your own tree", ErrInvalidArgument, path)
	}

	return n, nil
}

func (s *Session) exportFile(ctx context.Context, n *Node) (string, error) {
	linkKey, err := megacrypto.RandomKey()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	wrapped, err := wrapB64(linkKey, n.Key)
	if err != nil {
		return "", err
	}

	ph, err := s.client.PublicLink(ctx, n.Handle, wrapped)
	if err != nil {
		return "", classify(err)
	}

	s.logger.Info("exported file", slog.String("handle", n.Handle), slog.String("public", ph))

	return linkBase + "/file/" + ph + "#" + megacrypto.B64Encode(linkKey), nil
}

func (s *Session) exportFolder(ctx context.Context, tree *Tree, n *Node) (string, error) {
	sk, err := s.ensureShare(ctx, tree, n, api.ShareTarget{User: api.ExportUser, Access: int(AccessRead)})
	if err != nil {
		return "", err
	}

	ph, err := s.client.PublicLink(ctx, n.Handle, "")
	if err != nil {
		return "", classify(err)
	}

	s.logger.Info("exported folder", slog.String("handle", n.Handle), slog.String("public", ph))

	return linkBase + "/folder/" + ph + "#" + megacrypto.B64Encode(sk), nil
}

// ShareFolder shares the folder at path with another user. The folder's
// share key is encrypted with the recipient's public key.
func (s *Session) ShareFolder(ctx context.Context, path, email string, level AccessLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: access level %d", ErrInvalidArgument, int(level))
	}

	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: recipient %q", ErrInvalidArgument, email)
	}

	if strings.EqualFold(email, s.email) {
		return fmt.Errorf("%w: cannot share with yourself", ErrInvalidArgument)
	}

	tree := s.Tree()

	n, err := s.exportable(tree, path)
	if err != nil {
		return err
	}

	if !n.IsFolder() {
		return fmt.Errorf("%w: %s is not a folder", ErrInvalidArgument, path)
	}

	info, err := s.client.PublicKey(ctx, email)
	if err != nil {
		return classify(err)
	}

	der, err := megacrypto.B64Decode(info.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %w", ErrCrypto, err)
	}

	pub, err := megacrypto.ParsePublicKey(der)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	sk := s.folderShareKey(n)
	if sk == nil {
		if sk, err = megacrypto.RandomKey(); err != nil {
			return fmt.Errorf("%w: %w", ErrCrypto, err)
		}
	}

	ct, err := megacrypto.EncryptForPublicKey(pub, sk)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	target := api.ShareTarget{User: email, Access: int(level), Key: megacrypto.B64Encode(ct)}
	if _, err := s.shareWithKey(ctx, tree, n, sk, target); err != nil {
		return err
	}

	s.logger.Info("shared folder",
		slog.String("handle", n.Handle),
		slog.String("user", info.Handle),
		slog.String("access", level.String()),
	)

	return nil
}

// ListContacts returns the confirmed contacts. Each is a folder-like node
// whose children are that user's shares to this account.
func (s *Session) ListContacts() []*Node {
	return s.Tree().Contacts()
}

func (s *Session) folderShareKey(n *Node) []byte {
	if sk := s.shareKey(n.Handle); sk != nil {
		return sk
	}

	return n.ShareKey
}

// ensureShare shares n with target using the folder's existing share key or
// a new one, and returns the key.
func (s *Session) ensureShare(ctx context.Context, tree *Tree, n *Node, target api.ShareTarget) ([]byte, error) {
	sk := s.folderShareKey(n)
	if sk == nil {
		var err error
		if sk, err = megacrypto.RandomKey(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}
	}

	return s.shareWithKey(ctx, tree, n, sk, target)
}

// shareWithKey sends the share command: the share key wrapped with the
// master key, and the folder's and every descendant's node key wrapped with
// the share key so recipients can decrypt the whole subtree.
func (s *Session) shareWithKey(ctx context.Context, tree *Tree, n *Node, sk []byte, target api.ShareTarget) ([]byte, error) {
	ok, err := wrapB64(s.masterKey, sk)
	if err != nil {
		return nil, err
	}

	subtree := append([]*Node{n}, tree.descendants(n.Handle)...)
	keys := make([]api.NodeKey, 0, len(subtree))

	for _, d := range subtree {
		if d.Key == nil {
			continue
		}

		w, err := wrapB64(sk, d.Key)
		if err != nil {
			return nil, err
		}

		keys = append(keys, api.NodeKey{Handle: d.Handle, Key: w})
	}

	if err := s.client.Share(ctx, n.Handle, []api.ShareTarget{target}, ok, keys); err != nil {
		return nil, classify(err)
	}

	s.addShareKey(n.Handle, sk)

	// The listing carries the new share key on the folder, which later
	// uploads below it need.
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after share failed",
			slog.String("handle", n.Handle),
			slog.String("error", err.Error()),
		)
	}

	return sk, nil
}
