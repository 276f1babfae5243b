package mega

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// PublicLink is a parsed public URL.
type PublicLink struct {
	Folder bool
	Handle string
	// Key is the fragment key: a folder's share key, a file's full 32-byte
	// node key, or a 16-byte link key that unwraps the node key.
	Key []byte
}

// PublicFileInfo describes a publicly linked file.
type PublicFileInfo struct {
	Name   string
	Size   int64
	Handle string
	Key    []byte
}

// ParsePublicURL parses file and folder links in both the path form
// (/file/<handle>#<key>, /folder/<handle>#<key>) and the legacy fragment
// form (#!<handle>!<key>, #F!<handle>!<key>).
func ParsePublicURL(raw string) (*PublicLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: public URL: %w", ErrInvalidArgument, err)
	}

	var (
		l      PublicLink
		keyStr string
	)

	switch {
	case strings.HasPrefix(u.Path, "/file/"), strings.HasPrefix(u.Path, "/folder/"):
		kind, handle, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		l.Folder = kind == "folder"
		l.Handle = handle
		// Folder links may point below the root: #key/file/<handle>.
		keyStr, _, _ = strings.Cut(u.Fragment, "/")
	case strings.HasPrefix(u.Fragment, "F!"), strings.HasPrefix(u.Fragment, "!"):
		l.Folder = strings.HasPrefix(u.Fragment, "F!")

		parts := strings.Split(strings.TrimPrefix(strings.TrimPrefix(u.Fragment, "F"), "!"), "!")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: malformed public URL %q", ErrInvalidArgument, raw)
		}

		l.Handle, keyStr = parts[0], parts[1]
	default:
		return nil, fmt.Errorf("%w: not a public link: %q", ErrInvalidArgument, raw)
	}

	if l.Handle == "" || keyStr == "" {
		return nil, fmt.Errorf("%w: public URL %q lacks handle or key", ErrInvalidArgument, raw)
	}

	l.Key, err = megacrypto.B64Decode(keyStr)
	if err != nil {
		return nil, fmt.Errorf("%w: public URL key: %w", ErrInvalidArgument, err)
	}

	switch {
	case l.Folder && len(l.Key) != megacrypto.KeySize:
		return nil, fmt.Errorf("%w: folder key of %d bytes", ErrInvalidArgument, len(l.Key))
	case !l.Folder && len(l.Key) != megacrypto.KeySize && len(l.Key) != megacrypto.FileKeySize:
		return nil, fmt.Errorf("%w: file key of %d bytes", ErrInvalidArgument, len(l.Key))
	}

	return &l, nil
}

// GetPublicFileInfo fetches the name and size of a linked file. No session
// is needed.
func GetPublicFileInfo(ctx context.Context, rawURL string, cfg Config) (*PublicFileInfo, error) {
	cfg = cfg.withDefaults()

	client, err := cfg.newClient()
	if err != nil {
		return nil, err
	}

	info, _, err := publicFile(ctx, client, rawURL)

	return info, err
}

// DownloadPublicFile downloads a linked file to local. No session is
// needed.
func DownloadPublicFile(ctx context.Context, rawURL, local string, cfg Config) error {
	cfg = cfg.withDefaults()

	client, err := cfg.newClient()
	if err != nil {
		return err
	}

	info, fk, err := publicFile(ctx, client, rawURL)
	if err != nil {
		return err
	}

	src := &downloadSource{
		handle: info.Handle,
		name:   info.Name,
		size:   info.Size,
		fk:     fk,
		node:   &Node{Handle: info.Handle, Name: info.Name, Size: info.Size, Kind: KindFile, Key: info.Key},
		url: func(ctx context.Context) (string, error) {
			di, err := client.PublicDownloadURL(ctx, info.Handle)
			if err != nil {
				return "", err
			}

			return di.URL, nil
		},
	}

	eng := publicEngine(cfg, client)
	j := eng.startDownload(ctx, src, "public:"+info.Handle, local, cfg.Resume, cfg.Workers)

	return j.Wait(ctx)
}

func publicEngine(cfg Config, client *api.Client) *engine {
	return newEngine(cfg, client,
		newBandwidthLimiter(cfg.BandwidthLimit, cfg.Logger),
		NewResumeStore(cfg.ResumeDir, cfg.Logger),
	)
}

// publicFile resolves a file link to its metadata and file key.
func publicFile(ctx context.Context, client *api.Client, rawURL string) (*PublicFileInfo, *megacrypto.FileKey, error) {
	l, err := ParsePublicURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	if l.Folder {
		return nil, nil, fmt.Errorf("%w: %q is a folder link", ErrInvalidArgument, rawURL)
	}

	di, err := client.PublicDownloadURL(ctx, l.Handle)
	if err != nil {
		return nil, nil, classify(err)
	}

	key := l.Key
	if len(key) == megacrypto.KeySize {
		if di.Key == "" {
			return nil, nil, fmt.Errorf("%w: link carries no wrapped key", ErrCrypto)
		}

		if key, err = unwrapB64(l.Key, di.Key); err != nil {
			return nil, nil, fmt.Errorf("%w: link key: %w", ErrCrypto, err)
		}
	}

	fk, err := megacrypto.ParseFileKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	n := &Node{Key: key}
	if err := n.setAttributes(di.Attr); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	return &PublicFileInfo{Name: n.Name, Size: di.Size, Handle: l.Handle, Key: key}, fk, nil
}

// PublicFolder is a read-only view of a publicly linked folder. Paths are
// relative to the shared folder: "/" is its root.
type PublicFolder struct {
	handle  string
	tree    *Tree
	root    *Node
	client  *api.Client
	eng     *engine
	logger  *slog.Logger
	workers int
	resume  bool
}

// OpenFolder fetches and decrypts the listing of a folder link. No session
// is needed.
func OpenFolder(ctx context.Context, rawURL string, cfg Config) (*PublicFolder, error) {
	l, err := ParsePublicURL(rawURL)
	if err != nil {
		return nil, err
	}

	if !l.Folder {
		return nil, fmt.Errorf("%w: %q is a file link", ErrInvalidArgument, rawURL)
	}

	cfg = cfg.withDefaults()

	base, err := cfg.newClient()
	if err != nil {
		return nil, err
	}

	client := base.WithFolder(l.Handle)

	resp, err := client.FetchNodes(ctx)
	if err != nil {
		return nil, classify(err)
	}

	// Every key in a folder listing is wrapped with the link's share key.
	keyFor := func(string) []byte { return l.Key }

	nodes := make([]*Node, 0, len(resp.Nodes))

	var root *Node

	for i := range resp.Nodes {
		an := &resp.Nodes[i]

		n, err := decodeNode(an, keyFor)
		if err != nil {
			cfg.Logger.Warn("skipping node",
				slog.String("handle", an.Handle),
				slog.String("error", err.Error()),
			)

			continue
		}

		if an.Parent == "" {
			// The shared folder stands in for the root.
			n.Kind = KindRoot
			root = n
		}

		nodes = append(nodes, n)
	}

	if root == nil {
		return nil, fmt.Errorf("%w: folder key does not decrypt the shared folder", ErrCrypto)
	}

	f := &PublicFolder{
		handle:  l.Handle,
		tree:    newTree(nodes, cfg.Logger),
		root:    root,
		client:  client,
		eng:     publicEngine(cfg, client),
		logger:  cfg.Logger,
		workers: cfg.Workers,
		resume:  cfg.Resume,
	}

	f.logger.Info("opened public folder",
		slog.String("public", l.Handle),
		slog.String("name", root.Name),
		slog.Int("nodes", f.tree.Len()),
	)

	return f, nil
}

// Root returns the shared folder.
func (f *PublicFolder) Root() *Node {
	return f.root
}

// Stat returns the node at path, or nil.
func (f *PublicFolder) Stat(path string) *Node {
	n, err := f.resolve(path)
	if err != nil {
		return nil
	}

	return n
}

// List returns the children of the folder at path, or its whole subtree in
// pre-order when recursive.
func (f *PublicFolder) List(path string, recursive bool) ([]*Node, error) {
	n, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	if !n.IsFolder() {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidArgument, path)
	}

	if recursive {
		return f.tree.descendants(n.Handle), nil
	}

	return f.tree.Children(n.Handle), nil
}

// PathOf returns the path of handle relative to the shared folder.
func (f *PublicFolder) PathOf(handle string) string {
	var segs []string

	for n := f.tree.Node(handle); n != nil && n != f.root; n = f.tree.Node(n.Parent) {
		segs = append([]string{n.Name}, segs...)
	}

	return "/" + strings.Join(segs, "/")
}

// Download downloads the file at path to local and waits for it.
func (f *PublicFolder) Download(ctx context.Context, path, local string) error {
	j, err := f.StartDownload(ctx, path, local)
	if err != nil {
		return err
	}

	return j.Wait(ctx)
}

// StartDownload starts a download from the folder in the background.
func (f *PublicFolder) StartDownload(ctx context.Context, path, local string) (*Job, error) {
	n, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	src, err := nodeSource(f.client, n)
	if err != nil {
		return nil, err
	}

	return f.eng.startDownload(ctx, src, "public:"+f.handle+":"+n.Handle, local, f.resume, f.workers), nil
}

func (f *PublicFolder) resolve(path string) (*Node, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q is not absolute", ErrInvalidArgument, path)
	}

	cur := f.root

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}

		if cur = f.tree.child(cur.Handle, seg); cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}

	return cur, nil
}
