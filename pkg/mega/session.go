package mega

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// Session is an authenticated connection to one account. It is created only
// by Login or Load and is safe for concurrent use.
type Session struct {
	cfg    Config
	logger *slog.Logger
	client *api.Client

	masterKey  []byte
	userHandle string
	email      string
	name       string
	priv       *rsa.PrivateKey

	settingsMu sync.Mutex
	workers    int
	resume     bool
	previews   bool

	// treeMu guards the confirmed snapshot, the pending overlay and the
	// share keys. Readers use tree without locking.
	treeMu    sync.Mutex
	confirmed *Tree
	pending   []mutation
	seq       uint64
	shareKeys map[string][]byte
	tree      atomic.Pointer[Tree]

	eng *engine
}

// Quota is the account's storage usage in bytes.
type Quota struct {
	Total int64
	Used  int64
}

// Login authenticates with email and password, then performs the first tree
// refresh. Failures are *AuthError for credential, rate-limit and network
// problems during the handshake.
func Login(ctx context.Context, email, password string, cfg Config) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidArgument)
	}

	cfg = cfg.withDefaults()

	client, err := cfg.newClient()
	if err != nil {
		return nil, err
	}

	pre, err := client.Prelogin(ctx, email)
	if err != nil {
		return nil, authFromAPI(err)
	}

	dk, err := deriveForVersion(password, email, pre)
	if err != nil {
		return nil, err
	}

	resp, err := client.Login(ctx, email, dk.LoginHash)
	if err != nil {
		return nil, authFromAPI(err)
	}

	wrapped, err := megacrypto.B64Decode(resp.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %w", ErrCrypto, err)
	}

	master, err := megacrypto.UnwrapKey(dk.PasswordKey, wrapped)
	if err != nil || len(master) != megacrypto.KeySize {
		return nil, fmt.Errorf("%w: unwrapping master key", ErrCrypto)
	}

	s := newSession(cfg, client, master, resp.UserHandle, email)

	if resp.PrivateKey != "" {
		if err := s.setPrivateKey(resp.PrivateKey); err != nil {
			return nil, err
		}
	}

	sid, err := s.sessionID(resp)
	if err != nil {
		return nil, err
	}

	client.SetSessionID(sid)

	if err := s.loadAccount(ctx); err != nil {
		return nil, err
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, loginRefreshError(err)
	}

	s.logger.Info("logged in",
		slog.String("user", s.userHandle),
		slog.Int("nodes", s.Tree().Len()),
	)

	return s, nil
}

func deriveForVersion(password, email string, pre *api.PreloginResponse) (*megacrypto.DerivedKey, error) {
	switch pre.Version {
	case 1:
		dk, err := megacrypto.DeriveKeyV1(password, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}

		return dk, nil
	case 2:
		salt, err := megacrypto.B64Decode(pre.Salt)
		if err != nil {
			return nil, fmt.Errorf("%w: account salt: %w", ErrCrypto, err)
		}

		dk, err := megacrypto.DeriveKey(password, salt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}

		return dk, nil
	default:
		return nil, fmt.Errorf("%w: unsupported account version %d", ErrCrypto, pre.Version)
	}
}

func newSession(cfg Config, client *api.Client, master []byte, handle, email string) *Session {
	s := &Session{
		cfg:        cfg,
		logger:     cfg.Logger,
		client:     client,
		masterKey:  master,
		userHandle: handle,
		email:      email,
		workers:    cfg.Workers,
		resume:     cfg.Resume,
		previews:   cfg.Previews,
		shareKeys:  make(map[string][]byte),
	}

	s.eng = newEngine(cfg, client,
		newBandwidthLimiter(cfg.BandwidthLimit, cfg.Logger),
		NewResumeStore(cfg.ResumeDir, cfg.Logger),
	)

	s.confirmed = newTree(nil, nil)
	s.tree.Store(s.confirmed)

	return s
}

// sessionID validates and extracts the session id from a login answer. A
// tsid must start with rand16||AES(master, rand16); a csid decrypts with the
// account's private key.
func (s *Session) sessionID(resp *api.LoginResponse) (string, error) {
	switch {
	case resp.TSID != "":
		raw, err := megacrypto.B64Decode(resp.TSID)
		if err != nil || len(raw) < 2*megacrypto.KeySize {
			return "", &AuthError{Reason: AuthInvalidCredentials, Err: errors.New("malformed session id")}
		}

		check, err := megacrypto.WrapKey(s.masterKey, raw[:megacrypto.KeySize])
		if err != nil || !megacrypto.Equal(check, raw[megacrypto.KeySize:2*megacrypto.KeySize]) {
			return "", &AuthError{Reason: AuthInvalidCredentials, Err: errors.New("session id does not match master key")}
		}

		return resp.TSID, nil
	case resp.CSID != "":
		if s.priv == nil {
			return "", &AuthError{Reason: AuthInvalidCredentials, Err: errors.New("encrypted session id without private key")}
		}

		ct, err := megacrypto.B64Decode(resp.CSID)
		if err != nil {
			return "", &AuthError{Reason: AuthInvalidCredentials, Err: fmt.Errorf("session id: %w", err)}
		}

		raw, err := megacrypto.DecryptWithPrivateKey(s.priv, ct)
		if err != nil {
			return "", &AuthError{Reason: AuthInvalidCredentials, Err: fmt.Errorf("session id: %w", err)}
		}

		return megacrypto.B64Encode(raw), nil
	default:
		return "", &AuthError{Reason: AuthInvalidCredentials, Err: errors.New("login answer carries no session id")}
	}
}

func (s *Session) setPrivateKey(privk string) error {
	wrapped, err := megacrypto.B64Decode(privk)
	if err != nil {
		return fmt.Errorf("%w: private key: %w", ErrCrypto, err)
	}

	priv, err := megacrypto.UnwrapPrivateKey(s.masterKey, wrapped)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	s.priv = priv

	return nil
}

// loadAccount fetches the account record and creates the RSA key pair if
// the account has none yet.
func (s *Session) loadAccount(ctx context.Context) error {
	info, err := s.client.UserInfo(ctx)
	if err != nil {
		return authFromAPI(err)
	}

	s.name = info.Name
	if info.Email != "" {
		s.email = info.Email
	}

	if info.Handle != "" {
		s.userHandle = info.Handle
	}

	if s.priv == nil && info.PrivateKey != "" {
		if err := s.setPrivateKey(info.PrivateKey); err != nil {
			return err
		}
	}

	if s.priv != nil {
		return nil
	}

	priv, err := megacrypto.GenerateRSAKey(s.cfg.RSAKeyBits)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	wrapped, err := megacrypto.WrapPrivateKey(s.masterKey, priv)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	pub, err := megacrypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	if err := s.client.SetKeys(ctx, megacrypto.B64Encode(wrapped), megacrypto.B64Encode(pub)); err != nil {
		return classify(err)
	}

	s.logger.Info("created account key pair", slog.Int("bits", priv.N.BitLen()))
	s.priv = priv

	return nil
}

// Refresh re-fetches the full listing and swaps in a new snapshot. On
// failure the previous snapshot stays in place.
func (s *Session) Refresh(ctx context.Context) error {
	s.treeMu.Lock()
	start := s.seq
	s.treeMu.Unlock()

	resp, err := s.client.FetchNodes(ctx)
	if err != nil {
		return classify(err)
	}

	tree, keys := s.buildTree(resp)

	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	s.confirmed = tree
	s.shareKeys = keys

	// Mutations recorded while the listing was in flight may be missing
	// from it.
	kept := s.pending[:0]
	for _, m := range s.pending {
		if m.seq > start {
			kept = append(kept, m)
		}
	}

	s.pending = kept
	s.publishLocked()

	s.logger.Debug("tree refreshed",
		slog.Int("nodes", tree.Len()),
		slog.Int("pending", len(s.pending)),
	)

	return nil
}

func (s *Session) publishLocked() {
	s.tree.Store(applyMutations(s.confirmed, s.pending, s.logger))
}

// record applies a confirmed mutation to the current snapshot.
func (s *Session) record(m mutation) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	s.seq++
	m.seq = s.seq
	s.pending = append(s.pending, m)
	s.publishLocked()
}

func (s *Session) shareKey(handle string) []byte {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	return s.shareKeys[handle]
}

func (s *Session) addShareKey(handle string, key []byte) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	s.shareKeys[handle] = key
}

// buildTree decrypts a listing. Nodes whose key or attributes cannot be
// decrypted are left out (and with them their subtrees).
func (s *Session) buildTree(resp *api.FilesResponse) (*Tree, map[string][]byte) {
	keys := make(map[string][]byte)

	for _, ok := range resp.OwnKeys {
		if k, err := unwrapB64(s.masterKey, ok.Key); err == nil {
			keys[ok.Handle] = k
		} else {
			s.logger.Warn("undecryptable share key", slog.String("handle", ok.Handle))
		}
	}

	for i := range resp.Nodes {
		n := &resp.Nodes[i]
		if n.ShareKey == "" || s.priv == nil {
			continue
		}

		ct, err := megacrypto.B64Decode(n.ShareKey)
		if err != nil {
			continue
		}

		if k, err := megacrypto.DecryptWithPrivateKey(s.priv, ct); err == nil && len(k) == megacrypto.KeySize {
			keys[n.Handle] = k
		} else {
			s.logger.Warn("undecryptable incoming share key", slog.String("handle", n.Handle))
		}
	}

	nodes := make([]*Node, 0, len(resp.Nodes)+len(resp.Contacts))

	for _, c := range resp.Contacts {
		if c.Handle == s.userHandle {
			continue
		}

		nodes = append(nodes, &Node{
			Handle:  c.Handle,
			Name:    c.Email,
			Kind:    KindContact,
			visible: c.Visibility == 1,
		})
	}

	keyFor := func(holder string) []byte {
		if holder == s.userHandle {
			return s.masterKey
		}

		return keys[holder]
	}

	for i := range resp.Nodes {
		n, err := decodeNode(&resp.Nodes[i], keyFor)
		if err != nil {
			s.logger.Warn("skipping node",
				slog.String("handle", resp.Nodes[i].Handle),
				slog.String("error", err.Error()),
			)

			continue
		}

		if k, ok := keys[n.Handle]; ok {
			n.ShareKey = k
		}

		nodes = append(nodes, n)
	}

	return newTree(nodes, s.logger), keys
}

// decodeNode turns a listing entry into a Node. keyFor returns the key of a
// holder named in the entry's key string, or nil.
func decodeNode(an *api.Node, keyFor func(holder string) []byte) (*Node, error) {
	n := &Node{
		Handle:       an.Handle,
		Parent:       an.Parent,
		Owner:        an.Owner,
		Size:         an.Size,
		Timestamp:    time.Unix(an.Timestamp, 0),
		ShareAccess:  AccessLevel(an.ShareAccess),
		PublicHandle: an.PublicHandle,
		FileAttrs:    an.FileAttrs,
	}

	switch an.Type {
	case api.NodeFile:
		n.Kind = KindFile
	case api.NodeFolder:
		n.Kind = KindFolder
	case api.NodeRoot, api.NodeInbox, api.NodeTrash:
		n.Kind = NodeKind(an.Type)
		n.Name = rootName(n.Kind)
		n.Parent = ""

		return n, nil
	default:
		return nil, fmt.Errorf("unknown node type %d", an.Type)
	}

	key, err := nodeKey(an.Key, keyFor)
	if err != nil {
		return nil, err
	}

	n.Key = key

	if err := n.setAttributes(an.Attr); err != nil {
		return nil, err
	}

	return n, nil
}

// nodeKey unwraps the first usable "holder:wrapped" entry of a key string.
func nodeKey(keyString string, keyFor func(holder string) []byte) ([]byte, error) {
	if keyString == "" {
		return nil, fmt.Errorf("%w: node has no key", ErrCrypto)
	}

	for _, part := range strings.Split(keyString, "/") {
		holder, wrapped, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}

		hk := keyFor(holder)
		if hk == nil {
			continue
		}

		ct, err := megacrypto.B64Decode(wrapped)
		if err != nil {
			continue
		}

		if k, err := megacrypto.DecryptNodeKey(ct, hk); err == nil {
			return k, nil
		}
	}

	return nil, fmt.Errorf("%w: no usable key for node", ErrCrypto)
}

func (n *Node) setAttributes(attr string) error {
	ak, err := megacrypto.AttributeKey(n.Key)
	if err != nil {
		return err
	}

	ct, err := megacrypto.B64Decode(attr)
	if err != nil {
		return fmt.Errorf("%w: attributes: %w", ErrCrypto, err)
	}

	attrs, err := megacrypto.DecryptAttributes(ct, ak)
	if err != nil {
		return err
	}

	n.Name = attrs.Name
	n.meta = attrs.Meta

	return nil
}

func unwrapB64(key []byte, s string) ([]byte, error) {
	ct, err := megacrypto.B64Decode(s)
	if err != nil {
		return nil, err
	}

	return megacrypto.UnwrapKey(key, ct)
}

func wrapB64(key, data []byte) (string, error) {
	ct, err := megacrypto.WrapKey(key, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	return megacrypto.B64Encode(ct), nil
}

// Tree returns the current snapshot.
func (s *Session) Tree() *Tree {
	return s.tree.Load()
}

// Stat resolves path in the current snapshot and returns nil when it does
// not resolve.
func (s *Session) Stat(path string) *Node {
	return s.Tree().Stat(path)
}

// List lists path in the current snapshot.
func (s *Session) List(path string, recursive bool) ([]*Node, error) {
	return s.Tree().List(path, recursive)
}

// Email returns the account email.
func (s *Session) Email() string { return s.email }

// Name returns the account display name.
func (s *Session) Name() string { return s.name }

// Handle returns the account's user handle.
func (s *Session) Handle() string { return s.userHandle }

// Quota fetches storage usage.
func (s *Session) Quota(ctx context.Context) (Quota, error) {
	q, err := s.client.Quota(ctx)
	if err != nil {
		return Quota{}, classify(err)
	}

	return Quota{Total: q.Total, Used: q.Used}, nil
}

// ChangePassword re-derives the password key from a fresh salt and stores
// the master key wrapped with it. The session stays valid.
func (s *Session) ChangePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidArgument)
	}

	salt, err := megacrypto.RandomBytes(megacrypto.SaltSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	dk, err := megacrypto.DeriveKey(newPassword, salt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	wrapped, err := wrapB64(dk.PasswordKey, s.masterKey)
	if err != nil {
		return err
	}

	if err := s.client.ChangePassword(ctx, wrapped, dk.LoginHash, megacrypto.B64Encode(salt)); err != nil {
		return classify(err)
	}

	s.logger.Info("password changed", slog.String("user", s.userHandle))

	return nil
}

// SetWorkers sets the chunk concurrency for transfers started afterwards.
func (s *Session) SetWorkers(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: worker count %d", ErrInvalidArgument, n)
	}

	s.settingsMu.Lock()
	s.workers = n
	s.settingsMu.Unlock()

	return nil
}

// SetResume makes every transfer started afterwards persist resume records.
func (s *Session) SetResume(on bool) {
	s.settingsMu.Lock()
	s.resume = on
	s.settingsMu.Unlock()
}

// EnablePreviews turns thumbnail generation on or off for uploads started
// afterwards.
func (s *Session) EnablePreviews(on bool) {
	s.settingsMu.Lock()
	s.previews = on
	s.settingsMu.Unlock()
}

type transferSettings struct {
	workers  int
	resume   bool
	previews bool
}

func (s *Session) settings() transferSettings {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	return transferSettings{workers: s.workers, resume: s.resume, previews: s.previews}
}
