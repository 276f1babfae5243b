package megatest

import (
	"strings"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// testRSABits keeps key generation fast in tests.
const testRSABits = 1024

// User is an account on the fake server. Fields are exposed for assertions.
type User struct {
	Handle string
	Email  string
	Name   string

	Root  string
	Trash string
	Inbox string

	version    int
	salt       []byte
	master     []byte
	wrapped    string
	loginHash  string
	ts         []byte
	privk      string
	pubk       string
	csid       bool
	blocked    bool
	contacts   map[string]bool
	quotaTotal int64
}

// UserOption customizes AddUser.
type UserOption func(*User)

// WithName sets the display name.
func WithName(name string) UserOption {
	return func(u *User) { u.Name = name }
}

// WithCSID gives the account an RSA key pair up front and makes login
// answer with an RSA-encrypted session id.
func WithCSID() UserOption {
	return func(u *User) { u.csid = true }
}

// WithLegacyKey makes the account use version 1 key derivation.
func WithLegacyKey() UserOption {
	return func(u *User) { u.version = 1 }
}

// WithQuota sets the storage quota in bytes.
func WithQuota(total int64) UserOption {
	return func(u *User) { u.quotaTotal = total }
}

// Blocked marks the account as blocked.
func Blocked() UserOption {
	return func(u *User) { u.blocked = true }
}

// AddUser creates an active account with empty Root, Trash and Inbox.
func (s *Server) AddUser(email, password string, opts ...UserOption) *User {
	u := &User{
		Email:      email,
		Name:       strings.Split(email, "@")[0],
		version:    2,
		contacts:   make(map[string]bool),
		quotaTotal: defaultQuota,
	}

	for _, opt := range opts {
		opt(u)
	}

	var dk *megacrypto.DerivedKey

	var err error

	if u.version == 1 {
		dk, err = megacrypto.DeriveKeyV1(password, email)
	} else {
		u.salt = mustRandom(megacrypto.SaltSize)
		dk, err = megacrypto.DeriveKey(password, u.salt)
	}

	if err != nil {
		panic(err)
	}

	u.master = mustRandom(megacrypto.KeySize)
	u.loginHash = dk.LoginHash

	u.wrapped = mustB64Wrap(dk.PasswordKey, u.master)
	u.ts = sessionCheck(u.master)

	if u.csid {
		priv := mustRSA(testRSABits)

		wrappedPriv, err := megacrypto.WrapPrivateKey(u.master, priv)
		if err != nil {
			panic(err)
		}

		pub, err := megacrypto.MarshalPublicKey(&priv.PublicKey)
		if err != nil {
			panic(err)
		}

		u.privk = megacrypto.B64Encode(wrappedPriv)
		u.pubk = megacrypto.B64Encode(pub)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.createAccount(u)

	return u
}

// AddContact makes a and b mutual contacts.
func (s *Server) AddContact(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ub := s.users[strings.ToLower(a)], s.users[strings.ToLower(b)]
	if ua == nil || ub == nil {
		panic("megatest: AddContact: unknown user")
	}

	ua.contacts[ub.Handle] = true
	ub.contacts[ua.Handle] = true
}

// createAccount registers u and its root nodes. Caller holds s.mu.
func (s *Server) createAccount(u *User) {
	for {
		u.Handle = megacrypto.B64Encode(mustRandom(8))
		if _, taken := s.byHandle[u.Handle]; !taken && !strings.HasPrefix(u.Handle, "-") {
			break
		}
	}

	mk := func(t int) string {
		h := s.newHandle(6)
		s.nodes[h] = &node{
			Node: api.Node{Handle: h, Owner: u.Handle, Type: t, Timestamp: s.tick()},
			keys: map[string]string{},
		}

		return h
	}

	u.Root = mk(api.NodeRoot)
	u.Inbox = mk(api.NodeInbox)
	u.Trash = mk(api.NodeTrash)

	s.users[strings.ToLower(u.Email)] = u
	s.byHandle[u.Handle] = u
}

// sessionCheck returns rand16||AES(master, rand16).
func sessionCheck(master []byte) []byte {
	r := mustRandom(megacrypto.KeySize)

	enc, err := megacrypto.WrapKey(master, r)
	if err != nil {
		panic(err)
	}

	return append(r, enc...)
}

func mustB64Wrap(key, data []byte) string {
	w, err := megacrypto.WrapKey(key, data)
	if err != nil {
		panic(err)
	}

	return megacrypto.B64Encode(w)
}

// lookupUser finds a user by email or handle. Caller holds s.mu.
func (s *Server) lookupUser(id string) *User {
	if u, ok := s.users[strings.ToLower(id)]; ok {
		return u
	}

	return s.byHandle[id]
}
