// Package megatest provides an in-process fake of the storage service for
// tests: the command endpoint, chunk storage, file attributes, public links,
// shares and signup, plus fault injection for transfer tests.
package megatest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

const (
	defaultQuota = 20 << 30
	accessOwner  = 3
	accessNone   = -1
)

// Server is a fake service. Create it with New and point clients at URL().
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	users     map[string]*User // by lowercase email
	byHandle  map[string]*User
	sessions  map[string]*User
	nodes     map[string]*node
	uploads   map[string]*upload
	completed map[string]*upload // by completion token
	links     map[string]*link   // by public handle
	attrURLs  map[string]bool
	fileAttrs map[string][]byte
	signups   map[string]*signup
	clock     int64

	rateLimitLogin bool
	faults         faults
	dropped        map[string]int
	holds          map[string]*commandHold

	uploadsAccepted   atomic.Int64
	downloadsServed   atomic.Int64
	commandsProcessed atomic.Int64
}

type node struct {
	api.Node
	keys      map[string]string // key holder (user or share handle) -> wrapped key
	data      []byte
	shares    map[string]*share // by user handle or api.ExportUser
	ownKey    string
	fileAttrs string
}

type share struct {
	access int
	key    string
}

type upload struct {
	size    int64
	data    []byte
	filled  map[int64]int
	token   string
	expired bool
}

type link struct {
	handle string
	key    string
}

type signup struct {
	email     string
	name      string
	salt      []byte
	master    string
	loginHash string
	challenge string
	consumed  bool
}

// New starts a fake server. Close it with Close.
func New() *Server {
	s := &Server{
		users:     make(map[string]*User),
		byHandle:  make(map[string]*User),
		sessions:  make(map[string]*User),
		nodes:     make(map[string]*node),
		uploads:   make(map[string]*upload),
		completed: make(map[string]*upload),
		links:     make(map[string]*link),
		attrURLs:  make(map[string]bool),
		fileAttrs: make(map[string][]byte),
		signups:   make(map[string]*signup),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cs", s.handleCommand)
	mux.HandleFunc("POST /ul/{id}/{offset}", s.handleUploadChunk)
	mux.HandleFunc("GET /dl/{handle}/{range}", s.handleDownloadChunk)
	mux.HandleFunc("POST /fa/{id}", s.handleFileAttr)

	s.srv = httptest.NewServer(mux)

	return s
}

// URL is the command endpoint base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// RateLimitLogin makes every login attempt answer with the rate-limit code.
func (s *Server) RateLimitLogin(on bool) {
	s.mu.Lock()
	s.rateLimitLogin = on
	s.mu.Unlock()
}

// ExpireSessions invalidates every session of the user with email.
func (s *Server) ExpireSessions(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sid, u := range s.sessions {
		if strings.EqualFold(u.Email, email) {
			delete(s.sessions, sid)
		}
	}
}

// ExpireUploads makes every pending upload URL answer with the expired code.
func (s *Server) ExpireUploads() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.uploads {
		if u.token == "" {
			u.expired = true
		}
	}
}

// commandHold parks one response of an action until release is closed.
type commandHold struct {
	computed chan struct{}
	release  chan struct{}
}

// DropCommands cuts the connection of the next n requests for action
// without answering, as a network failure would.
func (s *Server) DropCommands(action string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped == nil {
		s.dropped = make(map[string]int)
	}

	s.dropped[action] = n
}

// HoldCommand makes the next request for action compute its answer and
// then wait for release before sending it. computed is closed once the
// answer reflects the server state; commands issued after that are not in
// it.
func (s *Server) HoldCommand(action string) (computed <-chan struct{}, release func()) {
	h := &commandHold{computed: make(chan struct{}), release: make(chan struct{})}

	s.mu.Lock()
	if s.holds == nil {
		s.holds = make(map[string]*commandHold)
	}

	s.holds[action] = h
	s.mu.Unlock()

	var once sync.Once

	return h.computed, func() { once.Do(func() { close(h.release) }) }
}

func (s *Server) dropCommand(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped[action] <= 0 {
		return false
	}

	s.dropped[action]--

	return true
}

func (s *Server) takeHold(action string) *commandHold {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.holds[action]
	delete(s.holds, action)

	return h
}

// CommandCount reports how many commands were processed.
func (s *Server) CommandCount() int64 {
	return s.commandsProcessed.Load()
}

// NodeCount reports how many nodes exist in total.
func (s *Server) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.nodes)
}

// HasNode reports whether a node with handle exists.
func (s *Server) HasNode(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nodes[handle]

	return ok
}

// FileAttrCount reports how many file attributes (thumbnails, previews)
// are stored.
func (s *Server) FileAttrCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.fileAttrs)
}

// NodeFileAttrs returns the attached file attribute string of a node.
func (s *Server) NodeFileAttrs(handle string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[handle]; ok {
		return n.fileAttrs
	}

	return ""
}

// SignupCode returns the pending signup code sent to email, or "".
func (s *Server) SignupCode(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, su := range s.signups {
		if strings.EqualFold(su.email, email) && !su.consumed {
			return code
		}
	}

	return ""
}

func (s *Server) tick() int64 {
	s.clock++
	return s.clock
}

func (s *Server) newHandle(size int) string {
	for {
		h := megacrypto.B64Encode(mustRandom(size))
		if _, taken := s.nodes[h]; !taken && !strings.HasPrefix(h, "-") {
			return h
		}
	}
}

func mustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("megatest: random: %v", err))
	}

	return b
}

func mustRSA(bits int) *rsa.PrivateKey {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		panic(fmt.Sprintf("megatest: RSA key: %v", err))
	}

	return priv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	b, err := json.Marshal([]any{v})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_, _ = w.Write(b)
}

func writeCode(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, "%d", code)
}
