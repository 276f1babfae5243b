package megatest

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// reqCtx is the caller of one command: a session user, a public folder, or
// neither.
type reqCtx struct {
	user   *User
	folder *node
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	s.commandsProcessed.Add(1)

	var cmds []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil || len(cmds) == 0 {
		writeCode(w, api.CodeArgs)
		return
	}

	var head struct {
		A string `json:"a"`
	}

	if err := json.Unmarshal(cmds[0], &head); err != nil {
		writeCode(w, api.CodeArgs)
		return
	}

	if s.dropCommand(head.A) {
		panic(http.ErrAbortHandler)
	}

	result, code := s.run(r, head.A, cmds[0])

	// A held response waits outside the lock so other commands can land
	// between computing it and sending it.
	if hold := s.takeHold(head.A); hold != nil {
		close(hold.computed)
		<-hold.release
	}

	if code < 0 {
		writeCode(w, code)
		return
	}

	writeJSON(w, result)
}

func (s *Server) run(r *http.Request, action string, raw json.RawMessage) (any, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc := &reqCtx{}
	q := r.URL.Query()

	if sid := q.Get("sid"); sid != "" {
		u, ok := s.sessions[sid]
		if !ok {
			return nil, api.CodeSession
		}

		rc.user = u
	}

	if ph := q.Get("n"); ph != "" {
		l, ok := s.links[ph]
		if !ok {
			return nil, api.CodeNotFound
		}

		n := s.nodes[l.handle]
		if n == nil || n.Type != api.NodeFolder || n.shares[api.ExportUser] == nil {
			return nil, api.CodeNotFound
		}

		rc.folder = n
	}

	return s.dispatch(rc, action, raw)
}

func (s *Server) dispatch(rc *reqCtx, action string, raw json.RawMessage) (any, int) {
	anonymous := map[string]bool{"us0": true, "us": true, "uc2": true, "ud2": true, "g": true, "f": true}
	if rc.user == nil && !anonymous[action] {
		return nil, api.CodeSession
	}

	switch action {
	case "us0":
		return s.cmdPrelogin(raw)
	case "us":
		return s.cmdLogin(raw)
	case "ug":
		return s.cmdUserInfo(rc)
	case "up":
		return s.cmdUpdateUser(rc, raw)
	case "f":
		return s.cmdFetch(rc)
	case "p":
		return s.cmdPut(rc, raw)
	case "a":
		return s.cmdSetAttr(rc, raw)
	case "m":
		return s.cmdMove(rc, raw)
	case "d":
		return s.cmdDelete(rc, raw)
	case "u":
		return s.cmdUploadURL(rc, raw)
	case "g":
		return s.cmdDownloadURL(rc, raw)
	case "uq":
		return s.cmdQuota(rc)
	case "l":
		return s.cmdLink(rc, raw)
	case "s2":
		return s.cmdShare(rc, raw)
	case "uk":
		return s.cmdPublicKey(raw)
	case "uc2":
		return s.cmdSignup(raw)
	case "ud2":
		return s.cmdVerifySignup(raw)
	case "ufa":
		return s.cmdAttrUploadURL(raw)
	case "pfa":
		return s.cmdAttachAttr(rc, raw)
	default:
		return nil, api.CodeArgs
	}
}

func decode(raw json.RawMessage, v any) int {
	if err := json.Unmarshal(raw, v); err != nil {
		return api.CodeArgs
	}

	return 0
}

func (s *Server) cmdPrelogin(raw json.RawMessage) (any, int) {
	var req struct {
		User string `json:"user"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	u := s.lookupUser(req.User)
	if u == nil {
		return nil, api.CodeNotFound
	}

	resp := api.PreloginResponse{Version: u.version}
	if u.version == 2 {
		resp.Salt = megacrypto.B64Encode(u.salt)
	}

	return resp, 0
}

func (s *Server) cmdLogin(raw json.RawMessage) (any, int) {
	var req struct {
		User string `json:"user"`
		UH   string `json:"uh"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	if s.rateLimitLogin {
		return nil, api.CodeRateLimit
	}

	u := s.lookupUser(req.User)
	if u == nil || u.loginHash != req.UH {
		return nil, api.CodeNotFound
	}

	if u.blocked {
		return nil, api.CodeBlocked
	}

	resp := api.LoginResponse{MasterKey: u.wrapped, PrivateKey: u.privk, UserHandle: u.Handle}

	if u.csid && u.pubk != "" {
		der, err := megacrypto.B64Decode(u.pubk)
		if err != nil {
			return nil, api.CodeInternal
		}

		pub, err := megacrypto.ParsePublicKey(der)
		if err != nil {
			return nil, api.CodeInternal
		}

		raw := mustRandom(32)

		enc, err := megacrypto.EncryptForPublicKey(pub, raw)
		if err != nil {
			return nil, api.CodeInternal
		}

		resp.CSID = megacrypto.B64Encode(enc)
		s.sessions[megacrypto.B64Encode(raw)] = u
	} else {
		sid := megacrypto.B64Encode(append(append([]byte{}, u.ts...), mustRandom(16)...))
		resp.TSID = sid
		s.sessions[sid] = u
	}

	return resp, 0
}

func (s *Server) cmdUserInfo(rc *reqCtx) (any, int) {
	u := rc.user

	return api.UserInfo{Handle: u.Handle, Email: u.Email, Name: u.Name, PrivateKey: u.privk, PublicKey: u.pubk}, 0
}

func (s *Server) cmdUpdateUser(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		PrivK string `json:"privk"`
		PubK  string `json:"pubk"`
		K     string `json:"k"`
		UH    string `json:"uh"`
		CRV   string `json:"crv"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	u := rc.user

	if req.PrivK != "" || req.PubK != "" {
		if req.PrivK == "" || req.PubK == "" {
			return nil, api.CodeArgs
		}

		u.privk, u.pubk = req.PrivK, req.PubK
	}

	if req.K != "" {
		salt, err := megacrypto.B64Decode(req.CRV)
		if err != nil || req.UH == "" || len(salt) == 0 {
			return nil, api.CodeArgs
		}

		u.wrapped, u.loginHash, u.salt, u.version = req.K, req.UH, salt, 2
	}

	return u.Handle, 0
}

func (s *Server) cmdFetch(rc *reqCtx) (any, int) {
	if rc.folder != nil {
		return s.fetchFolder(rc.folder), 0
	}

	if rc.user == nil {
		return nil, api.CodeSession
	}

	u := rc.user
	resp := api.FilesResponse{Nodes: []api.Node{}}

	owners := map[string]bool{}

	for _, n := range s.sortedNodes() {
		acc := s.access(u, n.Handle)
		if acc == accessNone {
			continue
		}

		view := s.view(u, n)
		if view.ShareUser != "" {
			owners[view.ShareUser] = true
		}

		resp.Nodes = append(resp.Nodes, view)

		if acc == accessOwner {
			if n.ownKey != "" {
				resp.OwnKeys = append(resp.OwnKeys, api.ShareKeyEntry{Handle: n.Handle, Key: n.ownKey})
			}

			for _, uh := range sortedKeys(n.shares) {
				resp.Shares = append(resp.Shares, api.Share{Handle: n.Handle, User: uh, Access: n.shares[uh].access})
			}
		}
	}

	for h := range u.contacts {
		owners[h] = true
	}

	for _, h := range sortedKeys(owners) {
		c := s.byHandle[h]
		if c == nil {
			continue
		}

		vis := 0
		if u.contacts[h] {
			vis = 1
		}

		resp.Contacts = append(resp.Contacts, api.Contact{Handle: c.Handle, Email: c.Email, Visibility: vis})
	}

	return resp, 0
}

func (s *Server) fetchFolder(root *node) api.FilesResponse {
	resp := api.FilesResponse{Nodes: []api.Node{}}

	for _, n := range s.sortedNodes() {
		if !s.inSubtree(n.Handle, root.Handle) {
			continue
		}

		view := n.Node
		view.Key = ""
		view.PublicHandle = ""

		if k, ok := n.keys[root.Handle]; ok {
			view.Key = root.Handle + ":" + k
		}

		if n.Handle == root.Handle {
			view.Parent = ""
		}

		resp.Nodes = append(resp.Nodes, view)
	}

	return resp
}

// view renders n for user u.
func (s *Server) view(u *User, n *node) api.Node {
	v := n.Node
	v.FileAttrs = n.fileAttrs

	var parts []string
	if k, ok := n.keys[u.Handle]; ok {
		parts = append(parts, u.Handle+":"+k)
	}

	for _, holder := range sortedKeys(n.keys) {
		sh := s.nodes[holder]
		if sh == nil {
			continue
		}

		owned := s.access(u, holder) == accessOwner && sh.ownKey != ""
		if owned || sh.shares[u.Handle] != nil {
			parts = append(parts, holder+":"+n.keys[holder])
		}
	}

	v.Key = strings.Join(parts, "/")

	if sh, ok := n.shares[u.Handle]; ok {
		if owner := s.treeOwner(n.Handle); owner != nil {
			v.Parent = owner.Handle
			v.ShareUser = owner.Handle
		}

		v.ShareKey = sh.key
		v.ShareAccess = sh.access
	}

	if s.treeOwner(n.Handle) == u {
		for ph, l := range s.links {
			if l.handle == n.Handle {
				v.PublicHandle = ph
			}
		}
	}

	return v
}

type newNodeReq struct {
	H  string            `json:"h"`
	T  int               `json:"t"`
	A  string            `json:"a"`
	K  string            `json:"k"`
	CR map[string]string `json:"cr"`
	FA string            `json:"fa"`
}

func (s *Server) cmdPut(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		T  string       `json:"t"`
		N  []newNodeReq `json:"n"`
		OV string       `json:"ov"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	u := rc.user

	target := s.nodes[req.T]
	if target == nil {
		return nil, api.CodeNotFound
	}

	if target.Type == api.NodeFile {
		return nil, api.CodeArgs
	}

	if s.access(u, target.Handle) < 1 {
		return nil, api.CodeAccess
	}

	if len(req.N) == 0 {
		return nil, api.CodeArgs
	}

	created := make([]api.Node, 0, len(req.N))

	for _, nn := range req.N {
		if nn.K == "" || nn.A == "" {
			return nil, api.CodeArgs
		}

		n := &node{
			Node: api.Node{
				Handle:    s.newHandle(6),
				Parent:    target.Handle,
				Owner:     u.Handle,
				Type:      nn.T,
				Attr:      nn.A,
				Timestamp: s.tick(),
			},
			keys:      map[string]string{u.Handle: nn.K},
			fileAttrs: nn.FA,
		}

		for holder, k := range nn.CR {
			n.keys[holder] = k
		}

		switch nn.T {
		case api.NodeFile:
			up, ok := s.completed[nn.H]
			if !ok {
				return nil, api.CodeNotFound
			}

			delete(s.completed, nn.H)

			n.data = up.data
			n.Size = up.size
		case api.NodeFolder:
		default:
			return nil, api.CodeArgs
		}

		s.nodes[n.Handle] = n
		created = append(created, s.view(u, n))
	}

	if req.OV != "" {
		if old := s.nodes[req.OV]; old != nil && old.Type == api.NodeFile && s.access(u, old.Handle) >= 1 {
			s.deleteSubtree(old.Handle)
		}
	}

	return struct {
		F []api.Node `json:"f"`
	}{F: created}, 0
}

func (s *Server) cmdSetAttr(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N  string `json:"n"`
		At string `json:"at"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	n := s.nodes[req.N]
	if n == nil {
		return nil, api.CodeNotFound
	}

	if isRootType(n.Type) || s.access(rc.user, n.Handle) < 1 {
		return nil, api.CodeAccess
	}

	n.Attr = req.At

	return 0, 0
}

func (s *Server) cmdMove(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N  string            `json:"n"`
		T  string            `json:"t"`
		CR map[string]string `json:"cr"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	n, t := s.nodes[req.N], s.nodes[req.T]
	if n == nil || t == nil {
		return nil, api.CodeNotFound
	}

	if isRootType(n.Type) || t.Type == api.NodeFile {
		return nil, api.CodeAccess
	}

	if s.access(rc.user, n.Handle) < 2 || s.access(rc.user, t.Handle) < 1 {
		return nil, api.CodeAccess
	}

	if s.inSubtree(t.Handle, n.Handle) {
		return nil, api.CodeCircular
	}

	n.Parent = t.Handle
	for holder, k := range req.CR {
		n.keys[holder] = k
	}

	return 0, 0
}

func (s *Server) cmdDelete(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N string `json:"n"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	n := s.nodes[req.N]
	if n == nil {
		return nil, api.CodeNotFound
	}

	if isRootType(n.Type) || s.access(rc.user, n.Handle) < 2 {
		return nil, api.CodeAccess
	}

	s.deleteSubtree(n.Handle)

	return 0, 0
}

func (s *Server) cmdUploadURL(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		S int64 `json:"s"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	if req.S < 0 {
		return nil, api.CodeArgs
	}

	u := rc.user
	if s.usedBytes(u)+req.S > u.quotaTotal {
		return nil, api.CodeOverQuota
	}

	id := megacrypto.B64Encode(mustRandom(12))
	s.uploads[id] = &upload{size: req.S, data: make([]byte, req.S), filled: map[int64]int{}}

	return map[string]string{"p": s.srv.URL + "/ul/" + id}, 0
}

func (s *Server) cmdDownloadURL(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N string `json:"n"`
		P string `json:"p"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	if req.P != "" {
		l, ok := s.links[req.P]
		if !ok {
			return nil, api.CodeNotFound
		}

		n := s.nodes[l.handle]
		if n == nil {
			return nil, api.CodeNotFound
		}

		if n.Type != api.NodeFile {
			return nil, api.CodeAccess
		}

		return api.DownloadInfo{URL: s.srv.URL + "/dl/" + n.Handle, Size: n.Size, Attr: n.Attr, Key: l.key}, 0
	}

	n := s.nodes[req.N]
	if n == nil {
		return nil, api.CodeNotFound
	}

	switch {
	case rc.folder != nil:
		if !s.inSubtree(n.Handle, rc.folder.Handle) {
			return nil, api.CodeAccess
		}
	case rc.user != nil:
		if s.access(rc.user, n.Handle) == accessNone {
			return nil, api.CodeAccess
		}
	default:
		return nil, api.CodeSession
	}

	if n.Type != api.NodeFile {
		return nil, api.CodeAccess
	}

	return api.DownloadInfo{URL: s.srv.URL + "/dl/" + n.Handle, Size: n.Size, Attr: n.Attr}, 0
}

func (s *Server) cmdQuota(rc *reqCtx) (any, int) {
	return api.QuotaInfo{Total: rc.user.quotaTotal, Used: s.usedBytes(rc.user)}, 0
}

func (s *Server) cmdLink(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N string `json:"n"`
		K string `json:"k"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	n := s.nodes[req.N]
	if n == nil {
		return nil, api.CodeNotFound
	}

	if s.access(rc.user, n.Handle) != accessOwner || isRootType(n.Type) {
		return nil, api.CodeAccess
	}

	if n.Type == api.NodeFolder && n.shares[api.ExportUser] == nil {
		return nil, api.CodeAccess
	}

	for ph, l := range s.links {
		if l.handle == n.Handle {
			if req.K != "" {
				l.key = req.K
			}

			return ph, 0
		}
	}

	ph := s.newHandle(6)
	s.links[ph] = &link{handle: n.Handle, key: req.K}

	return ph, 0
}

func (s *Server) cmdShare(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N  string            `json:"n"`
		S  []api.ShareTarget `json:"s"`
		OK string            `json:"ok"`
		CR []api.NodeKey     `json:"cr"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	n := s.nodes[req.N]
	if n == nil {
		return nil, api.CodeNotFound
	}

	if n.Type != api.NodeFolder || s.access(rc.user, n.Handle) != accessOwner {
		return nil, api.CodeAccess
	}

	if len(req.S) == 0 || req.OK == "" {
		return nil, api.CodeArgs
	}

	if n.shares == nil {
		n.shares = map[string]*share{}
	}

	for _, t := range req.S {
		if t.Access < 0 || t.Access > 2 {
			return nil, api.CodeArgs
		}

		if t.User == api.ExportUser {
			n.shares[api.ExportUser] = &share{access: 0}
			continue
		}

		target := s.lookupUser(t.User)
		if target == nil {
			return nil, api.CodeNotFound
		}

		if target == rc.user || t.Key == "" {
			return nil, api.CodeArgs
		}

		n.shares[target.Handle] = &share{access: t.Access, key: t.Key}
	}

	n.ownKey = req.OK

	for _, nk := range req.CR {
		if d := s.nodes[nk.Handle]; d != nil && s.inSubtree(d.Handle, n.Handle) {
			d.keys[n.Handle] = nk.Key
		}
	}

	return 0, 0
}

func (s *Server) cmdPublicKey(raw json.RawMessage) (any, int) {
	var req struct {
		U string `json:"u"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	u := s.lookupUser(req.U)
	if u == nil || u.pubk == "" {
		return nil, api.CodeNotFound
	}

	return api.PublicKeyInfo{Handle: u.Handle, PublicKey: u.pubk}, 0
}

func (s *Server) cmdSignup(raw json.RawMessage) (any, int) {
	var req struct {
		N   string `json:"n"`
		M   string `json:"m"`
		CRV string `json:"crv"`
		K   string `json:"k"`
		HAK string `json:"hak"`
		CH  string `json:"ch"`
		TS  string `json:"ts"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	if req.M == "" || req.K == "" || req.HAK == "" || req.TS == "" {
		return nil, api.CodeArgs
	}

	if s.lookupUser(req.M) != nil {
		return nil, api.CodeExists
	}

	salt, err := megacrypto.B64Decode(req.CRV)
	if err != nil {
		return nil, api.CodeArgs
	}

	code := megacrypto.B64Encode(mustRandom(16))
	s.signups[code] = &signup{
		email: req.M, name: req.N, salt: salt, master: req.K,
		loginHash: req.HAK, challenge: req.CH + "|" + req.TS,
	}

	return 0, 0
}

func (s *Server) cmdVerifySignup(raw json.RawMessage) (any, int) {
	var req struct {
		C string `json:"c"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	su, ok := s.signups[req.C]
	if !ok {
		return nil, api.CodeNotFound
	}

	if su.consumed {
		return nil, api.CodeExists
	}

	if s.lookupUser(su.email) != nil {
		return nil, api.CodeExists
	}

	ch, tsB64, _ := strings.Cut(su.challenge, "|")

	ts, err := megacrypto.B64Decode(tsB64)
	if err != nil {
		return nil, api.CodeArgs
	}

	su.consumed = true

	u := &User{
		Email:      su.email,
		Name:       su.name,
		version:    2,
		salt:       su.salt,
		wrapped:    su.master,
		loginHash:  su.loginHash,
		ts:         ts,
		contacts:   map[string]bool{},
		quotaTotal: defaultQuota,
	}
	s.createAccount(u)

	return api.SignupInfo{Email: su.email, Name: su.name, Challenge: ch}, 0
}

func (s *Server) cmdAttrUploadURL(raw json.RawMessage) (any, int) {
	var req struct {
		S int64 `json:"s"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	if req.S <= 0 {
		return nil, api.CodeArgs
	}

	id := megacrypto.B64Encode(mustRandom(12))
	s.attrURLs[id] = true

	return map[string]string{"p": s.srv.URL + "/fa/" + id}, 0
}

func (s *Server) cmdAttachAttr(rc *reqCtx, raw json.RawMessage) (any, int) {
	var req struct {
		N  string `json:"n"`
		FA string `json:"fa"`
	}

	if code := decode(raw, &req); code < 0 {
		return nil, code
	}

	n := s.nodes[req.N]
	if n == nil {
		return nil, api.CodeNotFound
	}

	if n.Type != api.NodeFile || s.access(rc.user, n.Handle) < 1 {
		return nil, api.CodeAccess
	}

	for _, part := range strings.Split(req.FA, "/") {
		_, h, ok := strings.Cut(part, "*")
		if !ok {
			return nil, api.CodeArgs
		}

		if _, stored := s.fileAttrs[h]; !stored {
			return nil, api.CodeNotFound
		}
	}

	n.fileAttrs = req.FA

	return 0, 0
}

// access returns the caller's level on handle: accessOwner for the tree
// owner, the share level for an enclosing incoming share, else accessNone.
func (s *Server) access(u *User, handle string) int {
	if u == nil {
		return accessNone
	}

	if s.treeOwner(handle) == u {
		return accessOwner
	}

	for h := handle; h != ""; {
		n := s.nodes[h]
		if n == nil {
			break
		}

		if sh, ok := n.shares[u.Handle]; ok {
			return sh.access
		}

		h = n.Parent
	}

	return accessNone
}

// treeOwner returns the user whose root the node hangs under.
func (s *Server) treeOwner(handle string) *User {
	top := s.top(handle)
	if top == nil {
		return nil
	}

	return s.byHandle[top.Owner]
}

func (s *Server) top(handle string) *node {
	n := s.nodes[handle]
	for n != nil {
		p := s.nodes[n.Parent]
		if p == nil {
			return n
		}

		n = p
	}

	return nil
}

// inSubtree reports whether handle is root or one of its descendants.
func (s *Server) inSubtree(handle, root string) bool {
	for h := handle; h != ""; {
		if h == root {
			return true
		}

		n := s.nodes[h]
		if n == nil {
			return false
		}

		h = n.Parent
	}

	return false
}

func (s *Server) deleteSubtree(handle string) {
	var doomed []string

	for h := range s.nodes {
		if s.inSubtree(h, handle) {
			doomed = append(doomed, h)
		}
	}

	for ph, l := range s.links {
		if s.inSubtree(l.handle, handle) {
			delete(s.links, ph)
		}
	}

	for _, h := range doomed {
		delete(s.nodes, h)
	}
}

func (s *Server) usedBytes(u *User) int64 {
	var used int64

	for _, n := range s.nodes {
		if n.Type == api.NodeFile && s.treeOwner(n.Handle) == u {
			used += n.Size
		}
	}

	return used
}

func (s *Server) sortedNodes() []*node {
	out := make([]*node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}

		return out[i].Handle < out[j].Handle
	})

	return out
}

func isRootType(t int) bool {
	return t == api.NodeRoot || t == api.NodeInbox || t == api.NodeTrash
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
