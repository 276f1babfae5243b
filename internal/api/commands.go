package api

import (
	"context"
	"fmt"
	"log/slog"
)

// Command action names.
const (
	actionPrelogin     = "us0"
	actionLogin        = "us"
	actionUserInfo     = "ug"
	actionUpdateUser   = "up"
	actionFetchNodes   = "f"
	actionPutNodes     = "p"
	actionSetAttr      = "a"
	actionMove         = "m"
	actionDelete       = "d"
	actionUploadURL    = "u"
	actionDownloadURL  = "g"
	actionQuota        = "uq"
	actionPublicLink   = "l"
	actionShare        = "s2"
	actionPublicKey    = "uk"
	actionSignup       = "uc2"
	actionVerifySignup = "ud2"
	actionAttrUpload   = "ufa"
	actionAttachAttr   = "pfa"
)

type preloginRequest struct {
	Action string `json:"a"`
	User   string `json:"user"`
}

// Prelogin asks which derivation version and salt the account uses.
func (c *Client) Prelogin(ctx context.Context, email string) (*PreloginResponse, error) {
	req := preloginRequest{Action: actionPrelogin, User: email}

	var resp PreloginResponse
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

type loginRequest struct {
	Action    string `json:"a"`
	User      string `json:"user"`
	LoginHash string `json:"uh"`
}

// Login proves knowledge of the password and returns the wrapped master key
// and session id.
func (c *Client) Login(ctx context.Context, email, loginHash string) (*LoginResponse, error) {
	c.logger.Info("logging in", slog.String("email", email))

	req := loginRequest{Action: actionLogin, User: email, LoginHash: loginHash}

	var resp LoginResponse
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

type simpleRequest struct {
	Action string `json:"a"`
}

// UserInfo fetches the account record for the current session.
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	req := simpleRequest{Action: actionUserInfo}

	var resp UserInfo
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

type setKeysRequest struct {
	Action     string `json:"a"`
	PrivateKey string `json:"privk"`
	PublicKey  string `json:"pubk"`
}

// SetKeys uploads the account's RSA key pair (private half wrapped with the
// master key).
func (c *Client) SetKeys(ctx context.Context, privk, pubk string) error {
	req := setKeysRequest{Action: actionUpdateUser, PrivateKey: privk, PublicKey: pubk}

	return c.call(ctx, req.Action, req, nil)
}

type changePasswordRequest struct {
	Action    string `json:"a"`
	MasterKey string `json:"k"`
	LoginHash string `json:"uh"`
	Salt      string `json:"crv"`
}

// ChangePassword replaces the wrapped master key, login hash and salt.
func (c *Client) ChangePassword(ctx context.Context, wrappedMaster, loginHash, salt string) error {
	req := changePasswordRequest{Action: actionUpdateUser, MasterKey: wrappedMaster, LoginHash: loginHash, Salt: salt}

	return c.call(ctx, req.Action, req, nil)
}

type fetchNodesRequest struct {
	Action string `json:"a"`
	C      int    `json:"c"`
}

// FetchNodes returns the full node listing for the session or, on a folder
// client, for the public folder.
func (c *Client) FetchNodes(ctx context.Context) (*FilesResponse, error) {
	req := fetchNodesRequest{Action: actionFetchNodes, C: 1}

	var resp FilesResponse
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched nodes", slog.Int("count", len(resp.Nodes)))

	return &resp, nil
}

type putNodesRequest struct {
	Action    string    `json:"a"`
	Target    string    `json:"t"`
	Nodes     []NewNode `json:"n"`
	Overwrite string    `json:"ov,omitempty"`
}

type putNodesResponse struct {
	Nodes []Node `json:"f"`
}

// PutNodes creates nodes under target. When overwrite names an existing
// file, the new node replaces it as a new version.
func (c *Client) PutNodes(ctx context.Context, target string, nodes []NewNode, overwrite string) ([]Node, error) {
	req := putNodesRequest{Action: actionPutNodes, Target: target, Nodes: nodes, Overwrite: overwrite}

	var resp putNodesResponse
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Nodes) != len(nodes) {
		return nil, fmt.Errorf("%w: put nodes returned %d nodes, want %d", ErrNetwork, len(resp.Nodes), len(nodes))
	}

	return resp.Nodes, nil
}

type setAttrRequest struct {
	Action string `json:"a"`
	Node   string `json:"n"`
	Attr   string `json:"at"`
}

// SetAttr replaces a node's encrypted attributes.
func (c *Client) SetAttr(ctx context.Context, handle, attr string) error {
	req := setAttrRequest{Action: actionSetAttr, Node: handle, Attr: attr}

	return c.call(ctx, req.Action, req, nil)
}

type moveRequest struct {
	Action string            `json:"a"`
	Node   string            `json:"n"`
	Target string            `json:"t"`
	Keys   map[string]string `json:"cr,omitempty"`
}

// Move reparents a node. shareKeys carries the node key wrapped for any
// share enclosing the destination.
func (c *Client) Move(ctx context.Context, handle, target string, shareKeys map[string]string) error {
	req := moveRequest{Action: actionMove, Node: handle, Target: target, Keys: shareKeys}

	return c.call(ctx, req.Action, req, nil)
}

type deleteRequest struct {
	Action string `json:"a"`
	Node   string `json:"n"`
}

// Delete permanently removes a node and its subtree.
func (c *Client) Delete(ctx context.Context, handle string) error {
	req := deleteRequest{Action: actionDelete, Node: handle}

	return c.call(ctx, req.Action, req, nil)
}

type uploadURLRequest struct {
	Action string `json:"a"`
	Size   int64  `json:"s"`
}

type uploadURLResponse struct {
	URL string `json:"p"`
}

// UploadURL reserves a storage URL for a file of size bytes.
func (c *Client) UploadURL(ctx context.Context, size int64) (string, error) {
	req := uploadURLRequest{Action: actionUploadURL, Size: size}

	var resp uploadURLResponse
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return "", err
	}

	return resp.URL, nil
}

type downloadURLRequest struct {
	Action       string `json:"a"`
	G            int    `json:"g"`
	Node         string `json:"n,omitempty"`
	PublicHandle string `json:"p,omitempty"`
}

// DownloadURL returns the storage URL of a node in the session's tree (or,
// on a folder client, of a node inside the public folder).
func (c *Client) DownloadURL(ctx context.Context, handle string) (*DownloadInfo, error) {
	return c.downloadURL(ctx, downloadURLRequest{Action: actionDownloadURL, G: 1, Node: handle})
}

// PublicDownloadURL resolves a public file handle.
func (c *Client) PublicDownloadURL(ctx context.Context, publicHandle string) (*DownloadInfo, error) {
	return c.downloadURL(ctx, downloadURLRequest{Action: actionDownloadURL, G: 1, PublicHandle: publicHandle})
}

func (c *Client) downloadURL(ctx context.Context, req downloadURLRequest) (*DownloadInfo, error) {
	var resp DownloadInfo
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	if resp.Error < 0 {
		return nil, NewAPIError(req.Action, resp.Error)
	}

	return &resp, nil
}

type quotaRequest struct {
	Action   string `json:"a"`
	Storage  int    `json:"strg"`
	Transfer int    `json:"xfer"`
}

// Quota returns storage usage.
func (c *Client) Quota(ctx context.Context) (*QuotaInfo, error) {
	req := quotaRequest{Action: actionQuota, Storage: 1, Transfer: 1}

	var resp QuotaInfo
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

type publicLinkRequest struct {
	Action string `json:"a"`
	Node   string `json:"n"`
	Key    string `json:"k,omitempty"`
}

// PublicLink creates (or returns the existing) public handle for a node.
// key is the node key wrapped with the link key, stored for file links.
func (c *Client) PublicLink(ctx context.Context, handle, key string) (string, error) {
	req := publicLinkRequest{Action: actionPublicLink, Node: handle, Key: key}

	var ph string
	if err := c.call(ctx, req.Action, req, &ph); err != nil {
		return "", err
	}

	return ph, nil
}

type shareRequest struct {
	Action  string        `json:"a"`
	Node    string        `json:"n"`
	Targets []ShareTarget `json:"s"`
	OwnKey  string        `json:"ok"`
	Keys    []NodeKey     `json:"cr,omitempty"`
}

// Share grants targets access to folder handle. ownKey is the share key
// wrapped with the master key; keys carry every descendant node key wrapped
// with the share key.
func (c *Client) Share(ctx context.Context, handle string, targets []ShareTarget, ownKey string, keys []NodeKey) error {
	req := shareRequest{Action: actionShare, Node: handle, Targets: targets, OwnKey: ownKey, Keys: keys}

	return c.call(ctx, req.Action, req, nil)
}

type publicKeyRequest struct {
	Action string `json:"a"`
	User   string `json:"u"`
}

// PublicKey fetches another user's RSA public key by email or handle.
func (c *Client) PublicKey(ctx context.Context, user string) (*PublicKeyInfo, error) {
	req := publicKeyRequest{Action: actionPublicKey, User: user}

	var resp PublicKeyInfo
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SignupRequest carries a new account's wrapped secrets. SessionCheck is
// rand16||AES(master, rand16), the prefix of every session id the server
// will issue for the account.
type SignupRequest struct {
	Email        string
	Name         string
	Salt         string
	MasterKey    string
	LoginHash    string
	Challenge    string
	SessionCheck string
}

type signupRequest struct {
	Action       string `json:"a"`
	Name         string `json:"n"`
	Email        string `json:"m"`
	Salt         string `json:"crv"`
	MasterKey    string `json:"k"`
	LoginHash    string `json:"hak"`
	Challenge    string `json:"ch"`
	SessionCheck string `json:"ts"`
	Version      int    `json:"v"`
}

// Signup registers an unconfirmed account. The server sends a signup code
// to the email address out of band.
func (c *Client) Signup(ctx context.Context, p SignupRequest) error {
	req := signupRequest{
		Action: actionSignup, Name: p.Name, Email: p.Email, Salt: p.Salt,
		MasterKey: p.MasterKey, LoginHash: p.LoginHash, Challenge: p.Challenge,
		SessionCheck: p.SessionCheck, Version: 2,
	}

	return c.call(ctx, req.Action, req, nil)
}

type verifySignupRequest struct {
	Action string `json:"a"`
	Code   string `json:"c"`
}

// VerifySignup confirms a signup code and returns the registration it
// belongs to.
func (c *Client) VerifySignup(ctx context.Context, code string) (*SignupInfo, error) {
	req := verifySignupRequest{Action: actionVerifySignup, Code: code}

	var resp SignupInfo
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// FileAttrUploadURL reserves a storage URL for a file attribute of size
// bytes.
func (c *Client) FileAttrUploadURL(ctx context.Context, size int64) (string, error) {
	req := uploadURLRequest{Action: actionAttrUpload, Size: size}

	var resp uploadURLResponse
	if err := c.call(ctx, req.Action, req, &resp); err != nil {
		return "", err
	}

	return resp.URL, nil
}

type attachAttrRequest struct {
	Action    string `json:"a"`
	Node      string `json:"n"`
	FileAttrs string `json:"fa"`
}

// AttachFileAttrs links uploaded file attributes ("0*h/1*h") to a node.
func (c *Client) AttachFileAttrs(ctx context.Context, handle, fileAttrs string) error {
	req := attachAttrRequest{Action: actionAttachAttr, Node: handle, FileAttrs: fileAttrs}

	return c.call(ctx, req.Action, req, nil)
}
