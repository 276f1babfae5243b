package api

// Node type codes in listings.
const (
	NodeFile   = 0
	NodeFolder = 1
	NodeRoot   = 2
	NodeInbox  = 3
	NodeTrash  = 4
)

// ExportUser is the pseudo-user a folder is shared with to make it public.
const ExportUser = "EXP"

// PlaceholderHandle stands in for the source handle of a new folder node.
const PlaceholderHandle = "xxxxxxxx"

// PreloginResponse tells the client how to derive keys for an account.
type PreloginResponse struct {
	Version int    `json:"v"`
	Salt    string `json:"s,omitempty"`
}

// LoginResponse carries the wrapped master key and one of the two session
// id forms: tsid (verifiable with the master key) or csid (RSA encrypted).
type LoginResponse struct {
	MasterKey  string `json:"k"`
	TSID       string `json:"tsid,omitempty"`
	CSID       string `json:"csid,omitempty"`
	PrivateKey string `json:"privk,omitempty"`
	UserHandle string `json:"u"`
}

// UserInfo is the account record returned by ug.
type UserInfo struct {
	Handle     string `json:"u"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	PrivateKey string `json:"privk,omitempty"`
	PublicKey  string `json:"pubk,omitempty"`
}

// Node is one entry of a filesystem listing. Key holds "owner:wrapped"
// pairs separated by '/', one per key that can unwrap the node key.
type Node struct {
	Handle       string `json:"h"`
	Parent       string `json:"p,omitempty"`
	Owner        string `json:"u,omitempty"`
	Type         int    `json:"t"`
	Attr         string `json:"a,omitempty"`
	Key          string `json:"k,omitempty"`
	Size         int64  `json:"s,omitempty"`
	Timestamp    int64  `json:"ts"`
	ShareUser    string `json:"su,omitempty"`
	ShareKey     string `json:"sk,omitempty"`
	ShareAccess  int    `json:"r,omitempty"`
	PublicHandle string `json:"ph,omitempty"`
	FileAttrs    string `json:"fa,omitempty"`
}

// ShareKeyEntry is an outgoing share key wrapped with the master key.
type ShareKeyEntry struct {
	Handle string `json:"h"`
	Key    string `json:"k"`
}

// Share records an outgoing share of a folder.
type Share struct {
	Handle string `json:"h"`
	User   string `json:"u"`
	Access int    `json:"r"`
}

// Contact is a known user. Visibility 1 means an active contact.
type Contact struct {
	Handle     string `json:"u"`
	Email      string `json:"m"`
	Visibility int    `json:"c"`
	Timestamp  int64  `json:"ts,omitempty"`
}

// FilesResponse is the full listing returned by f.
type FilesResponse struct {
	Nodes    []Node          `json:"f"`
	OwnKeys  []ShareKeyEntry `json:"ok,omitempty"`
	Shares   []Share         `json:"s,omitempty"`
	Contacts []Contact       `json:"u,omitempty"`
}

// NewNode describes a node to create with p. Handle is the upload
// completion token for files and PlaceholderHandle for folders. ShareKeys
// maps an enclosing share handle to the node key wrapped with that share.
type NewNode struct {
	Handle    string            `json:"h"`
	Type      int               `json:"t"`
	Attr      string            `json:"a"`
	Key       string            `json:"k"`
	ShareKeys map[string]string `json:"cr,omitempty"`
	FileAttrs string            `json:"fa,omitempty"`
}

// ShareTarget is one recipient of an s2 share command.
type ShareTarget struct {
	User   string `json:"u"`
	Access int    `json:"r"`
	Key    string `json:"k,omitempty"`
}

// NodeKey is a node handle with a wrapped key.
type NodeKey struct {
	Handle string `json:"h"`
	Key    string `json:"k"`
}

// DownloadInfo is the answer of g: a storage URL plus metadata.
type DownloadInfo struct {
	URL   string `json:"g"`
	Size  int64  `json:"s"`
	Attr  string `json:"at,omitempty"`
	Key   string `json:"k,omitempty"`
	Error int    `json:"e,omitempty"`
}

// QuotaInfo reports storage usage in bytes.
type QuotaInfo struct {
	Total int64 `json:"mstrg"`
	Used  int64 `json:"cstrg"`
}

// PublicKeyInfo is another user's RSA public key, fetched by email.
type PublicKeyInfo struct {
	Handle    string `json:"u"`
	PublicKey string `json:"pubk"`
}

// SignupInfo is returned when a signup code is confirmed.
type SignupInfo struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Challenge string `json:"ch"`
}
