package mega

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/mega-go/internal/sessionfile"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

const (
	sessionBlobVersion = 1
	sessionMACLabel    = "mega-go session v1"
)

// sessionEnvelope is the serialized form returned by Save.
type sessionEnvelope struct {
	Version int    `json:"v"`
	Payload string `json:"payload"`
	MAC     string `json:"mac"`
}

type savedSession struct {
	SID        string `json:"sid"`
	MasterKey  string `json:"k"`
	Handle     string `json:"u"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	PrivateKey string `json:"privk,omitempty"`
}

// Save serializes the session id, key material and account identity. The
// tree is not included; Load fetches it again.
func (s *Session) Save() ([]byte, error) {
	saved := savedSession{
		SID:       s.client.SessionID(),
		MasterKey: megacrypto.B64Encode(s.masterKey),
		Handle:    s.userHandle,
		Email:     s.email,
		Name:      s.name,
	}

	if s.priv != nil {
		wrapped, err := megacrypto.WrapPrivateKey(s.masterKey, s.priv)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}

		saved.PrivateKey = megacrypto.B64Encode(wrapped)
	}

	payload, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("mega: encoding session: %w", err)
	}

	blob, err := json.Marshal(sessionEnvelope{
		Version: sessionBlobVersion,
		Payload: megacrypto.B64Encode(payload),
		MAC:     megacrypto.B64Encode(sessionMAC(s.masterKey, payload)),
	})
	if err != nil {
		return nil, fmt.Errorf("mega: encoding session: %w", err)
	}

	return blob, nil
}

// SaveFile writes Save's blob to path atomically with owner-only
// permissions.
func (s *Session) SaveFile(path string) error {
	blob, err := s.Save()
	if err != nil {
		return err
	}

	meta := map[string]string{"email": s.email, "name": s.name, "handle": s.userHandle}
	if err := sessionfile.Save(path, blob, meta); err != nil {
		return ioError("save session", path, err)
	}

	return nil
}

// Load rebuilds a session from a Save blob and refreshes its tree. It
// returns nil, nil when the blob is empty, malformed or fails its integrity
// check. A blob the server no longer accepts yields *AuthError with
// AuthExpired.
func Load(ctx context.Context, blob []byte, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	saved, ok := openBlob(blob)
	if !ok {
		cfg.Logger.Debug("ignoring unusable session blob", slog.Int("bytes", len(blob)))
		return nil, nil //nolint:nilnil // no cached session
	}

	master, err := megacrypto.B64Decode(saved.MasterKey)
	if err != nil || len(master) != megacrypto.KeySize {
		return nil, nil //nolint:nilnil // no cached session
	}

	client, err := cfg.newClient()
	if err != nil {
		return nil, err
	}

	client.SetSessionID(saved.SID)

	s := newSession(cfg, client, master, saved.Handle, saved.Email)
	s.name = saved.Name

	if saved.PrivateKey != "" {
		if err := s.setPrivateKey(saved.PrivateKey); err != nil {
			return nil, nil //nolint:nilnil // no cached session
		}
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("session restored", slog.String("user", s.userHandle))

	return s, nil
}

// LoadFile loads a session saved with SaveFile. A missing or unreadable
// file yields nil, nil.
func LoadFile(ctx context.Context, path string, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	blob, _, err := sessionfile.Load(path)
	if err != nil {
		cfg.Logger.Debug("ignoring session file", slog.String("path", path), slog.String("error", err.Error()))

		return nil, nil //nolint:nilnil // no cached session
	}

	if blob == nil {
		return nil, nil //nolint:nilnil // no cached session
	}

	return Load(ctx, blob, cfg)
}

// openBlob parses and authenticates a session blob.
func openBlob(blob []byte) (*savedSession, bool) {
	if len(blob) == 0 {
		return nil, false
	}

	var env sessionEnvelope
	if err := json.Unmarshal(blob, &env); err != nil || env.Version != sessionBlobVersion {
		return nil, false
	}

	payload, err := megacrypto.B64Decode(env.Payload)
	if err != nil {
		return nil, false
	}

	mac, err := megacrypto.B64Decode(env.MAC)
	if err != nil {
		return nil, false
	}

	var saved savedSession
	if err := json.Unmarshal(payload, &saved); err != nil {
		return nil, false
	}

	master, err := megacrypto.B64Decode(saved.MasterKey)
	if err != nil {
		return nil, false
	}

	if !hmac.Equal(mac, sessionMAC(master, payload)) {
		return nil, false
	}

	if saved.SID == "" || saved.Handle == "" {
		return nil, false
	}

	return &saved, true
}

// sessionMAC authenticates payload with a key derived from the master key.
func sessionMAC(master, payload []byte) []byte {
	k := sha256.Sum256(append([]byte(sessionMACLabel), master...))
	m := hmac.New(sha256.New, k[:])
	m.Write(payload)

	return m.Sum(nil)
}
