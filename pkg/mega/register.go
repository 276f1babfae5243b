package mega

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// RegistrationState is a pending account registration. It holds the new
// account's keys until the emailed signup code is confirmed, and can be
// serialized to survive between the two steps. Treat it as a secret.
type RegistrationState struct {
	Email       string
	Name        string
	PasswordKey []byte
	MasterKey   []byte
	Salt        []byte
	Challenge   []byte
	Consumed    bool
}

type registrationJSON struct {
	Version     int    `json:"v"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PasswordKey string `json:"pk"`
	MasterKey   string `json:"mk"`
	Salt        string `json:"salt"`
	Challenge   string `json:"ch"`
	Consumed    bool   `json:"consumed,omitempty"`
}

const registrationVersion = 1

// Register creates an unconfirmed account. The server emails a signup code
// to email; pass it to VerifyRegistration together with the returned state.
func Register(ctx context.Context, email, password, name string, cfg Config) (*RegistrationState, error) {
	if !strings.Contains(email, "@") || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidArgument)
	}

	cfg = cfg.withDefaults()

	client, err := cfg.newClient()
	if err != nil {
		return nil, err
	}

	st, req, err := newRegistration(email, password, name)
	if err != nil {
		return nil, err
	}

	if err := client.Signup(ctx, req); err != nil {
		return nil, classify(err)
	}

	cfg.Logger.Info("registration pending confirmation", slog.String("email", email))

	return st, nil
}

func newRegistration(email, password, name string) (*RegistrationState, api.SignupRequest, error) {
	var req api.SignupRequest

	master, err := megacrypto.RandomKey()
	if err != nil {
		return nil, req, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	salt, err := megacrypto.RandomBytes(megacrypto.SaltSize)
	if err != nil {
		return nil, req, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	challenge, err := megacrypto.RandomKey()
	if err != nil {
		return nil, req, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	dk, err := megacrypto.DeriveKey(password, salt)
	if err != nil {
		return nil, req, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	wrapped, err := wrapB64(dk.PasswordKey, master)
	if err != nil {
		return nil, req, err
	}

	// Every session id issued for the account starts with this check.
	nonce, err := megacrypto.RandomKey()
	if err != nil {
		return nil, req, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	check, err := megacrypto.WrapKey(master, nonce)
	if err != nil {
		return nil, req, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	st := &RegistrationState{
		Email:       email,
		Name:        name,
		PasswordKey: dk.PasswordKey,
		MasterKey:   master,
		Salt:        salt,
		Challenge:   challenge,
	}

	req = api.SignupRequest{
		Email:        email,
		Name:         name,
		Salt:         megacrypto.B64Encode(salt),
		MasterKey:    wrapped,
		LoginHash:    dk.LoginHash,
		Challenge:    megacrypto.B64Encode(challenge),
		SessionCheck: megacrypto.B64Encode(append(nonce, check...)),
	}

	return st, req, nil
}

// VerifyRegistration confirms the account with the emailed signup code. A
// state can be confirmed once; reuse returns ErrConflict.
func VerifyRegistration(ctx context.Context, st *RegistrationState, signupCode string, cfg Config) error {
	if st == nil || strings.TrimSpace(signupCode) == "" {
		return fmt.Errorf("%w: registration state and signup code are required", ErrInvalidArgument)
	}

	if st.Consumed {
		return fmt.Errorf("%w: registration for %s already confirmed", ErrConflict, st.Email)
	}

	cfg = cfg.withDefaults()

	client, err := cfg.newClient()
	if err != nil {
		return err
	}

	info, err := client.VerifySignup(ctx, strings.TrimSpace(signupCode))
	if err != nil {
		return classify(err)
	}

	if !strings.EqualFold(info.Email, st.Email) || info.Challenge != megacrypto.B64Encode(st.Challenge) {
		return fmt.Errorf("%w: signup code belongs to another registration", ErrConflict)
	}

	st.Consumed = true

	cfg.Logger.Info("registration confirmed", slog.String("email", st.Email))

	return nil
}

// Serialize encodes the state for storage between Register and
// VerifyRegistration.
func (st *RegistrationState) Serialize() (string, error) {
	data, err := json.Marshal(registrationJSON{
		Version:     registrationVersion,
		Email:       st.Email,
		Name:        st.Name,
		PasswordKey: megacrypto.B64Encode(st.PasswordKey),
		MasterKey:   megacrypto.B64Encode(st.MasterKey),
		Salt:        megacrypto.B64Encode(st.Salt),
		Challenge:   megacrypto.B64Encode(st.Challenge),
		Consumed:    st.Consumed,
	})
	if err != nil {
		return "", fmt.Errorf("encoding registration: %w", err)
	}

	return megacrypto.B64Encode(data), nil
}

// DeserializeRegistration decodes a state produced by Serialize.
func DeserializeRegistration(s string) (*RegistrationState, error) {
	data, err := megacrypto.B64Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: registration state: %w", ErrInvalidArgument, err)
	}

	var rj registrationJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, fmt.Errorf("%w: registration state: %w", ErrInvalidArgument, err)
	}

	if rj.Version != registrationVersion {
		return nil, fmt.Errorf("%w: registration state version %d", ErrInvalidArgument, rj.Version)
	}

	st := &RegistrationState{Email: rj.Email, Name: rj.Name, Consumed: rj.Consumed}

	fields := []struct {
		dst  *[]byte
		src  string
		size int
	}{
		{&st.PasswordKey, rj.PasswordKey, megacrypto.KeySize},
		{&st.MasterKey, rj.MasterKey, megacrypto.KeySize},
		{&st.Salt, rj.Salt, megacrypto.SaltSize},
		{&st.Challenge, rj.Challenge, megacrypto.KeySize},
	}

	for _, f := range fields {
		b, err := megacrypto.B64Decode(f.src)
		if err != nil || len(b) != f.size {
			return nil, fmt.Errorf("%w: registration state has a malformed key", ErrInvalidArgument)
		}

		*f.dst = b
	}

	if st.Email == "" {
		return nil, fmt.Errorf("%w: registration state has no email", ErrInvalidArgument)
	}

	return st, nil
}
