package mega

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_VerifyThenLogin(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	cfg := testConfig(t, srv)
	ctx := context.Background()

	st, err := Register(ctx, "new@example.com", "s3cret", "Newbie", cfg)
	require.NoError(t, err)
	assert.False(t, st.Consumed)

	code := srv.SignupCode("new@example.com")
	require.NotEmpty(t, code)

	// The state survives a round trip through storage.
	blob, err := st.Serialize()
	require.NoError(t, err)

	restored, err := DeserializeRegistration(blob)
	require.NoError(t, err)
	assert.Equal(t, st, restored)

	require.NoError(t, VerifyRegistration(ctx, restored, code, cfg))
	assert.True(t, restored.Consumed)

	s, err := Login(ctx, "new@example.com", "s3cret", cfg)
	require.NoError(t, err)
	assert.Equal(t, "Newbie", s.Name())
	assert.NotNil(t, s.Stat("/Root"))

	// A confirmed state cannot be used again, locally or at the server.
	assert.ErrorIs(t, VerifyRegistration(ctx, restored, code, cfg), ErrConflict)
	assert.ErrorIs(t, VerifyRegistration(ctx, st, code, cfg), ErrConflict)
}

func TestRegister_ExistingEmail(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.AddUser("taken@example.com", "pw")

	_, err := Register(context.Background(), "taken@example.com", "pw2", "", testConfig(t, srv))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRegister_InvalidInput(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	cfg := testConfig(t, srv)
	ctx := context.Background()

	_, err := Register(ctx, "no-at-sign", "pw", "", cfg)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Register(ctx, "a@example.com", "", "", cfg)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.ErrorIs(t, VerifyRegistration(ctx, nil, "code", cfg), ErrInvalidArgument)

	st, err := Register(ctx, "b@example.com", "pw", "", cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyRegistration(ctx, st, "  ", cfg), ErrInvalidArgument)
	assert.ErrorIs(t, VerifyRegistration(ctx, st, "unknown-code", cfg), ErrNotFound)
}

func TestRegister_CodeOfAnotherRegistration(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	cfg := testConfig(t, srv)
	ctx := context.Background()

	mine, err := Register(ctx, "mine@example.com", "pw", "", cfg)
	require.NoError(t, err)

	_, err = Register(ctx, "theirs@example.com", "pw", "", cfg)
	require.NoError(t, err)

	err = VerifyRegistration(ctx, mine, srv.SignupCode("theirs@example.com"), cfg)
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, mine.Consumed)
}

func TestDeserializeRegistration_Malformed(t *testing.T) {
	t.Parallel()

	good, err := (&RegistrationState{
		Email:       "x@example.com",
		PasswordKey: make([]byte, 16),
		MasterKey:   make([]byte, 16),
		Salt:        make([]byte, 32),
		Challenge:   make([]byte, 16),
	}).Serialize()
	require.NoError(t, err)

	_, err = DeserializeRegistration(good)
	require.NoError(t, err)

	short, err := (&RegistrationState{
		Email:       "x@example.com",
		PasswordKey: make([]byte, 8),
		MasterKey:   make([]byte, 16),
		Salt:        make([]byte, 32),
		Challenge:   make([]byte, 16),
	}).Serialize()
	require.NoError(t, err)

	noEmail, err := (&RegistrationState{
		PasswordKey: make([]byte, 16),
		MasterKey:   make([]byte, 16),
		Salt:        make([]byte, 32),
		Challenge:   make([]byte, 16),
	}).Serialize()
	require.NoError(t, err)

	for name, in := range map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"not json":   b64([]byte("hello")),
		"version":    b64([]byte(`{"v":9}`)),
		"short key":  short,
		"no email":   noEmail,
	} {
		_, err := DeserializeRegistration(in)
		assert.ErrorIs(t, err, ErrInvalidArgument, name)
	}
}
