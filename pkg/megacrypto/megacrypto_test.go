package megacrypto

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMACUnit = 16

func testFileKey(t *testing.T) *FileKey {
	t.Helper()

	fk, err := NewFileKey()
	require.NoError(t, err)

	return fk
}

func TestWrapKey_RoundTrip(t *testing.T) {
	master, err := RandomKey()
	require.NoError(t, err)

	nodeKey, err := RandomBytes(FileKeySize)
	require.NoError(t, err)

	wrapped, err := WrapKey(master, nodeKey)
	require.NoError(t, err)
	assert.NotEqual(t, nodeKey, wrapped)

	got, err := DecryptNodeKey(wrapped, master)
	require.NoError(t, err)
	assert.Equal(t, nodeKey, got)
}

func TestWrapKey_BadLengths(t *testing.T) {
	_, err := WrapKey(make([]byte, 15), make([]byte, 16))
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = WrapKey(make([]byte, 16), make([]byte, 17))
	assert.ErrorIs(t, err, ErrCrypto)

	_, err = DecryptNodeKey(make([]byte, 48), make([]byte, 16))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltSize)

	a, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	b, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	c, err := DeriveKey("wrong horse", salt)
	require.NoError(t, err)

	assert.Len(t, a.PasswordKey, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a.PasswordKey, c.PasswordKey)
	assert.NotEqual(t, a.LoginHash, c.LoginHash)

	mk, err := DeriveMasterKey("correct horse", salt)
	require.NoError(t, err)
	assert.Equal(t, a.PasswordKey, mk)
}

func TestDeriveKey_EmptySalt(t *testing.T) {
	_, err := DeriveKey("pw", nil)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestDeriveKeyV1_CaseInsensitiveEmail(t *testing.T) {
	a, err := DeriveKeyV1("pw", "Alice@Example.com")
	require.NoError(t, err)
	b, err := DeriveKeyV1("pw", "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, a.LoginHash, b.LoginHash)
	assert.Len(t, a.PasswordKey, KeySize)
}

func TestFileKey_PackUnpack(t *testing.T) {
	fk := testFileKey(t)
	copy(fk.MetaMAC[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	packed := fk.Bytes()
	require.Len(t, packed, FileKeySize)

	got, err := ParseFileKey(packed)
	require.NoError(t, err)
	assert.Equal(t, fk, got)

	attrKey, err := AttributeKey(packed)
	require.NoError(t, err)
	assert.Equal(t, fk.AES[:], attrKey)
}

func TestAttributes_RoundTrip(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	in := Attributes{Name: "Café.txt", Meta: map[string]any{"c": "fingerprint"}}

	ct, err := EncryptAttributes(in, key)
	require.NoError(t, err)
	assert.Zero(t, len(ct)%BlockSize)

	out, err := DecryptAttributes(ct, key)
	require.NoError(t, err)
	assert.Equal(t, "Café.txt", out.Name)
	assert.Equal(t, "fingerprint", out.Meta["c"])
}

func TestAttributes_WrongKey(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)
	other, err := RandomKey()
	require.NoError(t, err)

	ct, err := EncryptAttributes(Attributes{Name: "x"}, key)
	require.NoError(t, err)

	_, err = DecryptAttributes(ct, other)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestSchedule_StandardBoundaries(t *testing.T) {
	s := StandardSchedule
	const kib = 1 << 10

	want := []int64{0, 128, 384, 768, 1280, 1920, 2688, 3584, 4608, 5632, 6656}
	for i, off := range want {
		assert.Equal(t, off*kib, s.Offset(i), "chunk %d", i)
	}

	assert.Equal(t, int64(128*kib), s.Span(0))
	assert.Equal(t, int64(1024*kib), s.Span(7))
	assert.Equal(t, int64(1024*kib), s.Span(50))

	assert.Equal(t, 0, s.Count(0))
	assert.Equal(t, 1, s.Count(1))
	assert.Equal(t, 1, s.Count(128*kib))
	assert.Equal(t, 2, s.Count(128*kib+1))
	assert.Equal(t, 8, s.Count(4608*kib))
	assert.Equal(t, 9, s.Count(4608*kib+1))

	assert.Equal(t, int64(5), s.Len(1, 128*kib+5))
	assert.Zero(t, s.Len(3, 128*kib))
}

func TestSchedule_Batches(t *testing.T) {
	s := Schedule{Unit: testMACUnit}

	// MAC chunks of a 300-byte file: 16, 32, 48, 64, 80 and a 60-byte tail.
	assert.Equal(t, []Batch{
		{Offset: 0, Length: 48, First: 0, Chunks: 2},
		{Offset: 48, Length: 48, First: 2, Chunks: 1},
		{Offset: 96, Length: 64, First: 3, Chunks: 1},
		{Offset: 160, Length: 80, First: 4, Chunks: 1},
		{Offset: 240, Length: 60, First: 5, Chunks: 1},
	}, s.Batches(300, 64))

	assert.Equal(t, []Batch{{Offset: 0, Length: 300, First: 0, Chunks: 6}}, s.Batches(300, 1<<20))
	assert.Empty(t, s.Batches(0, 64))
}

// encryptFile encrypts plain in batches of at most limit bytes, in random
// order, and returns the ciphertext and the file MAC.
func encryptFile(t *testing.T, fk *FileKey, s Schedule, plain []byte, limit int64) ([]byte, []byte) {
	t.Helper()

	batches := s.Batches(int64(len(plain)), limit)
	ct := make([]byte, len(plain))
	acc := NewMACAccumulator()

	for _, i := range rand.Perm(len(batches)) {
		b := batches[i]

		out, tags, err := EncryptBatch(plain[b.Offset:b.Offset+b.Length], fk, b, s)
		require.NoError(t, err)
		require.Len(t, tags, b.Chunks)

		copy(ct[b.Offset:], out)

		for j, tag := range tags {
			require.NoError(t, acc.Add(b.First+j, tag))
		}
	}

	mac, err := acc.Condensed(fk, s.Count(int64(len(plain))))
	require.NoError(t, err)

	return ct, mac
}

func TestChunk_RoundTripAnyOrder(t *testing.T) {
	fk := testFileKey(t)
	s := Schedule{Unit: testMACUnit}

	plain := make([]byte, 20*testMACUnit+13)
	for i := range plain {
		plain[i] = byte(i * 31)
	}

	ct, mac := encryptFile(t, fk, s, plain, 64)
	copy(fk.MetaMAC[:], mac)

	// Decrypt with a different batching than the one used to encrypt.
	batches := s.Batches(int64(len(plain)), 1000)
	require.Less(t, len(batches), s.Count(int64(len(plain))))

	out := make([]byte, len(plain))
	dec := NewMACAccumulator()

	for _, i := range rand.Perm(len(batches)) {
		b := batches[i]

		got, tags, err := DecryptBatch(ct[b.Offset:b.Offset+b.Length], fk, b, s)
		require.NoError(t, err)

		copy(out[b.Offset:], got)

		for j, tag := range tags {
			require.NoError(t, dec.Add(b.First+j, tag))
		}
	}

	require.NoError(t, dec.Verify(fk, s.Count(int64(len(plain)))))
	assert.Equal(t, plain, out)
}

func TestChunk_MACIndependentOfBatching(t *testing.T) {
	fk := testFileKey(t)
	s := Schedule{Unit: testMACUnit}
	plain := bytes.Repeat([]byte("batching"), 97)

	ct1, mac1 := encryptFile(t, fk, s, plain, 16)
	ct2, mac2 := encryptFile(t, fk, s, plain, 4096)

	assert.Equal(t, ct1, ct2)
	assert.Equal(t, mac1, mac2)
}

func TestChunk_SingleByteTamper(t *testing.T) {
	fk := testFileKey(t)
	s := Schedule{Unit: testMACUnit}
	plain := bytes.Repeat([]byte("0123456789abcdef"), 4)

	ct, tag, err := EncryptChunk(plain, fk, 3, s)
	require.NoError(t, err)

	for pos := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[pos] ^= 0x01

		got, _, err := DecryptChunk(tampered, fk, 3, s, tag)
		require.ErrorIs(t, err, ErrIntegrity, "byte %d", pos)
		assert.Nil(t, got)
	}
}

func TestChunk_WrongIndexFailsTag(t *testing.T) {
	fk := testFileKey(t)
	s := Schedule{Unit: testMACUnit}
	plain := bytes.Repeat([]byte{0xAB}, testMACUnit)

	ct, tag, err := EncryptChunk(plain, fk, 0, s)
	require.NoError(t, err)

	_, _, err = DecryptChunk(ct, fk, 1, s, tag)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestChunk_InvalidInput(t *testing.T) {
	fk := testFileKey(t)
	s := Schedule{Unit: testMACUnit}

	_, _, err := EncryptChunk(nil, fk, 0, s)
	assert.ErrorIs(t, err, ErrCrypto)

	_, _, err = EncryptChunk([]byte("x"), fk, 0, Schedule{Unit: 15})
	assert.ErrorIs(t, err, ErrCrypto)

	_, _, err = EncryptChunk(make([]byte, testMACUnit+1), fk, 0, s)
	assert.ErrorIs(t, err, ErrCrypto)

	_, _, err = EncryptBatch(make([]byte, 10), fk, Batch{Length: 11, Chunks: 1}, s)
	assert.ErrorIs(t, err, ErrCrypto)

	_, _, err = EncryptBatch(make([]byte, 40), fk, Batch{Length: 40, Chunks: 1}, s)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestMACAccumulator_MissingChunk(t *testing.T) {
	fk := testFileKey(t)
	acc := NewMACAccumulator()
	require.NoError(t, acc.Add(0, make([]byte, BlockSize)))
	require.NoError(t, acc.Add(2, make([]byte, BlockSize)))

	_, err := acc.Condensed(fk, 3)
	assert.ErrorIs(t, err, ErrCrypto)
	assert.True(t, acc.Has(2))
	assert.False(t, acc.Has(1))
	assert.Equal(t, 2, acc.Len())
}

func TestMACAccumulator_OrderMatters(t *testing.T) {
	fk := testFileKey(t)
	t0 := bytes.Repeat([]byte{1}, BlockSize)
	t1 := bytes.Repeat([]byte{2}, BlockSize)

	a := NewMACAccumulator()
	require.NoError(t, a.Add(0, t0))
	require.NoError(t, a.Add(1, t1))

	b := NewMACAccumulator()
	require.NoError(t, b.Add(0, t1))
	require.NoError(t, b.Add(1, t0))

	ma, err := a.Condensed(fk, 2)
	require.NoError(t, err)
	mb, err := b.Condensed(fk, 2)
	require.NoError(t, err)
	assert.NotEqual(t, ma, mb)
}

func TestRSA_ShareKeyRoundTrip(t *testing.T) {
	priv, err := GenerateRSAKey(1024)
	require.NoError(t, err)

	pubDER, err := MarshalPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubDER)
	require.NoError(t, err)

	shareKey, err := RandomKey()
	require.NoError(t, err)

	ct, err := EncryptForPublicKey(pub, shareKey)
	require.NoError(t, err)

	got, err := DecryptWithPrivateKey(priv, ct)
	require.NoError(t, err)
	assert.Equal(t, shareKey, got)

	master, err := RandomKey()
	require.NoError(t, err)

	wrapped, err := WrapPrivateKey(master, priv)
	require.NoError(t, err)

	back, err := UnwrapPrivateKey(master, wrapped)
	require.NoError(t, err)
	assert.True(t, priv.Equal(back))
}

func TestB64_AcceptsBothAlphabets(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x00}

	got, err := B64Decode("+//+AA==")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = B64Decode(B64Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = B64Decode("!!!")
	assert.ErrorIs(t, err, ErrCrypto)
}
