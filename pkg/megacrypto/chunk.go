package megacrypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// MACUnit is the length of the first MAC chunk of every file.
const MACUnit = 128 << 10

// macSteps is the number of growing chunks; chunk k < macSteps spans
// (k+1) units and every later chunk spans macSteps units (1 MiB).
const macSteps = 8

// Schedule places the MAC chunk boundaries of a file. The boundaries depend
// only on the file size, so every client folds the same chunk tags into the
// file MAC no matter how it batches its requests.
type Schedule struct {
	Unit int64
}

// StandardSchedule is the schedule the service uses for all files.
var StandardSchedule = Schedule{Unit: MACUnit}

func (s Schedule) valid() error {
	if s.Unit <= 0 || s.Unit%BlockSize != 0 {
		return fmt.Errorf("%w: MAC unit %d is not a positive multiple of %d", ErrCrypto, s.Unit, BlockSize)
	}

	return nil
}

// Offset returns the plaintext byte offset of MAC chunk index.
func (s Schedule) Offset(index int) int64 {
	if index <= macSteps {
		return s.Unit * int64(index*(index+1)/2)
	}

	return s.Unit * (macSteps*(macSteps+1)/2 + int64(index-macSteps)*macSteps)
}

// Span returns the full length of MAC chunk index, ignoring the file end.
func (s Schedule) Span(index int) int64 {
	return s.Unit * int64(min(index+1, macSteps))
}

// Len returns the length of MAC chunk index in a file of size bytes.
func (s Schedule) Len(index int, size int64) int64 {
	return max(0, min(s.Span(index), size-s.Offset(index)))
}

// Count returns how many MAC chunks a file of size bytes has. An empty file
// has none.
func (s Schedule) Count(size int64) int {
	if size <= 0 || s.Unit <= 0 {
		return 0
	}

	n := 0
	for s.Offset(n) < size {
		n++
	}

	return n
}

// Batch is one storage request: a run of whole MAC chunks.
type Batch struct {
	Offset int64
	Length int64
	// First is the index of the first MAC chunk; Chunks is how many follow.
	First  int
	Chunks int
}

// Batches groups the MAC chunks of a file into requests of at most limit
// bytes. A MAC chunk longer than limit is a request on its own.
func (s Schedule) Batches(size, limit int64) []Batch {
	n := s.Count(size)
	out := make([]Batch, 0, n)

	for i := 0; i < n; {
		b := Batch{Offset: s.Offset(i), First: i}

		for i < n {
			l := s.Len(i, size)
			if b.Chunks > 0 && b.Length+l > limit {
				break
			}

			b.Length += l
			b.Chunks++
			i++
		}

		out = append(out, b)
	}

	return out
}

// EncryptChunk encrypts MAC chunk index of a file with AES-CTR and returns
// the ciphertext together with the chunk's CBC-MAC tag over the plaintext.
// The counter is derived from the chunk's byte offset, so chunks can be
// encrypted independently and in any order.
func EncryptChunk(plain []byte, key *FileKey, index int, s Schedule) ([]byte, []byte, error) {
	if err := checkChunk(plain, key, index, s); err != nil {
		return nil, nil, err
	}

	tag, err := chunkMAC(plain, key)
	if err != nil {
		return nil, nil, err
	}

	ct, err := ctr(plain, key, s.Offset(index))
	if err != nil {
		return nil, nil, err
	}

	return ct, tag, nil
}

// DecryptChunk decrypts MAC chunk index and recomputes its tag. When
// expectedTag is non-nil and does not match, ErrIntegrity is returned and
// no plaintext escapes. A nil expectedTag only computes the tag; the caller
// then verifies the whole file through a MACAccumulator.
func DecryptChunk(ct []byte, key *FileKey, index int, s Schedule, expectedTag []byte) ([]byte, []byte, error) {
	if err := checkChunk(ct, key, index, s); err != nil {
		return nil, nil, err
	}

	plain, err := ctr(ct, key, s.Offset(index))
	if err != nil {
		return nil, nil, err
	}

	tag, err := chunkMAC(plain, key)
	if err != nil {
		return nil, nil, err
	}

	if expectedTag != nil && !Equal(tag, expectedTag) {
		return nil, nil, fmt.Errorf("%w: chunk %d", ErrIntegrity, index)
	}

	return plain, tag, nil
}

// EncryptBatch encrypts the plaintext of b and returns the ciphertext and
// one tag per MAC chunk.
func EncryptBatch(plain []byte, key *FileKey, b Batch, s Schedule) ([]byte, [][]byte, error) {
	return batch(plain, b, s, func(part []byte, index int) ([]byte, []byte, error) {
		return EncryptChunk(part, key, index, s)
	})
}

// DecryptBatch decrypts the ciphertext of b and returns the plaintext and
// one tag per MAC chunk.
func DecryptBatch(ct []byte, key *FileKey, b Batch, s Schedule) ([]byte, [][]byte, error) {
	return batch(ct, b, s, func(part []byte, index int) ([]byte, []byte, error) {
		return DecryptChunk(part, key, index, s, nil)
	})
}

func batch(data []byte, b Batch, s Schedule, do func(part []byte, index int) ([]byte, []byte, error)) ([]byte, [][]byte, error) {
	if int64(len(data)) != b.Length {
		return nil, nil, fmt.Errorf("%w: batch length %d, want %d", ErrCrypto, len(data), b.Length)
	}

	out := make([]byte, 0, len(data))
	tags := make([][]byte, 0, b.Chunks)

	var pos int64

	for i := b.First; i < b.First+b.Chunks; i++ {
		end := min(pos+s.Span(i), b.Length)

		part, tag, err := do(data[pos:end], i)
		if err != nil {
			return nil, nil, err
		}

		out = append(out, part...)
		tags = append(tags, tag)
		pos = end
	}

	if pos != b.Length {
		return nil, nil, fmt.Errorf("%w: batch of %d bytes holds more than %d chunks", ErrCrypto, b.Length, b.Chunks)
	}

	return out, tags, nil
}

func checkChunk(data []byte, key *FileKey, index int, s Schedule) error {
	if err := s.valid(); err != nil {
		return err
	}

	switch {
	case key == nil:
		return fmt.Errorf("%w: nil file key", ErrCrypto)
	case index < 0:
		return fmt.Errorf("%w: negative chunk index %d", ErrCrypto, index)
	case len(data) == 0 || int64(len(data)) > s.Span(index):
		return fmt.Errorf("%w: chunk length %d outside (0, %d]", ErrCrypto, len(data), s.Span(index))
	}

	return nil
}

func ctr(data []byte, key *FileKey, offset int64) ([]byte, error) {
	block, err := newBlock(key.AES[:])
	if err != nil {
		return nil, err
	}

	iv := make([]byte, BlockSize)
	copy(iv, key.Nonce[:])
	binary.BigEndian.PutUint64(iv[8:], uint64(offset/BlockSize))

	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)

	return out, nil
}

// chunkMAC is a CBC-MAC over the zero-padded plaintext with IV nonce||nonce.
func chunkMAC(plain []byte, key *FileKey) ([]byte, error) {
	block, err := newBlock(key.AES[:])
	if err != nil {
		return nil, err
	}

	mac := make([]byte, BlockSize)
	copy(mac, key.Nonce[:])
	copy(mac[8:], key.Nonce[:])

	var buf [BlockSize]byte

	for i := 0; i < len(plain); i += BlockSize {
		buf = [BlockSize]byte{}
		copy(buf[:], plain[i:min(i+BlockSize, len(plain))])
		xorInto(mac, buf[:])
		block.Encrypt(mac, mac)
	}

	return mac, nil
}
