package megacrypto

import (
	"fmt"
	"sync"
)

// MetaMACSize is the length of the condensed file MAC stored in the node key.
const MetaMACSize = 8

// MACAccumulator collects chunk tags as workers finish them, in any order,
// and folds them in chunk order once every chunk is present. It is safe for
// concurrent use.
type MACAccumulator struct {
	mu   sync.Mutex
	tags map[int][]byte
}

// NewMACAccumulator returns an empty accumulator.
func NewMACAccumulator() *MACAccumulator {
	return &MACAccumulator{tags: make(map[int][]byte)}
}

// Add records the tag of chunk index. Re-adding an index replaces its tag.
func (a *MACAccumulator) Add(index int, tag []byte) error {
	if len(tag) != BlockSize {
		return fmt.Errorf("%w: chunk tag length %d", ErrCrypto, len(tag))
	}

	a.mu.Lock()
	a.tags[index] = append([]byte(nil), tag...)
	a.mu.Unlock()

	return nil
}

// Has reports whether chunk index has a tag.
func (a *MACAccumulator) Has(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.tags[index]

	return ok
}

// Len returns the number of recorded tags.
func (a *MACAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.tags)
}

// Tags returns a copy of the recorded tags keyed by chunk index.
func (a *MACAccumulator) Tags() map[int][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[int][]byte, len(a.tags))
	for i, t := range a.tags {
		out[i] = append([]byte(nil), t...)
	}

	return out
}

// Condensed folds the tags of chunks 0..n-1 into the 8-byte meta-MAC. Every
// chunk must have been added; a gap is an error rather than a silently wrong
// MAC.
func (a *MACAccumulator) Condensed(key *FileKey, n int) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil file key", ErrCrypto)
	}

	block, err := newBlock(key.AES[:])
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	m := make([]byte, BlockSize)

	for i := range n {
		tag, ok := a.tags[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing tag for chunk %d of %d", ErrCrypto, i, n)
		}

		xorInto(m, tag)
		block.Encrypt(m, m)
	}

	out := make([]byte, MetaMACSize)
	for i := range 4 {
		out[i] = m[i] ^ m[4+i]
		out[4+i] = m[8+i] ^ m[12+i]
	}

	return out, nil
}

// Verify checks the folded tags of n chunks against the meta-MAC carried in
// key and returns ErrIntegrity on mismatch.
func (a *MACAccumulator) Verify(key *FileKey, n int) error {
	got, err := a.Condensed(key, n)
	if err != nil {
		return err
	}

	if !Equal(got, key.MetaMAC[:]) {
		return fmt.Errorf("%w: file MAC mismatch", ErrIntegrity)
	}

	return nil
}
