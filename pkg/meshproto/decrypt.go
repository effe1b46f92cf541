package meshproto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultPSKBase64 is the well-known key of the default channel
// ("AQ==" expands to it).
const DefaultPSKBase64 = "1PG7OiApB1nwvP+rz05pAQ=="

// MaxCiphertextBytes bounds the encrypted payload a packet may carry.
const MaxCiphertextBytes = 64 * 1024

var (
	ErrNoKey          = errors.New("meshproto: no key decrypts the packet")
	ErrEmptyCipher    = errors.New("meshproto: empty ciphertext")
	ErrCipherTooLarge = errors.New("meshproto: ciphertext too large")
)

var defaultPSK = func() []byte {
	k, err := base64.StdEncoding.DecodeString(DefaultPSKBase64)
	if err != nil {
		panic(err)
	}
	return k
}()

// expandKey applies the firmware's channel-key shorthand: a single
// byte 0x01 means the default PSK, a single byte N>1 means the default
// PSK with its last byte bumped by N-1, and 16- or 32-byte keys are
// used as-is. Anything else is not a usable AES key.
func expandKey(raw []byte) ([]byte, bool) {
	switch len(raw) {
	case 1:
		n := raw[0]
		if n == 0 {
			return nil, false
		}
		k := make([]byte, len(defaultPSK))
		copy(k, defaultPSK)
		k[len(k)-1] += n - 1
		return k, true
	case 16, 32:
		return raw, true
	default:
		return nil, false
	}
}

// KeyRing holds the channel keys tried against encrypted packets, in
// the order they were added.
type KeyRing struct {
	keys [][]byte
}

// NewKeyRing builds a ring from base64-encoded channel keys. Keys that
// do not expand to a usable AES key are dropped silently, mirroring
// how devices skip channels they cannot join.
func NewKeyRing(b64keys ...string) (*KeyRing, error) {
	r := new(KeyRing)
	for _, s := range b64keys {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("meshproto: key %q: %w", s, err)
		}
		if k, ok := expandKey(raw); ok {
			r.keys = append(r.keys, k)
		}
	}
	return r, nil
}

// Len reports how many usable keys the ring holds.
func (r *KeyRing) Len() int { return len(r.keys) }

// makeNonce builds the 16-byte AES-CTR nonce: packet id as u64 LE,
// sender as u32 LE, then four zero bytes.
func makeNonce(packetID uint32, from NodeID) [16]byte {
	var nonce [16]byte
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(packetID))
	binary.LittleEndian.PutUint32(nonce[8:12], uint32(from))
	return nonce
}

// decryptWith runs AES-CTR over the ciphertext with one key.
func decryptWith(key, ciphertext []byte, nonce [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("meshproto: cipher: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCTR(block, nonce[:]).XORKeyStream(plain, ciphertext)
	return plain, nil
}

// Decrypt tries every key in the ring against the packet's encrypted
// payload and returns the first plaintext that parses as a Data
// message. AES-CTR cannot tell a wrong key from a right one, so the
// Data decode is the only verdict available.
func (r *KeyRing) Decrypt(p *MeshPacket) (*Data, error) {
	if len(p.Encrypted) == 0 {
		return nil, ErrEmptyCipher
	}
	if len(p.Encrypted) > MaxCiphertextBytes {
		return nil, ErrCipherTooLarge
	}
	nonce := makeNonce(p.ID, p.From)
	for _, key := range r.keys {
		plain, err := decryptWith(key, p.Encrypted, nonce)
		if err != nil {
			continue
		}
		d := new(Data)
		if err := d.UnmarshalBinary(plain); err != nil {
			continue
		}
		if d.Portnum == 0 && len(d.Payload) == 0 {
			continue
		}
		return d, nil
	}
	return nil, ErrNoKey
}
