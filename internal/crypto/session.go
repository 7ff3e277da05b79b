// Package crypto implements the optional encrypted TCP framing of §4.10:
// an X25519 ECDH handshake followed by per-frame AES-256-GCM encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/curve25519"

	"github.com/berrym/lair-chat/internal/lcerr"
)

const nonceSize = 12

// KeyPair is an ephemeral X25519 keypair, generated fresh per connection.
// Rekeying is not supported (§9): rotating keys means re-establishing the
// connection.
type KeyPair struct {
	private [32]byte
	public  [32]byte
}

func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, lcerr.Internal(err)
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	copy(kp.public[:], pub)
	return kp, nil
}

func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.public[:])
}

// SharedSecret derives the AES-256-GCM key from this keypair's private key
// and the peer's base64-encoded public key. The derivation is SHA-256 over
// the raw X25519 shared secret (§4.10).
func (kp *KeyPair) SharedSecret(peerPublicKeyBase64 string) ([]byte, error) {
	peerPub, err := base64.StdEncoding.DecodeString(peerPublicKeyBase64)
	if err != nil || len(peerPub) != 32 {
		return nil, lcerr.New(lcerr.BadHandshake, "malformed public key")
	}
	shared, err := curve25519.X25519(kp.private[:], peerPub)
	if err != nil {
		return nil, lcerr.New(lcerr.BadHandshake, "key exchange failed")
	}
	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// Cipher wraps an AES-256-GCM AEAD bound to a connection's derived shared
// secret. Each frame is independently encrypted with a fresh random
// nonce prepended to the ciphertext; associated data is empty (§4.10).
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, lcerr.Internal(err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce||ciphertext), the exact
// wire payload carried after the length prefix (§6).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", lcerr.Internal(err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any failure (malformed base64, truncated nonce,
// authentication failure) is reported as crypto_failure, which closes the
// connection per §4.10.
func (c *Cipher) Open(wireText string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wireText)
	if err != nil || len(raw) < nonceSize {
		return nil, lcerr.New(lcerr.CryptoFailure, "malformed encrypted frame")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, lcerr.New(lcerr.CryptoFailure, "decryption failed")
	}
	return plaintext, nil
}
