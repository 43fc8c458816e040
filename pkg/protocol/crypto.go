package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Algorithm identifies one of the two interchangeable encryption modes the
// protocol supports.
type Algorithm string

const (
	// AlgorithmECB is AES-128 in ECB mode with PKCS#7 padding. It is the
	// algorithm every session starts with.
	AlgorithmECB Algorithm = "ecb"

	// AlgorithmAEAD is AES-128-GCM with the protocol's fixed nonce and
	// additional authenticated data. Newer firmware only accepts binds in
	// this mode.
	AlgorithmAEAD Algorithm = "gcm"
)

// Protocol constants dictated by the GREE device firmware. These are not
// secrets: they are published interoperability constants and any deviation
// breaks communication with the device. The fixed GCM nonce and AAD are a
// known weakness of the protocol itself.
const (
	genericKeyECB  = "a3K8Bx%2r8Y7#xDh"
	genericKeyAEAD = "{yxAHAY_Lm6pbC/<"
	gcmAAD         = "qualcomm-test"
	gcmNonceHex    = "5440784449675a516c5e6313"
	gcmTagLength   = 16
)

var gcmNonce = func() []byte {
	nonce, err := hex.DecodeString(gcmNonceHex)
	if err != nil {
		panic(err)
	}
	return nonce
}()

// CryptoError reports a failure to encrypt or decrypt a payload. Inbound
// decryption failures are expected during cipher negotiation and must be
// logged and dropped, never treated as fatal.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// EncryptedMessage is the result of encrypting an inner document. Tag is
// empty for ECB mode.
type EncryptedMessage struct {
	Pack      string
	Tag       string
	Algorithm Algorithm
	Key       string
}

// packCipher executes one concrete algorithm. Implementations hold their
// own key because each algorithm has its own protocol-mandated generic key.
type packCipher interface {
	algorithm() Algorithm
	key() string
	setKey(key string)
	encrypt(plaintext []byte) (pack, tag string, err error)
	decrypt(pack, tag string) ([]byte, error)
}

// Suite encrypts and decrypts inner JSON documents under the currently
// active algorithm. The suite only executes whichever algorithm it is told
// to use; negotiation (UseAEAD) and session key application (ApplyKey) are
// driven by the session state machine. Safe for concurrent use.
type Suite struct {
	mu     sync.Mutex
	ecb    *ecbCipher
	gcm    *gcmCipher
	active packCipher
}

// NewSuite creates a cipher suite in ECB mode with the generic keys.
func NewSuite() *Suite {
	s := &Suite{
		ecb: &ecbCipher{k: genericKeyECB},
		gcm: &gcmCipher{k: genericKeyAEAD},
	}
	s.active = s.ecb
	return s
}

// Algorithm returns the currently active algorithm.
func (s *Suite) Algorithm() Algorithm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.algorithm()
}

// Key returns the key the active algorithm is using.
func (s *Suite) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.key()
}

// UseAEAD switches the suite to the AEAD algorithm. Called once by the
// session state machine when the first bind attempt times out.
func (s *Suite) UseAEAD() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.gcm
}

// ApplyKey replaces the active algorithm's key with the device-issued
// session key from a bindok payload.
func (s *Suite) ApplyKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active.setKey(key)
}

// Encrypt serializes the document to JSON and encrypts it under the active
// algorithm.
func (s *Suite) Encrypt(doc interface{}) (*EncryptedMessage, error) {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: err}
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	pack, tag, err := active.encrypt(plaintext)
	if err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: err}
	}

	return &EncryptedMessage{
		Pack:      pack,
		Tag:       tag,
		Algorithm: active.algorithm(),
		Key:       active.key(),
	}, nil
}

// Decrypt decrypts an envelope's pack under the active algorithm and
// returns the plaintext document. Key replacement on bindok is the
// caller's responsibility.
func (s *Suite) Decrypt(env *Envelope) ([]byte, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	plaintext, err := active.decrypt(env.Pack, env.Tag)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: err}
	}
	return plaintext, nil
}

// ecbCipher implements AES-128-ECB with PKCS#7 padding. ECB is mandated by
// the device firmware; the traffic is local-network HVAC commands.
type ecbCipher struct {
	k string
}

func (c *ecbCipher) algorithm() Algorithm { return AlgorithmECB }
func (c *ecbCipher) key() string          { return c.k }
func (c *ecbCipher) setKey(key string)    { c.k = key }

func (c *ecbCipher) encrypt(plaintext []byte) (string, string, error) {
	block, err := aes.NewCipher([]byte(c.k))
	if err != nil {
		return "", "", err
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:], padded[i:])
	}

	return base64.StdEncoding.EncodeToString(out), "", nil
}

func (c *ecbCipher) decrypt(pack, _ string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher([]byte(c.k))
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += block.BlockSize() {
		block.Decrypt(out[i:], ciphertext[i:])
	}

	return pkcs7Unpad(out, block.BlockSize())
}

// gcmCipher implements AES-128-GCM with the protocol's fixed nonce and AAD.
// The ciphertext and the 16-byte tag travel as separate base64 fields.
type gcmCipher struct {
	k string
}

func (c *gcmCipher) algorithm() Algorithm { return AlgorithmAEAD }
func (c *gcmCipher) key() string          { return c.k }
func (c *gcmCipher) setKey(key string)    { c.k = key }

func (c *gcmCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher([]byte(c.k))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *gcmCipher) encrypt(plaintext []byte) (string, string, error) {
	aead, err := c.aead()
	if err != nil {
		return "", "", err
	}

	sealed := aead.Seal(nil, gcmNonce, plaintext, []byte(gcmAAD))
	split := len(sealed) - gcmTagLength
	pack := base64.StdEncoding.EncodeToString(sealed[:split])
	tag := base64.StdEncoding.EncodeToString(sealed[split:])
	return pack, tag, nil
}

func (c *gcmCipher) decrypt(pack, tag string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, err
	}
	if tag != "" {
		tagBytes, err := base64.StdEncoding.DecodeString(tag)
		if err != nil {
			return nil, err
		}
		ciphertext = append(ciphertext, tagBytes...)
	}

	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, gcmNonce, ciphertext, []byte(gcmAAD))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
