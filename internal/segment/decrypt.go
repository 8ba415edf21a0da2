package segment

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	apperrors "github.com/streamvault/backend/internal/errors"
)

// EncryptionContext is the stream-wide decryption state: the AES-128 key
// and, when the manifest declares one, a fixed IV. With no declared IV each
// segment derives its own from its index.
type EncryptionContext struct {
	Key []byte
	IV  []byte
}

// IVFor returns the IV to use for a segment. The index-derived form is a
// manifest convention (big-endian 16-byte encoding of the sequence number)
// and must match what encoders produce for AES-128 HLS streams.
func (e *EncryptionContext) IVFor(index int) []byte {
	if len(e.IV) == aes.BlockSize {
		return e.IV
	}
	return SegmentIV(index)
}

// SegmentIV encodes a segment index as a 16-byte big-endian IV.
func SegmentIV(index int) []byte {
	iv := make([]byte, aes.BlockSize)
	for i := len(iv) - 1; i >= 0 && index > 0; i-- {
		iv[i] = byte(index & 0xff)
		index >>= 8
	}
	return iv
}

// ParseIV decodes the hex IV attribute of an EXT-X-KEY tag. Short values
// are left-padded to a full block.
func ParseIV(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")

	iv, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse IV: %w", err)
	}
	if len(iv) < aes.BlockSize {
		padded := make([]byte, aes.BlockSize)
		copy(padded[aes.BlockSize-len(iv):], iv)
		iv = padded
	}
	return iv[:aes.BlockSize], nil
}

// Decryptor fetches stream keys and decrypts segment payloads. Keys are
// cached by URI; one stream fetches its key once regardless of pool size.
type Decryptor struct {
	mu       sync.RWMutex
	keyCache map[string][]byte
	client   *http.Client
}

// NewDecryptor creates a decryptor using the given HTTP client.
func NewDecryptor(client *http.Client) *Decryptor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Decryptor{
		keyCache: make(map[string][]byte),
		client:   client,
	}
}

// FetchKey retrieves the 16-byte AES key from the key URI.
func (d *Decryptor) FetchKey(ctx context.Context, keyURI string) ([]byte, error) {
	d.mu.RLock()
	if key, ok := d.keyCache[keyURI]; ok {
		d.mu.RUnlock()
		return key, nil
	}
	d.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURI, nil)
	if err != nil {
		return nil, apperrors.ManifestError("invalid key URI").WithCause(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperrors.ManifestError("key fetch failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ManifestError(fmt.Sprintf("key fetch returned HTTP %d", resp.StatusCode))
	}

	key, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return nil, apperrors.ManifestError("key read failed").WithCause(err)
	}
	if len(key) != 16 {
		return nil, apperrors.ManifestError(fmt.Sprintf("key is %d bytes, expected 16", len(key)))
	}

	d.mu.Lock()
	d.keyCache[keyURI] = key
	d.mu.Unlock()
	return key, nil
}

// Decrypt applies AES-128-CBC and strips PKCS#7 padding when present. Data
// without standard padding passes through untouched; some encoders omit it.
func Decrypt(data []byte, enc *EncryptionContext, index int) ([]byte, error) {
	if len(enc.Key) != 16 {
		return nil, fmt.Errorf("invalid key length: %d", len(enc.Key))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a block multiple", len(data))
	}

	block, err := aes.NewCipher(enc.Key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, enc.IVFor(index)).CryptBlocks(plain, data)
	return pkcs7Unpad(plain), nil
}

// pkcs7Unpad strips valid PKCS#7 padding and returns the data unchanged
// when the trailing bytes do not form valid padding. Stripping never
// consumes the whole input; a segment that is all padding bytes is far
// more likely unpadded payload than an empty segment.
func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen >= len(data) {
		return data
	}
	for i := 0; i < padLen; i++ {
		if data[len(data)-1-i] != byte(padLen) {
			return data
		}
	}
	return data[:len(data)-padLen]
}
