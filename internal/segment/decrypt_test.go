package segment

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"
)

// cbcEncrypt is the test-side inverse of Decrypt.
func cbcEncrypt(t *testing.T, plain, key, iv []byte, pad bool) []byte {
	t.Helper()
	if pad {
		padLen := aes.BlockSize - len(plain)%aes.BlockSize
		padded := make([]byte, len(plain)+padLen)
		copy(padded, plain)
		for i := len(plain); i < len(padded); i++ {
			padded[i] = byte(padLen)
		}
		plain = padded
	}
	if len(plain)%aes.BlockSize != 0 {
		t.Fatal("test plaintext must be block-aligned when unpadded")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out
}

func TestSegmentIV_BigEndian(t *testing.T) {
	tests := []struct {
		index int
		want  []byte
	}{
		{0, append(make([]byte, 15), 0)},
		{1, append(make([]byte, 15), 1)},
		{256, append(make([]byte, 14), 1, 0)},
		{0x01020304, append(make([]byte, 12), 1, 2, 3, 4)},
	}
	for _, tt := range tests {
		got := SegmentIV(tt.index)
		if len(got) != 16 {
			t.Fatalf("IV for %d is %d bytes", tt.index, len(got))
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("SegmentIV(%d) = %x, want %x", tt.index, got, tt.want)
		}
	}
}

func TestParseIV(t *testing.T) {
	iv, err := ParseIV("0x000102030405060708090A0B0C0D0E0F")
	if err != nil {
		t.Fatal(err)
	}
	if iv[0] != 0 || iv[15] != 0x0f {
		t.Errorf("unexpected IV bytes: %x", iv)
	}

	// Short values left-pad to a full block.
	iv, err = ParseIV("42")
	if err != nil {
		t.Fatal(err)
	}
	if len(iv) != 16 || iv[15] != 0x42 {
		t.Errorf("short IV should left-pad: %x", iv)
	}

	if iv, err := ParseIV(""); err != nil || iv != nil {
		t.Errorf("empty IV attribute should be nil, got %x (%v)", iv, err)
	}
	if _, err := ParseIV("zz"); err == nil {
		t.Error("invalid hex should fail")
	}
}

func TestDecrypt_RoundTripWithManifestIV(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := SegmentIV(7)
	plain := []byte("transport stream payload")

	enc := &EncryptionContext{Key: key, IV: iv}
	got, err := Decrypt(cbcEncrypt(t, plain, key, iv, true), enc, 999)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip failed: %q", got)
	}
}

func TestDecrypt_IVDerivedFromIndex(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := []byte("segment five contents here")

	// No manifest IV: segment 5 must decrypt with SegmentIV(5).
	enc := &EncryptionContext{Key: key}
	got, err := Decrypt(cbcEncrypt(t, plain, key, SegmentIV(5), true), enc, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("index-derived IV decrypt failed: %q", got)
	}

	// The wrong index yields garbage, not an error.
	got, err = Decrypt(cbcEncrypt(t, plain, key, SegmentIV(5), true), enc, 6)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(got, plain) {
		t.Error("decrypting with the wrong index should not reproduce the plaintext")
	}
}

func TestDecrypt_TolerantOfMissingPadding(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := SegmentIV(1)

	// Block-aligned data whose trailing byte is not valid padding. Some
	// encoders ship exactly this; the decryptor must pass it through.
	plain := bytes.Repeat([]byte{0xAA}, aes.BlockSize*3)

	enc := &EncryptionContext{Key: key, IV: iv}
	got, err := Decrypt(cbcEncrypt(t, plain, key, iv, false), enc, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("unpadded data must survive unchanged, got %d bytes want %d", len(got), len(plain))
	}
}

func TestDecrypt_SingleBlockOfPaddingBytesSurvives(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := SegmentIV(3)

	// One block whose every byte happens to equal the block size. Reading
	// it as padding would strip the entire segment; it must come back raw.
	plain := bytes.Repeat([]byte{aes.BlockSize}, aes.BlockSize)

	enc := &EncryptionContext{Key: key, IV: iv}
	got, err := Decrypt(cbcEncrypt(t, plain, key, iv, false), enc, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Fatal("decrypt emptied the segment")
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("got %x, want %x", got, plain)
	}
}

func TestDecrypt_Rejections(t *testing.T) {
	enc := &EncryptionContext{Key: []byte("short")}
	if _, err := Decrypt(make([]byte, 16), enc, 0); err == nil {
		t.Error("bad key length should fail")
	}

	enc = &EncryptionContext{Key: []byte("0123456789abcdef")}
	if _, err := Decrypt(make([]byte, 15), enc, 0); err == nil {
		t.Error("non-block-aligned ciphertext should fail")
	}
}

func TestPKCS7Unpad(t *testing.T) {
	padded := append([]byte("data"), 4, 4, 4, 4)
	if got := pkcs7Unpad(padded); !bytes.Equal(got, []byte("data")) {
		t.Errorf("valid padding not stripped: %q", got)
	}

	raw := []byte{1, 2, 3, 99}
	if got := pkcs7Unpad(raw); !bytes.Equal(got, raw) {
		t.Errorf("invalid padding must pass through: %v", got)
	}

	if got := pkcs7Unpad(nil); len(got) != 0 {
		t.Errorf("empty input: %v", got)
	}

	// Padding may never consume the whole buffer.
	allPad := bytes.Repeat([]byte{aes.BlockSize}, aes.BlockSize)
	if got := pkcs7Unpad(allPad); !bytes.Equal(got, allPad) {
		t.Errorf("all-padding block must pass through, got %d bytes", len(got))
	}
}
