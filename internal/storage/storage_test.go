package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBC_RoundTrip(t *testing.T) {
	for _, plain := range [][]byte{
		[]byte(`{"success":true,"filename":"a.svs"}`),
		make([]byte, 32), // exact block multiple gets a full padding block
		{},
	} {
		enc, err := EncryptCBC(plain, "s3cret")
		require.NoError(t, err)
		assert.Equal(t, FormatCBC, string(enc[:8]))
		assert.True(t, Encrypted(enc))

		out, format, err := Decrypt(enc, "s3cret")
		require.NoError(t, err)
		assert.Equal(t, FormatCBC, format)
		assert.Equal(t, plain, out)
	}
}

func TestCBC_TamperAndWrongPassword(t *testing.T) {
	plain := []byte("preview bytes that matter")
	enc, err := EncryptCBC(plain, "right")
	require.NoError(t, err)

	tampered := append([]byte(nil), enc...)
	tampered[len(tampered)-1] ^= 0xff
	_, _, err = Decrypt(tampered, "right")
	assert.ErrorContains(t, err, "hash verification failed")

	out, _, err := Decrypt(enc, "wrong")
	if err == nil {
		assert.NotEqual(t, plain, out)
	}

	_, _, err = Decrypt(enc[:60], "right")
	assert.Error(t, err)
}

func TestGCM_Decrypt(t *testing.T) {
	plain := []byte("gcm archived summary")
	salt := []byte("0123456789abcdef")
	nonce := []byte("nonce-12byte")
	block, err := aes.NewCipher(deriveKey("pw", salt))
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	data := append([]byte(FormatGCM), salt...)
	data = append(data, nonce...)
	data = gcm.Seal(data, nonce, plain, nil)

	out, format, err := Decrypt(data, "pw")
	require.NoError(t, err)
	assert.Equal(t, FormatGCM, format)
	assert.Equal(t, plain, out)

	_, _, err = Decrypt(data, "other")
	assert.Error(t, err)
}

func TestDecrypt_PlainPassesThrough(t *testing.T) {
	for _, raw := range [][]byte{[]byte(`{"a":1}`), []byte("short"), nil} {
		out, format, err := Decrypt(raw, "pw")
		require.NoError(t, err)
		assert.Equal(t, FormatPlain, format)
		assert.Equal(t, raw, out)
		assert.False(t, Encrypted(raw))
	}
}

func TestParseS3URL(t *testing.T) {
	b, k, err := ParseS3URL("s3://slides/2024/case-7/a.svs")
	require.NoError(t, err)
	assert.Equal(t, "slides", b)
	assert.Equal(t, "2024/case-7/a.svs", k)

	for _, bad := range []string{"https://x/y", "s3://", "s3://bucket", "s3://bucket/", "s3:///key", "s3://bucket/dir/"} {
		_, _, err := ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "results/j1/summary.json", ArchiveKey("results", "j1", "summary.json"))
	assert.Equal(t, "j1/preview.jpg", ArchiveKey("", "j1", "preview.jpg"))
}
