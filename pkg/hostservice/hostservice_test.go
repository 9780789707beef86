package hostservice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallUnknownModuleFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call("BitBlt", "copyBits")
	require.ErrorIs(t, err, ErrModuleNotFound)
}

func TestCallUnknownFunctionFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call("HTTP", "delete")
	require.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestCryptoBase64RoundTrip(t *testing.T) {
	r := NewRegistry()
	encoded, err := r.Call("Crypto", "base64Encode", "hello")
	require.NoError(t, err)

	decoded, err := r.Call("Crypto", "base64Decode", encoded)
	require.NoError(t, err)
	require.Equal(t, "hello", decoded)
}

func TestAESEncryptDecryptRoundTrip(t *testing.T) {
	r := NewRegistry()
	key := "01234567890123456789012345678901" // 32 bytes
	ciphertext, err := r.Call("Crypto", "aesEncrypt", "secret message", key)
	require.NoError(t, err)

	plain, err := r.Call("Crypto", "aesDecrypt", ciphertext, key)
	require.NoError(t, err)
	require.Equal(t, "secret message", plain)
}

func TestJSONParseGenerateRoundTrip(t *testing.T) {
	r := NewRegistry()
	generated, err := r.Call("JSON", "generate", map[string]interface{}{"a": float64(1)})
	require.NoError(t, err)

	parsed, err := r.Call("JSON", "parse", generated)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"a": float64(1)}, parsed)
}

func TestRegexMatch(t *testing.T) {
	r := NewRegistry()
	ok, err := r.Call("Regex", "match", "^foo", "foobar")
	require.NoError(t, err)
	require.Equal(t, true, ok)
}

func TestGzipRoundTrip(t *testing.T) {
	r := NewRegistry()
	compressed, err := r.Call("Compression", "gzip", "hello world")
	require.NoError(t, err)

	out, err := r.Call("Compression", "gunzip", compressed)
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}
