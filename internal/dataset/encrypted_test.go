package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encryptedStore serves one pre-encrypted object from memory.
type encryptedStore struct {
	ciphertext []byte
}

func (s *encryptedStore) Download(_ context.Context, _ string, dest string) error {
	return os.WriteFile(dest, s.ciphertext, 0o644)
}

func encryptSymmetric(t *testing.T, plaintext, passphrase string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := openpgp.SymmetricallyEncrypt(&buf, []byte(passphrase), nil, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte(plaintext))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFetchEncrypted(t *testing.T) {
	const passphrase = "hunter2"
	store := &encryptedStore{ciphertext: encryptSymmetric(t, "source archive bytes", passphrase)}
	outPath := filepath.Join(t.TempDir(), "sources.tar.xz")

	err := FetchEncrypted(context.Background(), store, "sources/sources.tar.xz.gpg", passphrase, outPath, testLogger())
	require.NoError(t, err)

	plaintext, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "source archive bytes", string(plaintext))

	// The ciphertext intermediate must be cleaned up.
	_, err = os.Stat(outPath + ".gpg")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchEncryptedWrongPassphrase(t *testing.T) {
	store := &encryptedStore{ciphertext: encryptSymmetric(t, "secret", "right-passphrase")}
	outPath := filepath.Join(t.TempDir(), "sources.tar.xz")

	err := FetchEncrypted(context.Background(), store, "k", "wrong-passphrase", outPath, testLogger())
	require.Error(t, err)

	// No plaintext may be left behind.
	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchEncryptedRequiresPassphrase(t *testing.T) {
	err := FetchEncrypted(context.Background(), &encryptedStore{}, "k", "", filepath.Join(t.TempDir(), "out"), testLogger())
	assert.Error(t, err)
}
