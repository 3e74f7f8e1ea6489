package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// FetchEncrypted downloads one fixed encrypted archive, decrypts it
// with the out-of-band passphrase (OpenPGP symmetric encryption), writes
// the plaintext archive to outPath, and removes the ciphertext file.
func FetchEncrypted(ctx context.Context, store ObjectStore, key, passphrase, outPath string, logger *slog.Logger) error {
	if passphrase == "" {
		return errors.New("decryption passphrase is required")
	}

	cipherPath := outPath + ".gpg"
	logger.Info("downloading encrypted archive", slog.String("key", key))
	if err := store.Download(ctx, key, cipherPath); err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}

	if err := decryptSymmetric(cipherPath, outPath, passphrase); err != nil {
		return fmt.Errorf("decrypting %s: %w", cipherPath, err)
	}

	// The ciphertext is an intermediate artifact; only the plaintext
	// archive is kept.
	if err := os.Remove(cipherPath); err != nil {
		return fmt.Errorf("removing ciphertext: %w", err)
	}

	logger.Info("encrypted archive fetched", slog.String("out", outPath))
	return nil
}

// decryptSymmetric decrypts an OpenPGP symmetrically-encrypted file.
func decryptSymmetric(cipherPath, outPath, passphrase string) error {
	in, err := os.Open(cipherPath)
	if err != nil {
		return err
	}
	defer in.Close()

	attempted := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		// A second prompt call means the passphrase was rejected.
		if attempted {
			return nil, errors.New("incorrect passphrase")
		}
		attempted = true
		return []byte(passphrase), nil
	}

	md, err := openpgp.ReadMessage(in, nil, prompt, nil)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, md.UnverifiedBody); err != nil {
		// Remove the partial plaintext so a failed decrypt is not
		// mistaken for a usable archive.
		os.Remove(outPath)
		return err
	}

	return nil
}
