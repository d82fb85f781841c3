package fetch

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/sirupsen/logrus"

	"github.com/apt-tools/aptcheck/internal/models"
)

// Keyring verifies repository release signatures. A nil keyring disables
// verification; the checker logs a warning in that case, matching apt's
// [trusted=yes] escape hatch.
type Keyring struct {
	entities openpgp.EntityList
}

// LoadKeyring reads a signing key from a file. Armored keys are tried
// first, then the binary keyring format when raw is set or armor parsing
// fails.
func LoadKeyring(path string, raw bool) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &models.CheckError{Type: models.ErrSignature, Context: path, Err: err}
	}
	defer f.Close()

	var entities openpgp.EntityList
	if raw {
		entities, err = openpgp.ReadKeyRing(f)
	} else {
		entities, err = openpgp.ReadArmoredKeyRing(f)
		if err != nil {
			if _, serr := f.Seek(0, 0); serr == nil {
				entities, err = openpgp.ReadKeyRing(f)
			}
		}
	}
	if err != nil {
		return nil, &models.CheckError{Type: models.ErrSignature, Context: path, Err: fmt.Errorf("failed to read key: %w", err)}
	}
	if len(entities) == 0 {
		return nil, &models.CheckError{Type: models.ErrSignature, Context: path, Err: fmt.Errorf("no keys found in key file")}
	}
	return &Keyring{entities: entities}, nil
}

// VerifyInRelease checks the cleartext signature of an InRelease document
// and returns the signed payload. With a nil keyring the armor is stripped
// without verification.
func (k *Keyring) VerifyInRelease(data []byte) ([]byte, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		// Unsigned Release content served as InRelease; some repositories
		// do this deliberately.
		if k != nil {
			return nil, &models.CheckError{Type: models.ErrSignature, Err: fmt.Errorf("InRelease carries no signature")}
		}
		return data, nil
	}
	if k == nil {
		logrus.Warn("InRelease signature not verified: no key configured")
		return block.Plaintext, nil
	}

	_, err := openpgp.CheckDetachedSignature(k.entities, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		return nil, &models.CheckError{Type: models.ErrSignature, Err: fmt.Errorf("InRelease signature verification failed: %w", err)}
	}
	logrus.Debug("InRelease signature verified")
	return block.Plaintext, nil
}

// VerifyDetached checks a Release file against its Release.gpg signature
func (k *Keyring) VerifyDetached(data, sig []byte) error {
	if k == nil {
		logrus.Warn("Release signature not verified: no key configured")
		return nil
	}
	_, err := openpgp.CheckArmoredDetachedSignature(k.entities, bytes.NewReader(data), bytes.NewReader(sig), nil)
	if err != nil {
		// Release.gpg may be a binary signature.
		_, err = openpgp.CheckDetachedSignature(k.entities, bytes.NewReader(data), bytes.NewReader(sig), nil)
	}
	if err != nil {
		return &models.CheckError{Type: models.ErrSignature, Err: fmt.Errorf("Release signature verification failed: %w", err)}
	}
	logrus.Debug("Release signature verified")
	return nil
}
