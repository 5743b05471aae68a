package securepart

import "github.com/kestrelmail/mailcore/internal/mailerrors"

// VerifyResult carries whatever structural information a Verifier could
// establish without checking trust; Verified is only meaningful when Err is nil.
type VerifyResult struct {
	Verified bool
	Detail   string
}

// DecryptResult carries the plaintext a Decryptor produced, when it could.
type DecryptResult struct {
	Plaintext []byte
}

// Verifier checks a signed secure part's signature. The core ships only a
// default implementation that declines the operation; a real implementation
// requires sender certificate/key material the core does not manage.
type Verifier interface {
	Verify(p Part, content []byte) (VerifyResult, error)
}

// Decryptor decrypts an encrypted secure part. Same caveat as Verifier:
// requires private key material the core does not manage.
type Decryptor interface {
	Decrypt(p Part, content []byte) (DecryptResult, error)
}

// DefaultVerifier reports the structural classification already computed by
// Detect but always declines to perform an actual verification.
type DefaultVerifier struct{}

func (DefaultVerifier) Verify(p Part, content []byte) (VerifyResult, error) {
	return VerifyResult{Verified: false, Detail: p.DetectionDetail}, mailerrors.ErrNotImplemented
}

// DefaultDecryptor always declines; no private key material is available
// in-process.
type DefaultDecryptor struct{}

func (DefaultDecryptor) Decrypt(p Part, content []byte) (DecryptResult, error) {
	return DecryptResult{}, mailerrors.ErrNotImplemented
}
