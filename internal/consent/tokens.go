package consent

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired and ErrTokenInvalid classify parse failures for the
// verification verdict. Anything that is not provably just expiry counts as
// an invalid signature.
var (
	ErrTokenExpired = errors.New("consent: token expired")
	ErrTokenInvalid = errors.New("consent: token invalid")
)

// Signer mints and parses EdDSA consent tokens with the service keypair.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner builds a signer from the service's ed25519 private key.
func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{
		private: key,
		public:  key.Public().(ed25519.PublicKey),
	}
}

// Mint signs the claims into a compact JWT.
func (s *Signer) Mint(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("consent: sign token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and standard claims. Expired tokens return
// ErrTokenExpired with the decoded claims so callers can report which grant
// lapsed; every other failure returns ErrTokenInvalid.
func (s *Signer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.public, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
