// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail to parse or verify.
var ErrInvalidToken = errors.New("invalid token")

// Claims is what an identity token carries.
type Claims struct {
	UserID   uuid.UUID
	Username string
}

// Tokens signs and verifies ed25519 identity tokens.
type Tokens struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	// expire is the token lifetime; 0 means tokens carry no exp claim.
	expire time.Duration
}

// ParseExpire reads a TOKEN_EXPIRE_TIME value. "never", "0" and "" mean no expiry.
func ParseExpire(s string) (time.Duration, error) {
	if s == "never" || s == "0" || s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// NewTokens generates a fresh ed25519 key pair at runtime.
func NewTokens(expire time.Duration) (*Tokens, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Tokens{privateKey: priv, publicKey: pub, expire: expire}, nil
}

// LoadTokens reads the ed25519 private/public keys from file.
func LoadTokens(privatePath, publicPath string, expire time.Duration) (*Tokens, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected ed25519 key sizes %d/%d", len(privateKeyData), len(publicKeyData))
	}
	return &Tokens{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		expire:     expire,
	}, nil
}

// CreateJWT signs a token with "sub" = userID and "name" = username.
func (t *Tokens) CreateJWT(userID uuid.UUID, username string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
	}
	if username != "" {
		claims["name"] = username
	}
	if t.expire > 0 {
		claims["exp"] = time.Now().Add(t.expire).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(t.privateKey)
}

// AuthenticateJWT verifies a token and returns its claims.
func (t *Tokens) AuthenticateJWT(tokenString string) (Claims, error) {
	tok, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.publicKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: sub is not a uuid", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	return Claims{UserID: userID, Username: name}, nil
}
