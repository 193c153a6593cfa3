// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/matchmaker/internal/models"
)

// privateKey and publicKey are used for signing and verifying JWT tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long issued tokens live (0 => never expire).
	tokenTTL time.Duration
)

// Session is the identity carried by a verified token.
type Session struct {
	PlayerID string
	Role     models.Role
}

// parseTokenExpireTime interprets TOKEN_EXPIRE_TIME ("never", "0", "" or a Go duration).
func parseTokenExpireTime(s string) (time.Duration, error) {
	if s == "never" || s == "0" || s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Init generates a fresh ed25519 key pair at runtime. Tokens signed elsewhere will not
// verify against it, so this is for development and tests.
func Init(expire string) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	tokenTTL, err = parseTokenExpireTime(expire)
	return err
}

// InitFromPath reads ed25519 private/public keys from file and sets the token expiration.
func InitFromPath(privatePath, publicPath, expire string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	tokenTTL, err = parseTokenExpireTime(expire)
	return err
}

// CreateJWT creates a signed JWT token with "sub" = playerID and the player's role.
func CreateJWT(playerID string, role models.Role) (string, error) {
	claims := jwt.MapClaims{
		"sub":  playerID,
		"role": string(role),
	}
	if tokenTTL > 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a JWT string and returns the session it carries.
// A token without a role claim is treated as a plain user.
func AuthenticateJWT(tokenString string) (*Session, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid jwt claims")
	}
	playerID, ok := claims["sub"].(string)
	if !ok || playerID == "" {
		return nil, errors.New("missing sub in jwt")
	}

	s := &Session{PlayerID: playerID, Role: models.RoleUser}
	if role, ok := claims["role"].(string); ok && role != "" {
		s.Role = models.Role(role)
	}
	return s, nil
}
