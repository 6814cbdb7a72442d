// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-listsync/internal/types"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"

	DefaultExp = time.Hour * 24
)

// Verifier maps a bearer token to a user id. Failures wrap
// types.ErrUnauthenticated.
type Verifier interface {
	Verify(token string) (int, error)
}

type JWT struct {
	signingKey []byte
}

func NewJWT(signingKey []byte) *JWT {
	return &JWT{signingKey: signingKey}
}

// Issue signs a token for userId. The account service owns issuance in
// production; this is used by the tail client and tests.
func (j *JWT) Issue(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(j.signingKey)
}

func (j *JWT) Verify(tokenString string) (int, error) {
	if tokenString == "" {
		return 0, fmt.Errorf("%w: missing token", types.ErrUnauthenticated)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: parse token: %v", types.ErrUnauthenticated, err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("%w: invalid token", types.ErrUnauthenticated)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid token claims", types.ErrUnauthenticated)
	}

	if _, ok := claims[expClaim]; !ok {
		return 0, fmt.Errorf("%w: missing exp claim", types.ErrUnauthenticated)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return 0, fmt.Errorf("%w: invalid user id claim", types.ErrUnauthenticated)
	}

	return int(userId), nil
}

// BearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter for browser websocket handshakes.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	return r.URL.Query().Get("token")
}
