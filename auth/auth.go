// Package auth 校验账号服务签发的 bearer token
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var ErrInvalidToken = errors.New("invalid token")

const userKey = "auth.user"

type User struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	GarageName string `json:"garage_name,omitempty"`
}

type claims struct {
	Email      string `json:"email"`
	GarageName string `json:"garage_name"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret    []byte
	algorithm string
}

func NewVerifier(secret, algorithm string) *Verifier {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	return &Verifier{secret: []byte(secret), algorithm: algorithm}
}

// Verify 校验签名、算法和过期时间，sub 必填
func (v *Verifier) Verify(token string) (User, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.algorithm}))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return User{ID: c.Subject, Email: c.Email, GarageName: c.GarageName}, nil
}

// Sign 为 u 签发 token，测试和本地调试用
func (v *Verifier) Sign(u User, registered jwt.RegisteredClaims) (string, error) {
	registered.Subject = u.ID
	c := claims{Email: u.Email, GarageName: u.GarageName, RegisteredClaims: registered}
	method := jwt.GetSigningMethod(v.algorithm)
	if method == nil {
		return "", fmt.Errorf("unknown signing method %q", v.algorithm)
	}
	return jwt.NewWithClaims(method, c).SignedString(v.secret)
}

// RequireUser 没有合法 bearer token 的请求直接 401
func RequireUser(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		user, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected token")
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// UserFrom 取出 RequireUser 写入的用户
func UserFrom(c *gin.Context) (User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}
