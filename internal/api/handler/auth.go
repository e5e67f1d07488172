package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatgogo/messenger/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer    = "chatgogo-service"
	participantKey = "participant"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the bearer token payload. Subject is the participant id.
type Claims struct {
	Role        string   `json:"role,omitempty"`
	Departments []string `json:"departments,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 bearer tokens.
type Authenticator struct {
	Secret []byte
	TTL    time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{Secret: []byte(secret), TTL: ttl}
}

func (a *Authenticator) clock() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// IssueToken генерує JWT для учасника
func (a *Authenticator) IssueToken(p models.Participant) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("%w: empty participant id", ErrInvalidToken)
	}
	now := a.clock()
	claims := Claims{
		Role:        p.Role,
		Departments: p.Departments,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

// Validate parses a token and returns the participant it was issued to.
func (a *Authenticator) Validate(tokenString string) (models.Participant, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.clock),
	)
	if err != nil {
		return models.Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return models.Participant{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return models.Participant{
		ID:          claims.Subject,
		Role:        claims.Role,
		Departments: claims.Departments,
	}, nil
}

// RequireAuth rejects requests without a valid bearer token with 401.
// Browsers cannot set headers on a websocket handshake, so the token may
// also come as the "token" query parameter.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}
		p, err := a.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(participantKey, p)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

// currentParticipant returns the participant set by RequireAuth.
func currentParticipant(c *gin.Context) models.Participant {
	v, _ := c.Get(participantKey)
	p, _ := v.(models.Participant)
	return p
}
