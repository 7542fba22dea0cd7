// Package auth issues and validates the HMAC tokens presented by the exam UI and by
// proctor consoles.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes examinee vs proctor tokens.
type TokenType string

const (
	TokenTypeExaminee TokenType = "examinee"
	TokenTypeProctor  TokenType = "proctor"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	// ScheduleID restricts an examinee token to one schedule. Empty means any.
	ScheduleID string `json:"schedule_id,omitempty"`
}

// Allows reports whether the claims may open scheduleID.
func (c *Claims) Allows(scheduleID uuid.UUID) bool {
	return c.ScheduleID == "" || c.ScheduleID == scheduleID.String()
}

// Verifier signs and validates tokens with a shared secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier. ttl applies to tokens it issues.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueExaminee signs an examinee token, optionally bound to a schedule.
func (v *Verifier) IssueExaminee(examineeID int, scheduleID *uuid.UUID) (string, error) {
	claims := v.claims(TokenTypeExaminee, examineeID)
	if scheduleID != nil {
		claims.ScheduleID = scheduleID.String()
	}
	return v.sign(claims)
}

// IssueProctor signs a proctor token.
func (v *Verifier) IssueProctor(proctorID int) (string, error) {
	return v.sign(v.claims(TokenTypeProctor, proctorID))
}

// Validate parses and validates a JWT token string.
func (v *Verifier) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

func (v *Verifier) claims(kind TokenType, userID int) Claims {
	now := v.now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
		TokenType: kind,
		UserID:    userID,
	}
}

func (v *Verifier) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
