package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

var ErrInvalidToken = errors.New("invalid or expired session token")

// Claims carried by a session token. Subject is the user id.
type Claims struct {
	Role      appointment.Role `json:"role"`
	NHSNumber string           `json:"nhs,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for u and its expiry.
func (i *Issuer) Issue(u *appointment.User) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)

	nhs := ""
	if u.NHSNumber != nil {
		nhs = *u.NHSNumber
	}

	claims := Claims{
		Role:      u.Role,
		NHSNumber: nhs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies raw and returns the actor it was issued to.
func (i *Issuer) Parse(raw string) (appointment.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return appointment.Actor{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if claims.Role != appointment.RolePatient && claims.Role != appointment.RoleAdmin {
		return appointment.Actor{}, fmt.Errorf("%w: bad role", ErrInvalidToken)
	}
	return appointment.Actor{UserID: id, Role: claims.Role}, nil
}
