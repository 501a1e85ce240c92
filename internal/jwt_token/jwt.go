package jwttoken

import (
	"errors"
	"sync"
	"time"

	dErrors "kycflow/pkg/domain-errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the claims carried by a device upload token.
type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// JWTService signs and validates device tokens with a shared HS256 key.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

func (s *JWTService) GenerateDeviceToken(deviceID string, expiresIn time.Duration) (string, error) {
	if deviceID == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "device id is required")
	}
	now := s.now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.DeviceID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// DeviceTokenSource hands out a cached device token and re-signs it shortly
// before it expires.
type DeviceTokenSource struct {
	service  *JWTService
	deviceID string
	ttl      time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (s *JWTService) TokenSource(deviceID string, ttl time.Duration) *DeviceTokenSource {
	return &DeviceTokenSource{service: s, deviceID: deviceID, ttl: ttl}
}

func (ts *DeviceTokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := ts.service.now()
	if ts.token != "" && now.Add(ts.ttl/10).Before(ts.expires) {
		return ts.token, nil
	}
	token, err := ts.service.GenerateDeviceToken(ts.deviceID, ts.ttl)
	if err != nil {
		return "", err
	}
	ts.token, ts.expires = token, now.Add(ts.ttl)
	return token, nil
}
