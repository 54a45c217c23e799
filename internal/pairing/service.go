package pairing

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const linkTokenTTL = 12 * time.Hour

type Service struct {
	secret  []byte
	pinHash []byte
}

type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

func NewService(secret, pin string) *Service {
	hash, _ := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return &Service{
		secret:  []byte(secret),
		pinHash: hash,
	}
}

func (s *Service) Pair(req PairRequest) (TokenResponse, error) {
	if req.DeviceID == "" || req.PIN == "" {
		return TokenResponse{}, errors.New("device_id and pin required")
	}

	if err := bcrypt.CompareHashAndPassword(s.pinHash, []byte(req.PIN)); err != nil {
		return TokenResponse{}, errors.New("invalid pairing pin")
	}

	token, err := s.signToken(req.DeviceID, linkTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		LinkToken: token,
		TokenType: "Bearer",
		ExpiresIn: int64(linkTokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateLinkToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.DeviceID, nil
}

func (s *Service) signToken(deviceID string, ttl time.Duration) (string, error) {
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}
