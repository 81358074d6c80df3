package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	authdomain "clubnotify/internal/auth/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid scheduler key")
)

// AuthUsecase validates the credentials presented to the admin API. Tokens
// are issued by the club platform with the shared HS256 secret.
type AuthUsecase interface {
	ValidateToken(tokenString string) (*authdomain.Principal, error)
	// IssueToken signs a token; used by operational tooling and tests.
	IssueToken(p authdomain.Principal, ttl time.Duration) (string, error)
	// VerifySchedulerKey checks the key cron callers send.
	VerifySchedulerKey(key string) error
}

type authUsecase struct {
	secret           []byte
	schedulerKeyHash []byte
	clock            func() time.Time
}

func NewAuthUsecase(jwtSecret, schedulerKeyHash string) AuthUsecase {
	return &authUsecase{
		secret:           []byte(jwtSecret),
		schedulerKeyHash: []byte(schedulerKeyHash),
		clock:            time.Now,
	}
}

func (u *authUsecase) IssueToken(p authdomain.Principal, ttl time.Duration) (string, error) {
	now := u.clock()
	claims := jwt.MapClaims{
		"user_id": p.UserID,
		"role":    p.Role,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}
	if p.ClubID != "" {
		claims["club_id"] = p.ClubID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(u.secret)
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return u.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(u.clock))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = authdomain.RoleMember
	}
	clubID, _ := claims["club_id"].(string)
	return &authdomain.Principal{UserID: userID, Role: role, ClubID: clubID}, nil
}

func (u *authUsecase) VerifySchedulerKey(key string) error {
	if len(u.schedulerKeyHash) == 0 || key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword(u.schedulerKeyHash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// HashSchedulerKey produces the value stored in SCHEDULER_KEY_HASH.
func HashSchedulerKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
