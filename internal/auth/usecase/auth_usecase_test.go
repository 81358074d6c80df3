package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	authdomain "clubnotify/internal/auth/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	uc := NewAuthUsecase("secret", "")
	token, err := uc.IssueToken(authdomain.Principal{UserID: "admin-1", Role: authdomain.RoleAdmin, ClubID: "c1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p, err := uc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !p.IsAdmin() || p.UserID != "admin-1" || p.ClubID != "c1" {
		t.Errorf("principal = %+v", p)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	uc := NewAuthUsecase("secret", "")
	other := NewAuthUsecase("other-secret", "")
	foreign, _ := other.IssueToken(authdomain.Principal{UserID: "u1"}, time.Hour)
	expired, _ := uc.IssueToken(authdomain.Principal{UserID: "u1"}, -time.Minute)
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}).SignedString([]byte("secret"))

	for name, tok := range map[string]string{
		"garbage":       "not-a-jwt",
		"wrong secret":  foreign,
		"expired":       expired,
		"missing claim": noUser,
	} {
		if _, err := uc.ValidateToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestSchedulerKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("cron-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	uc := NewAuthUsecase("secret", string(hash))
	if err := uc.VerifySchedulerKey("cron-key"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := uc.VerifySchedulerKey("guess"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong key: %v", err)
	}
	if err := NewAuthUsecase("secret", "").VerifySchedulerKey("cron-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("key accepted with no hash configured: %v", err)
	}
}
