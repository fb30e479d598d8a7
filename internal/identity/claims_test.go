package identity

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "claims-test-secret"

func sign(t *testing.T, claims *Claims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestFromTokenVerified(t *testing.T) {
	token := sign(t, &Claims{TokenType: TokenTypeStudent, UserID: 42, Username: "jdoe"}, testSecret)

	claims, err := FromToken(token, testSecret)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "jdoe" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestFromTokenRejectsBadSignature(t *testing.T) {
	token := sign(t, &Claims{TokenType: TokenTypeStudent, UserID: 42}, "other-secret")

	if _, err := FromToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestFromTokenUnverifiedWhenNoSecret(t *testing.T) {
	token := sign(t, &Claims{TokenType: TokenTypeStudent, UserID: 7}, "whatever")

	claims, err := FromToken(token, "")
	if err != nil {
		t.Fatalf("FromToken without secret: %v", err)
	}
	if claims.UserID != 7 {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestFromTokenRejectsNonStudent(t *testing.T) {
	token := sign(t, &Claims{TokenType: TokenTypeAdmin, UserID: 1}, testSecret)

	if _, err := FromToken(token, testSecret); !errors.Is(err, ErrNotStudent) {
		t.Fatalf("error = %v, want ErrNotStudent", err)
	}
}

func TestFromTokenRejectsMissingPieces(t *testing.T) {
	if _, err := FromToken("", testSecret); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("empty token error = %v, want ErrTokenRequired", err)
	}

	token := sign(t, &Claims{TokenType: TokenTypeStudent}, testSecret)
	if _, err := FromToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("missing user_id error = %v, want ErrTokenInvalid", err)
	}
}

func TestShuffleSeedShape(t *testing.T) {
	examID := uuid.MustParse("0e6c8f40-17d8-4b3f-9b55-2f2c0a9a3f01")
	c := &Claims{UserID: 42, Username: "jdoe"}

	want := "student:42:jdoe:exam:0e6c8f40-17d8-4b3f-9b55-2f2c0a9a3f01"
	if got := c.ShuffleSeed(examID); got != want {
		t.Fatalf("seed = %q, want %q", got, want)
	}

	// Different students on the same exam must never share a seed.
	other := &Claims{UserID: 43, Username: "jdoe"}
	if other.ShuffleSeed(examID) == c.ShuffleSeed(examID) {
		t.Fatal("seeds collide across students")
	}
}
