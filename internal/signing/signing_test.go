package signing

import (
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	s := New("signing-secret", time.Minute)

	token, err := s.SignFileToken("skill-1", "scripts/run.sh")
	if err != nil {
		t.Fatalf("SignFileToken: %v", err)
	}

	skillID, filePath, err := s.VerifyFileToken(token)
	if err != nil {
		t.Fatalf("VerifyFileToken: %v", err)
	}
	if skillID != "skill-1" || filePath != "scripts/run.sh" {
		t.Fatalf("got (%q, %q)", skillID, filePath)
	}
}

func TestRejectsExpired(t *testing.T) {
	s := New("signing-secret", -time.Minute)
	token, _ := s.SignFileToken("skill-1", "SKILL.md")
	if _, _, err := s.VerifyFileToken(token); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestRejectsWrongSecret(t *testing.T) {
	token, _ := New("secret-a", time.Minute).SignFileToken("skill-1", "SKILL.md")
	if _, _, err := New("secret-b", time.Minute).VerifyFileToken(token); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestRejectsGarbage(t *testing.T) {
	if _, _, err := New("secret", time.Minute).VerifyFileToken("not.a.jwt"); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}
