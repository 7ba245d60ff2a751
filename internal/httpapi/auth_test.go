package httpapi

import (
	"strings"
	"testing"
	"time"

	"tokoledger/backend/internal/domain"
)

func TestIssueAndParseToken(t *testing.T) {
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, "123456")

	token, expiresAt, err := auth.IssueToken(domain.Actor{Username: "kasir-1", Role: roleCashier, BranchID: "main-branch"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %s", expiresAt)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "kasir-1" || actor.Role != roleCashier || actor.BranchID != "main-branch" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("issuer-secret-key-with-enough-length", time.Hour, "")
	verifier := NewAuthManager("verifier-secret-key-with-enough-len", time.Hour, "")

	token, _, err := issuer.IssueToken(domain.Actor{Username: "admin", Role: roleAdmin})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, "")
	if _, _, err := auth.IssueToken(domain.Actor{Username: "x", Role: "owner"}); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestManagerPINIsHashed(t *testing.T) {
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, "482913")

	if !strings.HasPrefix(auth.managerPIN, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", auth.managerPIN)
	}
	if !auth.ValidateManagerPIN(" 482913 ") {
		t.Fatalf("expected pin to validate")
	}
	if auth.ValidateManagerPIN("000000") {
		t.Fatalf("expected wrong pin to fail")
	}

	auth.SetManagerPIN("")
	if auth.ValidateManagerPIN("482913") {
		t.Fatalf("expected empty pin to disable validation")
	}
}
