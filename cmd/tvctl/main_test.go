package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestSealAndOpen(t *testing.T) {
	var keyOut bytes.Buffer
	if err := run([]string{"keygen"}, &keyOut); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	key := strings.TrimSpace(keyOut.String())

	var sealed bytes.Buffer
	if err := run([]string{"seal", "-key", key, "api-secret"}, &sealed); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed.String(), "ENC[v1]:") {
		t.Fatalf("unexpected sealed value %q", sealed.String())
	}

	var opened bytes.Buffer
	if err := run([]string{"open", "-key", key, strings.TrimSpace(sealed.String())}, &opened); err != nil {
		t.Fatalf("open: %v", err)
	}
	if strings.TrimSpace(opened.String()) != "api-secret" {
		t.Fatalf("opened %q", opened.String())
	}
}

func TestSealRequiresKey(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "")
	if err := run([]string{"seal", "value"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error without a key")
	}
}

func TestToken(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"token", "-sub", "grafana", "-secret", "s3cret", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims["sub"] != "grafana" || claims["scope"] != "executions:read" {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error")
	}
	if err := run(nil, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error without a command")
	}
}
