package pairing

import (
	"testing"
	"time"
)

func TestPairAndValidate(t *testing.T) {
	svc := NewService("test-secret", "4321")

	resp, err := svc.Pair(PairRequest{DeviceID: "watch", PIN: "4321"})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if resp.LinkToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("expected link token, got %+v", resp)
	}
	if resp.ExpiresIn != int64(linkTokenTTL.Seconds()) {
		t.Fatalf("unexpected expires_in: %d", resp.ExpiresIn)
	}

	deviceID, err := svc.ValidateLinkToken(resp.LinkToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if deviceID != "watch" {
		t.Fatalf("unexpected device_id: %s", deviceID)
	}
}

func TestPairMissingFields(t *testing.T) {
	svc := NewService("test-secret", "4321")

	if _, err := svc.Pair(PairRequest{DeviceID: "", PIN: "4321"}); err == nil {
		t.Fatalf("expected error for missing device_id")
	}
	if _, err := svc.Pair(PairRequest{DeviceID: "watch", PIN: ""}); err == nil {
		t.Fatalf("expected error for missing pin")
	}
}

func TestPairWrongPIN(t *testing.T) {
	svc := NewService("test-secret", "4321")

	if _, err := svc.Pair(PairRequest{DeviceID: "watch", PIN: "9999"}); err == nil {
		t.Fatalf("expected invalid pairing pin")
	}
}

func TestValidateLinkTokenRejectsForeignSecret(t *testing.T) {
	other := NewService("other-secret", "4321")
	resp, err := other.Pair(PairRequest{DeviceID: "watch", PIN: "4321"})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}

	svc := NewService("test-secret", "4321")
	if _, err := svc.ValidateLinkToken(resp.LinkToken); err == nil {
		t.Fatalf("expected foreign token rejected")
	}
	if _, err := svc.ValidateLinkToken("not-a-token"); err == nil {
		t.Fatalf("expected garbage token rejected")
	}
}

func TestValidateLinkTokenExpired(t *testing.T) {
	svc := NewService("test-secret", "4321")

	token, err := svc.signToken("watch", -time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := svc.ValidateLinkToken(token); err == nil {
		t.Fatalf("expected expired token rejected")
	}
}
