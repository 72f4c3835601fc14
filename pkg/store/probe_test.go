package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"roomchat/pkg/domain"
)

func TestProbeSucceeds(t *testing.T) {
	mr := miniredis.RunT(t)
	creds := domain.Credentials{APIKey: "k", ProjectID: "p", DatabaseURL: "redis://" + mr.Addr()}
	if err := Probe(context.Background(), creds, time.Second); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestProbeTimesOut(t *testing.T) {
	creds := domain.Credentials{APIKey: "k", ProjectID: "p", DatabaseURL: "redis://127.0.0.1:1"}
	start := time.Now()
	err := Probe(context.Background(), creds, 300*time.Millisecond)
	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("expected ErrProbeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("probe ran too long: %v", elapsed)
	}
}

func TestProbeRejectsBadURL(t *testing.T) {
	creds := domain.Credentials{APIKey: "k", ProjectID: "p", DatabaseURL: "http://example.com"}
	if err := Probe(context.Background(), creds, time.Second); err == nil || errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("expected url error, got %v", err)
	}
}
