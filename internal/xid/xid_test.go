package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewPrefixesUUID(t *testing.T) {
	id := New("rcpt")
	if !strings.HasPrefix(id, "rcpt-") {
		t.Fatalf("expected rcpt- prefix, got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "rcpt-")); err != nil {
		t.Fatalf("expected uuid suffix, got %s: %v", id, err)
	}
	if New("rcpt") == id {
		t.Fatalf("expected unique ids")
	}
}
