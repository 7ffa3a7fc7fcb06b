package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := New("mv")
		if !strings.HasPrefix(id, "mv-") {
			t.Fatalf("expected mv- prefix, got %s", id)
		}
		if _, err := uuid.Parse(strings.TrimPrefix(id, "mv-")); err != nil {
			t.Fatalf("expected uuid suffix, got %s: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
