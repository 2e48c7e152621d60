package volume

import (
	"strings"
	"testing"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

func TestConsolidateFirstWriteWins(t *testing.T) {
	got := Consolidate(
		map[string]domain.Value{"A": domain.Int(1), "B": domain.Int(2)},
		map[string]domain.Value{"A": domain.Int(99), "C": domain.Int(3)},
	)

	want := map[string]domain.Value{"A": domain.Int(1), "B": domain.Int(2), "C": domain.Int(3)}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(got))
	}
	for k, v := range want {
		if !got[k].Equal(v) {
			t.Fatalf("key %s: expected %s, got %s", k, v.Text(), got[k].Text())
		}
	}
}

func TestFlattenTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", 1500)
	entries := Flatten(map[string]domain.Value{
		"Long":    domain.String(long),
		"Short":   domain.String("ok"),
		"Missing": domain.Null(),
		"Spacing": domain.List(domain.Float(0.5), domain.Float(0.5)),
	}, 0)

	if len(entries) != 3 {
		t.Fatalf("expected null value to be dropped, got %+v", entries)
	}
	if entries[0].Key != "Long" {
		t.Fatalf("expected entries sorted by key, got %s first", entries[0].Key)
	}
	if len(entries[0].Value) != 1003 || !strings.HasSuffix(entries[0].Value, "...") {
		t.Fatalf("expected 1000 chars plus marker, got %d chars", len(entries[0].Value))
	}
	if entries[2].Key != "Spacing" || entries[2].Value != `0.5\0.5` {
		t.Fatalf("unexpected multi-value rendering %+v", entries[2])
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("ééé", 2); got != "éé..." {
		t.Fatalf("expected rune-aware cut, got %q", got)
	}
	if got := Truncate("abc", 3); got != "abc" {
		t.Fatalf("expected value at limit untouched, got %q", got)
	}
}
