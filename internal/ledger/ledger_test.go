package ledger

import (
	"reflect"
	"strings"
	"testing"

	"github.com/firstmerge/firstmerge/pkg/models"
)

func TestParse_SkipsNonEntryLines(t *testing.T) {
	raw := `# Contributors

Thanks to everyone who completed the tutorial!

- [@alice](https://github.com/alice) - Alice Anderson (2026-01-15)
- [@bob](https://github.com/bob) - Bob B. (2026-02-01)
`

	entries := Parse(raw)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	want := models.ContributorEntry{Identity: "alice", DisplayName: "Alice Anderson", Date: "2026-01-15"}
	if entries[0] != want {
		t.Errorf("Expected %+v, got %+v", want, entries[0])
	}
	if entries[1].Identity != "bob" {
		t.Errorf("Expected identity 'bob', got %q", entries[1].Identity)
	}
}

func TestContains(t *testing.T) {
	entries := Parse("- [@alice](https://github.com/alice) - Alice (2026-01-15)\n")

	if !Contains(entries, "alice") {
		t.Error("Expected Contains to find 'alice'")
	}
	if Contains(entries, "bob") {
		t.Error("Expected Contains to miss 'bob'")
	}
	// Exact match only: no prefix or case folding
	if Contains(entries, "alic") {
		t.Error("Expected Contains to miss prefix 'alic'")
	}
	if Contains(entries, "Alice") {
		t.Error("Expected Contains to be case sensitive")
	}
}

func TestAppend_PreservesTrailingStructure(t *testing.T) {
	entry := models.ContributorEntry{Identity: "carol", DisplayName: "Carol", Date: "2026-03-01"}

	tests := []struct {
		name string
		raw  string
	}{
		{"trailing newline", "# Contributors\n- [@alice](https://github.com/alice) - Alice (2026-01-15)\n"},
		{"no trailing newline", "# Contributors\n- [@alice](https://github.com/alice) - Alice (2026-01-15)"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := Append(tt.raw, entry)

			if !strings.Contains(updated, FormatEntry(entry)) {
				t.Fatalf("Appended text missing entry line:\n%s", updated)
			}
			if !strings.HasPrefix(updated, tt.raw) && tt.raw != "" {
				// The original text must survive byte for byte up to the join point
				trimmed := strings.TrimSuffix(tt.raw, "\n")
				if !strings.HasPrefix(updated, trimmed) {
					t.Errorf("Append modified existing content:\n%s", updated)
				}
			}

			entries := Parse(updated)
			if !Contains(entries, "carol") {
				t.Error("Expected parsed entries to contain 'carol'")
			}
			// Existing entries keep their order
			if len(entries) > 1 && entries[len(entries)-1].Identity != "carol" {
				t.Error("Expected appended entry to be last")
			}
		})
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	entries := []models.ContributorEntry{
		{Identity: "alice", DisplayName: "Alice Anderson", Date: "2026-01-15"},
		{Identity: "bob", DisplayName: "Bob B.", Date: "2026-02-01"},
		{Identity: "carol", DisplayName: "Carol", Date: "2026-03-01"},
	}

	parsed := Parse(Serialize(entries))
	if !reflect.DeepEqual(entries, parsed) {
		t.Errorf("Round trip mismatch:\nwant %+v\ngot  %+v", entries, parsed)
	}
}

func TestParseLine_Malformed(t *testing.T) {
	tests := []string{
		"- [alice](https://github.com/alice) - no at sign",
		"- [@](https://github.com/) - empty identity",
		"* [@alice](https://github.com/alice) - wrong bullet",
		"plain text line",
	}

	for _, line := range tests {
		if entries := Parse(line + "\n"); len(entries) != 0 {
			t.Errorf("Expected no entries for %q, got %+v", line, entries)
		}
	}
}
