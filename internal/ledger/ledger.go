// Package ledger reads and writes the contributors file: a markdown list with
// one completion record per line. Only entry lines are interpreted; headings
// and prose around them pass through untouched.
package ledger

import (
	"fmt"
	"strings"

	"github.com/firstmerge/firstmerge/pkg/models"
)

// entryPrefix marks a contributor record line. The identity sits between
// "[@" and "]" and is the uniqueness key for the whole file.
const entryPrefix = "- [@"

// Parse extracts contributor entries from the raw ledger text. Lines that do
// not look like entries are skipped, not errors: the ledger file usually
// starts with a heading and instructions.
func Parse(raw string) []models.ContributorEntry {
	var entries []models.ContributorEntry
	for _, line := range strings.Split(raw, "\n") {
		if entry, ok := parseLine(line); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Contains reports whether an entry with the given identity exists.
// The match is exact on the identity marker.
func Contains(entries []models.ContributorEntry, identity string) bool {
	for _, e := range entries {
		if e.Identity == identity {
			return true
		}
	}
	return false
}

// Append adds one entry line to the raw text, preserving the file's trailing
// newline structure. It never reorders or deduplicates; the duplicate guard
// belongs to the workflow.
func Append(raw string, entry models.ContributorEntry) string {
	line := FormatEntry(entry)
	if raw == "" {
		return line + "\n"
	}
	if strings.HasSuffix(raw, "\n") {
		return raw + line + "\n"
	}
	return raw + "\n" + line
}

// Serialize renders entries back to ledger text, one line per entry with a
// trailing newline. Parse(Serialize(entries)) round-trips.
func Serialize(entries []models.ContributorEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(FormatEntry(e))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatEntry renders a single entry line.
func FormatEntry(e models.ContributorEntry) string {
	return fmt.Sprintf("- [@%s](https://github.com/%s) - %s (%s)", e.Identity, e.Identity, e.DisplayName, e.Date)
}

// parseLine parses one entry line of the form
// "- [@identity](url) - Display Name (date)".
func parseLine(line string) (models.ContributorEntry, bool) {
	trimmed := strings.TrimRight(line, " \t\r")
	if !strings.HasPrefix(trimmed, entryPrefix) {
		return models.ContributorEntry{}, false
	}

	rest := trimmed[len(entryPrefix):]
	end := strings.Index(rest, "]")
	if end <= 0 {
		return models.ContributorEntry{}, false
	}
	entry := models.ContributorEntry{Identity: rest[:end]}
	rest = rest[end+1:]

	// Skip the link target
	if strings.HasPrefix(rest, "(") {
		if end := strings.Index(rest, ")"); end >= 0 {
			rest = rest[end+1:]
		}
	}

	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "-"))

	// Date is the final parenthesized field, if present
	if open := strings.LastIndex(rest, "("); open >= 0 && strings.HasSuffix(rest, ")") {
		entry.Date = rest[open+1 : len(rest)-1]
		rest = strings.TrimSpace(rest[:open])
	}
	entry.DisplayName = rest

	return entry, true
}
