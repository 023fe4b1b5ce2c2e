package s3

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	illegalChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// sanitizeSegment strips characters that are illegal in key segments and
// collapses whitespace runs to a single underscore.
func sanitizeSegment(name string) string {
	name = illegalChars.ReplaceAllString(name, "_")
	name = whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		return "unnamed"
	}
	return name
}

// objectKey derives the canonical key for a file. The derivation is pure:
// the same course, offering and file name always map to the same key, so
// re-runs address the same object.
func objectKey(prefix, teamName, channelName, fileName string) string {
	return path.Join(
		prefix,
		sanitizeSegment(teamName),
		sanitizeSegment(channelName),
		sanitizeSegment(fileName),
	)
}

// backupKey returns a sibling key with a timestamp suffix, used to
// preserve the previous version of a changed file.
//
//	backup_teams/Calculus/General/notes.pdf
//	→ backup_teams/Calculus/General/notes_backup_20250224T163700.pdf
func backupKey(key string, ts time.Time) string {
	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)
	return fmt.Sprintf("%s_backup_%s%s", stem, ts.UTC().Format("20060102T150405"), ext)
}
