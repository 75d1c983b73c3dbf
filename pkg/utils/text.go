// Package utils holds helpers shared by the kagami command and its internal packages.
package utils

// Truncate shortens s to at most maxLen runes and appends "..." when it cut anything,
// so long search queries stay readable in CLI output. Multi-byte text is never split
// mid-character. maxLen <= 0 disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
