package helper

import "time"

// wopiTimeLayout is the round-trip timestamp format the editor parses in
// LastModifiedTime fields. The six fractional digits are mandatory.
const wopiTimeLayout = "2006-01-02T15:04:05.000000"

// FormatWopiTime renders a timestamp in the editor's expected format.
func FormatWopiTime(t time.Time) string {
	return t.Format(wopiTimeLayout)
}

// ParseWopiTime parses a timestamp in the editor's format. Used by tests
// and by callers that need to compare LastModifiedTime values.
func ParseWopiTime(s string) (time.Time, error) {
	return time.Parse(wopiTimeLayout, s)
}
