// Package exitcode defines the process exit codes loop understands, both for
// its own exit status and for interpreting the looped command's status.
package exitcode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Code is a process exit code. The named values form a closed set; any other
// value is an "other" code carried through verbatim.
type Code int

const (
	Okay       Code = 0   // Command succeeded.
	Error      Code = 1   // Generic failure.
	MinorError Code = 2   // Configuration or usage problem.
	Unknown    Code = 99  // Abnormal termination (signal death, no status).
	Timeout    Code = 124 // Same code the timeout(1) command uses.
)

// FromInt decodes a numeric exit status. 0, 1, 2, 99 and 124 always decode
// to their named value. A negative status is what os/exec reports for a
// process that did not exit normally, so it decodes to Unknown.
func FromInt(n int) Code {
	if n < 0 {
		return Unknown
	}
	return Code(n)
}

// Int returns the numeric value passed to os.Exit.
func (c Code) Int() int {
	return int(c)
}

// Success reports whether c is Okay.
func (c Code) Success() bool {
	return c == Okay
}

var names = map[Code]string{
	Okay:       "okay",
	Error:      "error",
	MinorError: "minor-error",
	Unknown:    "unknown",
	Timeout:    "timeout",
}

// String returns a human-readable label for the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("other(%d)", int(c))
}

// Parse reads either a numeric code or one of the labels produced by String.
func Parse(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return FromInt(n), nil
	}
	for c, name := range names {
		if s == name {
			return c, nil
		}
	}
	if strings.HasPrefix(s, "other(") && strings.HasSuffix(s, ")") {
		n, err := strconv.Atoi(s[len("other(") : len(s)-1])
		if err == nil {
			return FromInt(n), nil
		}
	}
	return 0, fmt.Errorf("unknown exit code: %q", s)
}

// MarshalJSON implements json.Marshaler.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(c))
}

// UnmarshalJSON implements json.Unmarshaler. It accepts numbers and labels.
func (c *Code) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = FromInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
