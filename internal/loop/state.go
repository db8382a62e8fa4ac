package loop

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"loop/internal/exitcode"
)

// Summary tallies outcomes across ticks. Failures are append-only.
type Summary struct {
	Successes int
	Failures  []exitcode.Code
}

// Record adds one outcome.
func (s *Summary) Record(code exitcode.Code) {
	if code.Success() {
		s.Successes++
		return
	}
	s.Failures = append(s.Failures, code)
}

// Total is the number of recorded runs.
func (s Summary) Total() int {
	return s.Successes + len(s.Failures)
}

// genericFailure is how the summary lists a plain non-zero exit.
const genericFailure = -1

// reportCode is the number listed for a failed run: the generic Error shows
// as -1, every other code as itself.
func reportCode(c exitcode.Code) int {
	if c == exitcode.Error {
		return genericFailure
	}
	return c.Int()
}

// Report renders the three-line, tab-separated summary block.
func (s Summary) Report() string {
	failures := "0"
	if len(s.Failures) > 0 {
		codes := make([]string, len(s.Failures))
		for i, c := range s.Failures {
			codes[i] = strconv.Itoa(reportCode(c))
		}
		failures = fmt.Sprintf("%d (%s)", len(s.Failures), strings.Join(codes, ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total runs:\t%d\n", s.Total())
	fmt.Fprintf(&b, "Successes:\t%d\n", s.Successes)
	fmt.Fprintf(&b, "Failures:\t%s\n", failures)
	return b.String()
}

// MarshalJSON emits the tally with an explicit total.
func (s Summary) MarshalJSON() ([]byte, error) {
	failures := s.Failures
	if failures == nil {
		failures = []exitcode.Code{}
	}
	return json.Marshal(struct {
		Total     int             `json:"total"`
		Successes int             `json:"successes"`
		Failures  []exitcode.Code `json:"failures"`
	}{s.Total(), s.Successes, failures})
}

// RunState is threaded through every step. The driver is its single owner.
type RunState struct {
	// Matched is the substring/regex scan result of the latest output.
	Matched bool

	// PreviousOutput is the output of the last tick that did not stop the
	// loop; nil before the first tick.
	PreviousOutput *string

	Summary  Summary
	ExitCode exitcode.Code

	// Reason is set by the tick that stops the loop.
	Reason StopReason
}
