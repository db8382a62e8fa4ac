package loop

import (
	"slices"
	"strconv"
	"strings"
)

// Variables exported to the child on every tick.
const (
	EnvItem        = "ITEM"
	EnvCount       = "COUNT"
	EnvActualCount = "ACTUALCOUNT"
)

// Env receives the per-tick variables before the command runs.
type Env interface {
	Set(key, value string)
	Unset(key string)
}

// Environer is implemented by environments that can hand the child a
// complete, private variable list instead of mutating the process.
type Environer interface {
	Environ() []string
}

// Vars is an in-memory environment. Its Environ output is passed to the
// child via exec.Cmd.Env rather than mutating the process environment, so
// concurrent detached commands each see their own values.
type Vars struct {
	m map[string]string
}

var (
	_ Env       = (*Vars)(nil)
	_ Environer = (*Vars)(nil)
)

// NewVars seeds a Vars from KEY=VALUE pairs such as os.Environ().
func NewVars(base []string) *Vars {
	v := &Vars{m: make(map[string]string, len(base)+3)}
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		v.m[key] = value
	}
	return v
}

// Set implements Env.
func (v *Vars) Set(key, value string) { v.m[key] = value }

// Unset implements Env.
func (v *Vars) Unset(key string) { delete(v.m, key) }

// Get returns a variable and whether it is set.
func (v *Vars) Get(key string) (string, bool) {
	value, ok := v.m[key]
	return value, ok
}

// Environ returns a sorted KEY=VALUE snapshot.
func (v *Vars) Environ() []string {
	out := make([]string, 0, len(v.m))
	for k, val := range v.m {
		out = append(out, k+"="+val)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (v *Vars) Clone() *Vars {
	c := &Vars{m: make(map[string]string, len(v.m))}
	for k, val := range v.m {
		c.m[k] = val
	}
	return c
}

// ApplyIteration exports ITEM, COUNT and ACTUALCOUNT for one tick.
//
// COUNT is the scaled counter printed with precision decimal places;
// ACTUALCOUNT is the raw tick index. ITEM is removed when the tick has no
// item so a stale value never leaks into a later command.
func ApplyIteration(env Env, it Iteration, precision int) {
	if it.HasItem {
		env.Set(EnvItem, it.Item)
	} else {
		env.Unset(EnvItem)
	}
	env.Set(EnvCount, FormatCount(it.Count, precision))
	env.Set(EnvActualCount, strconv.Itoa(it.Index))
}

// FormatCount renders a scaled counter with a fixed number of decimals.
func FormatCount(count float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	s := strconv.FormatFloat(count, 'f', precision, 64)
	if s == "-0" || strings.HasPrefix(s, "-0.") && strings.Trim(s[3:], "0") == "" {
		s = s[1:]
	}
	return s
}

// PrecisionOf returns the number of fractional digits written in a numeric
// literal, ignoring any exponent: "1" -> 0, "1.1" -> 1, "2.50e3" -> 2.
func PrecisionOf(literal string) int {
	point := strings.IndexByte(literal, '.')
	if point < 0 {
		return 0
	}
	end := strings.IndexAny(literal, "eE")
	if end < 0 {
		end = len(literal)
	}
	if end <= point {
		return 0
	}
	return end - point - 1
}
