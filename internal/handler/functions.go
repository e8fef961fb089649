package handler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Function is a query-language function such as currentUser().
type Function struct {
	Name    string
	MinArgs int
	MaxArgs int
	// Eval returns the function's values. An empty result matches nothing.
	Eval func(qc *QueryContext, args []string) ([]string, error)
}

// FunctionSet is a case-insensitive set of functions.
type FunctionSet struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewFunctionSet returns a set holding fns.
func NewFunctionSet(fns ...Function) *FunctionSet {
	s := &FunctionSet{funcs: make(map[string]Function)}
	for _, fn := range fns {
		s.Add(fn)
	}
	return s
}

// Add registers fn, replacing any function of the same name.
func (s *FunctionSet) Add(fn Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[strings.ToLower(fn.Name)] = fn
}

// Lookup finds a function by name.
func (s *FunctionSet) Lookup(name string) (Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.funcs[strings.ToLower(name)]
	return fn, ok
}

// Names lists the registered function names.
func (s *FunctionSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.funcs))
	for _, fn := range s.funcs {
		out = append(out, fn.Name)
	}
	sort.Strings(out)
	return out
}

// DefaultFunctions returns the built-in functions.
func DefaultFunctions() *FunctionSet {
	return NewFunctionSet(
		Function{Name: "currentUser", Eval: currentUser},
		Function{Name: "now", Eval: func(qc *QueryContext, _ []string) ([]string, error) {
			return []string{qc.Now.Format(time.RFC3339Nano)}, nil
		}},
		Function{Name: "startOfDay", MaxArgs: 1, Eval: startOf(dayStart)},
		Function{Name: "endOfDay", MaxArgs: 1, Eval: endOf(dayStart, 0, 0, 1)},
		Function{Name: "startOfWeek", MaxArgs: 1, Eval: startOf(weekStart)},
		Function{Name: "endOfWeek", MaxArgs: 1, Eval: endOf(weekStart, 0, 0, 7)},
		Function{Name: "startOfMonth", MaxArgs: 1, Eval: startOf(monthStart)},
		Function{Name: "endOfMonth", MaxArgs: 1, Eval: endOf(monthStart, 0, 1, 0)},
	)
}

func currentUser(qc *QueryContext, _ []string) ([]string, error) {
	if qc.User == nil {
		return nil, nil
	}
	return []string{qc.User.Key}, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// weekStart is the Monday starting t's week.
func weekStart(t time.Time) time.Time {
	day := dayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// shifted applies an optional relative offset argument such as "-1d".
func shifted(qc *QueryContext, args []string) (time.Time, error) {
	if len(args) == 0 {
		return qc.Now, nil
	}
	d, err := ParseRelative(args[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad offset %q: %w", args[0], err)
	}
	return qc.Now.Add(d), nil
}

func startOf(align func(time.Time) time.Time) func(*QueryContext, []string) ([]string, error) {
	return func(qc *QueryContext, args []string) ([]string, error) {
		t, err := shifted(qc, args)
		if err != nil {
			return nil, err
		}
		return []string{align(t).Format(time.RFC3339Nano)}, nil
	}
}

// endOf is the last millisecond of the period starting at align(t).
func endOf(align func(time.Time) time.Time, years, months, days int) func(*QueryContext, []string) ([]string, error) {
	return func(qc *QueryContext, args []string) ([]string, error) {
		t, err := shifted(qc, args)
		if err != nil {
			return nil, err
		}
		end := align(t).AddDate(years, months, days).Add(-time.Millisecond)
		return []string{end.Format(time.RFC3339Nano)}, nil
	}
}
