package regress

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrNoCaller is returned when no registered value is found on the call
	// stack.
	ErrNoCaller = errors.New("regress: no registered caller on the call stack")
	// ErrAmbiguousCaller is returned when one stack frame has several live
	// registrations, as happens when a function registers twice without
	// returning in between.
	ErrAmbiguousCaller = errors.New("regress: several registered callers for the same frame")
)

type registration struct {
	v any
}

// frameKey identifies a function running on a goroutine. Goroutines running
// the same function, such as parallel subtests sharing a body, get
// different keys.
type frameKey struct {
	goroutine int
	fn        string
}

var callers = struct {
	sync.Mutex
	byFrame map[frameKey][]*registration
}{byFrame: make(map[frameKey][]*registration)}

func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
	id, err := strconv.Atoi(idField)
	if err != nil {
		panic(fmt.Sprintf("cannot get goroutine id: %v", err))
	}
	return id
}

// Register binds v to the function calling Register. Until the returned
// function is called, Caller finds v from anything that function calls.
func Register(v any) (unregister func()) {
	return register(v, 1)
}

// register binds v to the function skip frames above register's caller.
func register(v any, skip int) func() {
	k := frameKey{goroutine: goroutineID(), fn: callerFunc(skip + 1)}
	r := &registration{v: v}

	callers.Lock()
	callers.byFrame[k] = append(callers.byFrame[k], r)
	callers.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			callers.Lock()
			defer callers.Unlock()
			rs := callers.byFrame[k]
			for i, x := range rs {
				if x == r {
					rs = append(rs[:i:i], rs[i+1:]...)
					break
				}
			}
			if len(rs) == 0 {
				delete(callers.byFrame, k)
			} else {
				callers.byFrame[k] = rs
			}
		})
	}
}

// callerFunc returns the name of the function skip frames above the caller
// of callerFunc. Inlined frames are counted like any other.
func callerFunc(skip int) string {
	pcs := make([]uintptr, skip+16)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for i := 0; ; i++ {
		f, more := frames.Next()
		if i == skip+1 {
			return f.Function
		}
		if !more {
			return ""
		}
	}
}

// Caller returns the value registered by the closest function on the call
// stack of the calling goroutine.
func Caller() (any, error) {
	return lookup(func(any) bool { return true })
}

// CallerOf is like Caller, but only considers values of type T.
func CallerOf[T any]() (T, error) {
	v, err := lookup(func(v any) bool {
		_, ok := v.(T)
		return ok
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func lookup(match func(any) bool) (any, error) {
	pcs := make([]uintptr, 128)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	g := goroutineID()

	callers.Lock()
	defer callers.Unlock()
	for {
		f, more := frames.Next()
		var found []any
		for _, r := range callers.byFrame[frameKey{goroutine: g, fn: f.Function}] {
			if match(r.v) {
				found = append(found, r.v)
			}
		}
		switch {
		case len(found) == 1:
			return found[0], nil
		case len(found) > 1:
			return nil, fmt.Errorf("%s: %w", f.Function, ErrAmbiguousCaller)
		}
		if !more {
			return nil, ErrNoCaller
		}
	}
}
