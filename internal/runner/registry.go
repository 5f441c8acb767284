// Package runner executes registered test cases over a worker pool and
// assembles the run result.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

// CaseFunc is the body of a test case. Returning an error fails the case;
// returning ErrSkip (possibly wrapped) skips it.
type CaseFunc func(ctx context.Context, t *T) error

// Case is one registered test case.
type Case struct {
	Suite    string
	Name     string
	Platform schemas.Platform
	Fn       CaseFunc
}

// Registry holds registered cases. The zero value is usable.
type Registry struct {
	mu    sync.Mutex
	cases []Case
	seen  map[string]bool
}

// Register adds a case. Duplicate suite/name pairs are rejected so a typo
// cannot silently shadow a test.
func (r *Registry) Register(suite, name string, platform schemas.Platform, fn CaseFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := suite + "/" + name
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[key] {
		return fmt.Errorf("case %q already registered", key)
	}
	r.seen[key] = true
	r.cases = append(r.cases, Case{Suite: suite, Name: name, Platform: platform, Fn: fn})
	return nil
}

// MustRegister is Register for init-time use; it panics on duplicates.
func (r *Registry) MustRegister(suite, name string, platform schemas.Platform, fn CaseFunc) {
	if err := r.Register(suite, name, platform, fn); err != nil {
		panic(err)
	}
}

// Select returns the cases belonging to the named suites, in stable
// suite-then-name order. An empty filter selects everything.
func (r *Registry) Select(suites []string) []Case {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool, len(suites))
	for _, s := range suites {
		want[s] = true
	}

	var out []Case
	for _, c := range r.cases {
		if len(want) == 0 || want[c.Suite] {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Suite != out[j].Suite {
			return out[i].Suite < out[j].Suite
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Suites lists the distinct suite names in the registry.
func (r *Registry) Suites() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]bool)
	for _, c := range r.cases {
		set[c.Suite] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Default is the process-wide registry test packages register into from
// their init functions.
var Default = &Registry{}

// Register adds a case to the default registry.
func Register(suite, name string, platform schemas.Platform, fn CaseFunc) error {
	return Default.Register(suite, name, platform, fn)
}

// MustRegister adds a case to the default registry, panicking on duplicates.
func MustRegister(suite, name string, platform schemas.Platform, fn CaseFunc) {
	Default.MustRegister(suite, name, platform, fn)
}
