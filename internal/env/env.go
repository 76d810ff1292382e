// Package env composes the environment a spawned job's shell inherits: the
// embedding process's own environment, a set of job-manager-wide overrides,
// and ${VAR} expansion against the result.
package env

import (
	"os"
	"strings"
)

// vars maps environment variable names to values.
type vars map[string]string

// Env accumulates overrides applied to every job a jobmanager.Manager
// spawns, on top of the embedding process's own environment.
type Env struct {
	overrides vars
	osEnv     vars // lazily cached base from os.Environ
}

// New returns an Env with no overrides set.
func New() *Env {
	return &Env{overrides: make(vars)}
}

// Set records a K=V override applied on top of the process environment by
// every future Merge call.
func (e *Env) Set(k, v string) {
	if e.overrides == nil {
		e.overrides = make(vars)
	}
	e.overrides[k] = v
}

// Merge returns the complete child environment for one spawn: the cached
// process environment, then e's overrides, then perSpawn (each "K=V"),
// each layer replacing any earlier value for the same key, followed by a
// single non-recursive pass of ${VAR} expansion against the merged map.
func (e *Env) Merge(perSpawn []string) []string {
	if e.osEnv == nil {
		e.osEnv = snapshotOSEnv()
	}

	m := make(vars, len(e.osEnv)+len(e.overrides)+len(perSpawn))
	for k, v := range e.osEnv {
		m[k] = v
	}
	for k, v := range e.overrides {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perSpawn {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			if k := kv[:i]; k != "" {
				m[k] = kv[i+1:]
			}
		}
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func snapshotOSEnv() vars {
	base := make(vars)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			if k := kv[:i]; k != "" {
				base[k] = kv[i+1:]
			}
		}
	}
	return base
}

// expand replaces every ${k} occurrence of a key present in m with its
// value, in a single pass (no recursive re-expansion of the result).
func expand(s string, m vars) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		j := strings.IndexByte(s[max(i, 0):], '}')
		if i < 0 || j < 0 {
			return b.String() + s
		}
		v, ok := m[s[i+2:i+j]]
		if !ok {
			v = s[i : i+j+1]
		}
		b.WriteString(s[:i] + v)
		s = s[i+j+1:]
	}
}
