//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package env

import (
	"strings"

	"github.com/markkurossi/tilert/tcu"
)

// Vars is the environment variable table of an activity. The table
// the activity starts with is shared; the first mutation copies it.
type Vars struct {
	vars   []string
	copied bool
}

// NewVars creates a variable table over the environ slice. The slice
// is not copied until the first mutation.
func NewVars(environ []string) *Vars {
	return &Vars{
		vars: environ,
	}
}

// Get returns the value of the variable.
func (vs *Vars) Get(name string) (string, bool) {
	idx := vs.index(name)
	if idx < 0 {
		return "", false
	}
	return vs.vars[idx][len(name)+1:], true
}

// Set sets the variable. Names may not contain '='.
func (vs *Vars) Set(name, value string) error {
	if len(name) == 0 || strings.ContainsRune(name, '=') {
		return tcu.InvArgs
	}
	vs.copyOnWrite()
	entry := name + "=" + value
	idx := vs.index(name)
	if idx >= 0 {
		vs.vars[idx] = entry
	} else {
		vs.vars = append(vs.vars, entry)
	}
	return nil
}

// Remove removes the variable.
func (vs *Vars) Remove(name string) {
	idx := vs.index(name)
	if idx < 0 {
		return
	}
	vs.copyOnWrite()
	idx = vs.index(name)
	vs.vars = append(vs.vars[:idx], vs.vars[idx+1:]...)
}

// All returns the current table.
func (vs *Vars) All() []string {
	return vs.vars
}

func (vs *Vars) index(name string) int {
	for i, v := range vs.vars {
		if len(v) > len(name) && v[len(name)] == '=' &&
			v[:len(name)] == name {
			return i
		}
	}
	return -1
}

func (vs *Vars) copyOnWrite() {
	if vs.copied {
		return
	}
	vs.vars = append([]string(nil), vs.vars...)
	vs.copied = true
}
