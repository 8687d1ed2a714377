// Package vars resolves script variable names to sparse arrays. It plays the
// host's role: scope prefixes pick the owning namespace, a trailing '$'
// marks a text array, and every access is serialized on the registry.
package vars

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crystal-mush/sparsearray/pkg/events"
	"github.com/crystal-mush/sparsearray/pkg/sparse"
)

// ErrBadName is returned for names that are not valid variable identifiers.
var ErrBadName = errors.New("vars: bad variable name")

// Scope is the namespace a variable lives in, selected by its name prefix.
type Scope int

const (
	ScopeCharacter     Scope = iota // name     permanent character variable
	ScopeCharTemp                   // @name    temporary character variable
	ScopeAccount                    // #name    permanent account variable
	ScopeAccountGlobal              // ##name   permanent account variable shared across servers
	ScopeNPC                        // .name    NPC variable
	ScopeScript                     // .@name   script-local variable
	ScopeInstance                   // 'name    instance variable
	ScopeGlobal                     // $name    permanent global variable
	ScopeGlobalTemp                 // $@name   temporary global variable
)

var scopeNames = [...]string{
	ScopeCharacter:     "character",
	ScopeCharTemp:      "character_temp",
	ScopeAccount:       "account",
	ScopeAccountGlobal: "account_global",
	ScopeNPC:           "npc",
	ScopeScript:        "script",
	ScopeInstance:      "instance",
	ScopeGlobal:        "global",
	ScopeGlobalTemp:    "global_temp",
}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return "unknown"
	}
	return scopeNames[s]
}

// ParseScope is the inverse of Scope.String.
func ParseScope(name string) (Scope, error) {
	for i, n := range scopeNames {
		if n == name {
			return Scope(i), nil
		}
	}
	return 0, fmt.Errorf("vars: unknown scope %q", name)
}

// Permanent reports whether variables in the scope outlive the session
// and belong in a persistent backend.
func (s Scope) Permanent() bool {
	switch s {
	case ScopeCharacter, ScopeAccount, ScopeAccountGlobal, ScopeGlobal:
		return true
	}
	return false
}

// Longest prefixes first.
var prefixes = []struct {
	prefix string
	scope  Scope
}{
	{"$@", ScopeGlobalTemp},
	{".@", ScopeScript},
	{"##", ScopeAccountGlobal},
	{"$", ScopeGlobal},
	{".", ScopeNPC},
	{"'", ScopeInstance},
	{"#", ScopeAccount},
	{"@", ScopeCharTemp},
}

// ParseName derives the scope and kind of a variable from its name.
func ParseName(name string) (Scope, sparse.Kind, error) {
	scope := ScopeCharacter
	rest := name
	for _, p := range prefixes {
		if strings.HasPrefix(name, p.prefix) {
			scope = p.scope
			rest = name[len(p.prefix):]
			break
		}
	}
	kind := sparse.KindInt
	if strings.HasSuffix(rest, "$") {
		kind = sparse.KindText
		rest = rest[:len(rest)-1]
	}
	if !validIdent(rest) {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return scope, kind, nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Context identifies the attachments of a running script: which character,
// account, NPC, script invocation and instance its scoped names refer to.
type Context struct {
	Char     int64
	Account  int64
	NPC      int64
	Script   int64
	Instance int64
}

// Ref is an owning namespace: a scope plus the id of its owner.
type Ref struct {
	Scope Scope
	Owner int64
}

// Ref returns the namespace scope refers to under this context.
func (c Context) Ref(scope Scope) Ref {
	var owner int64
	switch scope {
	case ScopeCharacter, ScopeCharTemp:
		owner = c.Char
	case ScopeAccount, ScopeAccountGlobal:
		owner = c.Account
	case ScopeNPC:
		owner = c.NPC
	case ScopeScript:
		owner = c.Script
	case ScopeInstance:
		owner = c.Instance
	}
	return Ref{Scope: scope, Owner: owner}
}

// Context returns a script context under which the scope's names resolve to r.
func (r Ref) Context() Context {
	var c Context
	switch r.Scope {
	case ScopeCharacter, ScopeCharTemp:
		c.Char = r.Owner
	case ScopeAccount, ScopeAccountGlobal:
		c.Account = r.Owner
	case ScopeNPC:
		c.NPC = r.Owner
	case ScopeScript:
		c.Script = r.Owner
	case ScopeInstance:
		c.Instance = r.Owner
	}
	return c
}

// Topic returns the event bus topic carrying the namespace's changes.
func (r Ref) Topic() events.Topic {
	return events.Topic{Scope: r.Scope.String(), Owner: r.Owner}
}

// Key names one array: its namespace and full variable name.
type Key struct {
	Scope Scope
	Owner int64
	Name  string
}

// Ref returns the key's namespace.
func (k Key) Ref() Ref {
	return Ref{Scope: k.Scope, Owner: k.Owner}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Scope, k.Owner, k.Name)
}

// Less orders keys by scope, owner, then name.
func (k Key) Less(o Key) bool {
	if k.Scope != o.Scope {
		return k.Scope < o.Scope
	}
	if k.Owner != o.Owner {
		return k.Owner < o.Owner
	}
	return k.Name < o.Name
}
