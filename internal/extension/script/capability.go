package script

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a host function group a script may call. Capabilities are
// hierarchical: granting a parent grants every child.
type Capability string

// Capabilities a manifest can request.
const (
	// CapabilityHost grants every host function.
	CapabilityHost Capability = "host"

	// CapabilityNotify allows notify(title, message).
	CapabilityNotify Capability = "host.notify"

	// CapabilityPublish allows publish(kind, table).
	CapabilityPublish Capability = "host.publish"

	// CapabilityClock allows now().
	CapabilityClock Capability = "host.clock"
)

var knownCapabilities = map[Capability]string{
	CapabilityHost:    "all host functions",
	CapabilityNotify:  "fire user notifications",
	CapabilityPublish: "publish widget updates",
	CapabilityClock:   "read the current time",
}

// IsValidCapability reports whether c is a known capability.
func IsValidCapability(c Capability) bool {
	_, ok := knownCapabilities[c]
	return ok
}

// IsChildOf reports whether child is nested under parent.
func IsChildOf(child, parent Capability) bool {
	return strings.HasPrefix(string(child), string(parent)+".")
}

// CapabilityError is raised when a script calls a host function it was not
// granted.
type CapabilityError struct {
	Capability Capability
	Operation  string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q required for %s", e.Capability, e.Operation)
}

// Grants is the set of capabilities given to one script.
type Grants struct {
	granted map[Capability]bool
}

// NewGrants validates names and returns the grant set. A nil list grants
// everything, so manifests that predate capabilities keep working.
func NewGrants(names []string) (*Grants, error) {
	g := &Grants{granted: make(map[Capability]bool)}
	if names == nil {
		g.granted[CapabilityHost] = true
		return g, nil
	}
	for _, n := range names {
		c := Capability(n)
		if !IsValidCapability(c) {
			return nil, fmt.Errorf("unknown capability %q", n)
		}
		g.granted[c] = true
	}
	return g, nil
}

// Has reports whether c is granted directly or through a parent.
func (g *Grants) Has(c Capability) bool {
	if g.granted[c] {
		return true
	}
	for granted := range g.granted {
		if IsChildOf(c, granted) {
			return true
		}
	}
	return false
}

// Check returns a *CapabilityError when c is not granted.
func (g *Grants) Check(c Capability, operation string) error {
	if g.Has(c) {
		return nil
	}
	return &CapabilityError{Capability: c, Operation: operation}
}

// List returns the granted capabilities, sorted.
func (g *Grants) List() []string {
	out := make([]string, 0, len(g.granted))
	for c := range g.granted {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
