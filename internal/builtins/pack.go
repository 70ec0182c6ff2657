// ABOUTME: Pack groups builtin tool definitions under one ID.
// ABOUTME: Register adds every tool of every pack to a tools.Registry.

package builtins

import (
	"fmt"

	"github.com/2389/toolgate/internal/tools"
)

// Pack is a named group of builtin tools.
type Pack struct {
	ID    string
	Tools []tools.Definition
}

// Register adds every tool in packs to reg, stopping at the first error.
func Register(reg *tools.Registry, packs ...*Pack) error {
	for _, p := range packs {
		for _, def := range p.Tools {
			if err := reg.Register(def); err != nil {
				return fmt.Errorf("registering %s from %s: %w", def.Name, p.ID, err)
			}
		}
	}
	return nil
}
