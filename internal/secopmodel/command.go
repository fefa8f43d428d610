package secopmodel

import (
	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// Command is an accessible leaf invoked with do() (spec §4.4). Its datainfo
// property is a Command shape (arg + result), never nested further.
type Command struct {
	id    string
	mod   *Module
	props *propSet
	shape *variant.Shape // Kind == KindCommand

	doer Doer
}

// NewCommand constructs a command named id with the given Command shape.
func NewCommand(id string, shape *variant.Shape) *Command {
	return &Command{id: id, props: newPropSet(), shape: shape}
}

// ID returns the command's accessible name.
func (c *Command) ID() string { return c.id }

// Shape returns the fixed Command datainfo shape.
func (c *Command) Shape() *variant.Shape { return c.shape }

// SetHandler wires the synchronous callback-mode handler. Leaving it nil
// routes do() through the Module's Broker instead.
func (c *Command) SetHandler(d Doer) { c.doer = d }

// AddProperty attaches or overwrites a property.
func (c *Command) AddProperty(prop *property.Property) {
	c.props.put(prop)
}

// Property looks up an attached property by name.
func (c *Command) Property(name string) (*property.Property, bool) {
	return c.props.get(name)
}

// Properties returns every attached property in insertion order.
func (c *Command) Properties() []*property.Property { return c.props.all() }
