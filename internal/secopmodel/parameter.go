package secopmodel

import (
	"math"
	"strings"

	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// Parameter is an accessible leaf with a cached value, an optional
// uncertainty (sigma), and a last-update timestamp (spec §4.4). Its datainfo
// property fixes the Shape every value it ever holds must conform to.
type Parameter struct {
	id       string
	mod      *Module // non-owning back-reference
	props    *propSet
	readonly bool
	constant bool

	value     variant.Variant
	sigma     *variant.Variant
	timestamp float64 // NaN until first read/change

	getter Getter
	setter Setter
}

// NewParameter constructs a parameter named id with the given datainfo
// shape. readonly/constant mirror the mandatory "readonly" property and the
// optional "constant" property (spec §4.2); a constant parameter is seeded
// with initial as its permanent value and never dispatches to a handler or
// broker.
func NewParameter(id string, shape *variant.Shape, readonly, constant bool, initial variant.Variant) *Parameter {
	p := &Parameter{
		id:       id,
		props:    newPropSet(),
		readonly: readonly,
		constant: constant,
		value:    variant.Zero(shape),
		timestamp: nanTimestamp,
	}
	if constant {
		p.value = initial
	}
	return p
}

// ID returns the parameter's accessible name.
func (p *Parameter) ID() string { return p.id }

// Shape returns the fixed datainfo shape every value of this parameter
// must conform to.
func (p *Parameter) Shape() *variant.Shape { return p.value.Shape() }

// ReadOnly reports whether change() is rejected with ReadOnly.
func (p *Parameter) ReadOnly() bool { return p.readonly }

// Constant reports whether this parameter never dispatches to a handler.
func (p *Parameter) Constant() bool { return p.constant }

// SetHandlers wires the synchronous callback-mode handlers. Leaving both nil
// routes read/change through the Module's Broker instead (spec §9).
func (p *Parameter) SetHandlers(get Getter, set Setter) {
	p.getter = get
	p.setter = set
}

// AddProperty attaches or overwrites a property. name starting with "_" is
// user-defined and bypasses catalog validation entirely.
func (p *Parameter) AddProperty(prop *property.Property) {
	p.props.put(prop)
}

// Property looks up an attached property by name.
func (p *Parameter) Property(name string) (*property.Property, bool) {
	return p.props.get(name)
}

// Properties returns every attached property in insertion order.
func (p *Parameter) Properties() []*property.Property { return p.props.all() }

// Cached returns the parameter's last known value, sigma, and timestamp
// without dispatching a new read.
func (p *Parameter) Cached() Completion {
	return Completion{Value: p.value, Sigma: p.sigma, Timestamp: p.timestamp}
}

func (p *Parameter) applyCompletion(c Completion) {
	if c.Err != nil {
		return
	}
	p.value = c.Value
	p.sigma = c.Sigma
	p.timestamp = c.Timestamp
}

// checkWritable validates a prospective change() against readonly/constant,
// returning the wire-ready error if rejected.
func (p *Parameter) checkWritable() error {
	if p.constant {
		return secoperr.New(secoperr.ReadOnly, "parameter %q is constant", p.id)
	}
	if p.readonly {
		return secoperr.New(secoperr.ReadOnly, "parameter %q is read-only", p.id)
	}
	return nil
}

// IsUserDefinedPropertyName reports whether name is a user-defined
// ("_"-prefixed) property name, exempt from catalog mandatory checks.
func IsUserDefinedPropertyName(name string) bool {
	return strings.HasPrefix(name, "_")
}

var nanTimestamp = math.NaN()
