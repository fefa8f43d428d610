package secopmodel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/propcatalog"
	"github.com/secop-sine2020/secopd/internal/secoperr"
	"github.com/secop-sine2020/secopd/internal/variant"
)

// Validate runs the node_complete checks (spec §4.6): every mandatory
// property must be present at every scope, every present standard property
// must hold a variant kind the catalog allows, and every non-underscore
// property unknown to the catalog is flagged. It returns every warning and
// error found; callers decide whether any returned error aborts startup
// (spec leaves that decision to the embedding program).
func (n *Node) Validate() []*secoperr.Error {
	var out []*secoperr.Error
	out = append(out, validateScope(propcatalog.ScopeNode, n.Properties(), "node")...)
	out = append(out, n.validateOrder()...)

	if len(n.Modules()) == 0 {
		out = append(out, secoperr.New(secoperr.MissingMandatory, "node declares no modules"))
	}

	for _, m := range n.Modules() {
		out = append(out, validateScope(propcatalog.ScopeModule, m.Properties(), fmt.Sprintf("module %q", m.id))...)
		out = append(out, m.validateOrder()...)
		if len(m.Parameters()) == 0 && len(m.Commands()) == 0 {
			out = append(out, secoperr.New(secoperr.MissingMandatory, "module %q exposes no accessibles", m.id))
		}
		if classes, ok := interfaceClasses(m); ok {
			out = append(out, validateInterfaceClass(m, classes)...)
		}
		for _, p := range m.Parameters() {
			where := fmt.Sprintf("module %q parameter %q", m.id, p.id)
			out = append(out, validateScope(propcatalog.ScopeParameter, p.Properties(), where)...)
			out = append(out, p.Shape().Warnings(where)...)
		}
		for _, c := range m.Commands() {
			where := fmt.Sprintf("module %q command %q", m.id, c.id)
			out = append(out, validateScope(propcatalog.ScopeCommand, c.Properties(), where)...)
			if c.shape.Arg != nil {
				out = append(out, c.shape.Arg.Warnings(where+" arg")...)
			}
			if c.shape.Result != nil {
				out = append(out, c.shape.Result.Warnings(where+" result")...)
			}
		}
	}

	for _, e := range out {
		if !e.Warning() {
			return out
		}
	}
	n.ready = true
	return out
}

// validateOrder implements spec §4.6 step 2 for the node's module list: if
// an "order" property was set explicitly, it must be a JSON array of
// strings that permutes the module ids; otherwise one is synthesized from
// creation order so it is available to Descriptor.
func (n *Node) validateOrder() []*secoperr.Error {
	if p, ok := n.Property("order"); ok {
		return checkOrderPermutation(p, n.modOrder, "node")
	}
	n.AddProperty(property.NewAuto("order", orderValue(n.modOrder)))
	return nil
}

// validateOrder implements spec §4.6 step 2 for one module's accessibles.
func (m *Module) validateOrder() []*secoperr.Error {
	ids := m.accessibleNames()
	if p, ok := m.Property("order"); ok {
		return checkOrderPermutation(p, ids, fmt.Sprintf("module %q", m.id))
	}
	m.AddProperty(property.NewAuto("order", orderValue(ids)))
	return nil
}

func orderValue(ids []string) variant.Variant {
	raw, _ := json.Marshal(ids)
	return variant.String(variant.NewStringShape(variant.StringJSON, 0, 0, false), string(raw))
}

func checkOrderPermutation(p *property.Property, ids []string, where string) []*secoperr.Error {
	raw, err := p.Value.ExportJSON()
	if err != nil {
		return []*secoperr.Error{secoperr.New(secoperr.InvalidProperty, "%s: order property is not valid JSON", where)}
	}
	var got []string
	if err := json.Unmarshal(raw, &got); err != nil {
		return []*secoperr.Error{secoperr.New(secoperr.InvalidProperty, "%s: order property must be a JSON array of strings", where)}
	}
	if !isPermutation(got, ids) {
		return []*secoperr.Error{secoperr.New(secoperr.InvalidProperty, "%s: order property is not a permutation of its accessible ids", where)}
	}
	return nil
}

func isPermutation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := map[string]int{}
	for _, x := range b {
		counts[strings.ToLower(x)]++
	}
	for _, x := range a {
		counts[strings.ToLower(x)]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// interfaceClasses parses a module's "interface_class" property, stored as
// a JSON-sub-kind string holding a JSON array of class names (spec §4.2:
// Module.interface_class, AnyJSON). ok is false if the property is absent.
func interfaceClasses(m *Module) (classes []string, ok bool) {
	p, present := m.Property("interface_class")
	if !present {
		return nil, false
	}
	raw, err := p.Value.ExportJSON()
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(raw, &classes); err != nil {
		return nil, false
	}
	return classes, true
}

func hasClass(classes []string, want string) bool {
	for _, c := range classes {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}

var idlePattern = regexp.MustCompile(`(?i)^idle(_.*)?$`)
var busyPattern = regexp.MustCompile(`(?i)^busy(_.*)?$`)

// statusShapeOK reports whether shape matches spec §4.6's required "status"
// shape, Tuple(Enum, String).
func statusShapeOK(shape *variant.Shape) bool {
	return shape != nil && shape.Kind == variant.KindTuple && len(shape.Elems) == 2 &&
		shape.Elems[0].Kind == variant.KindEnum && shape.Elems[1].Kind == variant.KindString
}

// statusEnumHas reports whether the status enum has a member matching
// pattern by name or whose code falls in [lo,hi) (spec §9's "preserve both
// heuristics").
func statusEnumHas(enumShape *variant.Shape, pattern *regexp.Regexp, lo, hi int64) bool {
	for _, name := range enumShape.Order {
		if pattern.MatchString(name) {
			return true
		}
		if code := enumShape.Members[name]; code >= lo && code < hi {
			return true
		}
	}
	return false
}

// validateInterfaceClass implements spec §4.6 step 3: the structural
// requirements an interface_class of readable/writable/drivable imposes on
// a module's accessibles.
func validateInterfaceClass(m *Module, classes []string) []*secoperr.Error {
	var out []*secoperr.Error
	readable := hasClass(classes, "readable")
	writable := hasClass(classes, "writable")
	drivable := hasClass(classes, "drivable")

	if readable || writable || drivable {
		if _, ok := m.Parameter("value"); !ok {
			out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: interface_class %v requires a %q parameter", m.id, classes, "value"))
		}
		status, ok := m.Parameter("status")
		switch {
		case !ok:
			out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: interface_class %v requires a %q parameter", m.id, classes, "status"))
		case !statusShapeOK(status.Shape()):
			out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: %q parameter must have shape Tuple(Enum, String)", m.id, "status"))
		case !statusEnumHas(status.Shape().Elems[0], idlePattern, 100, 200):
			out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: status enum has no idle-like member (name matching /idle(_.*)?/i or code in [100,200))", m.id))
		}
	}

	if writable || drivable {
		if _, ok := m.Parameter("target"); !ok {
			out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: interface_class %v requires a %q parameter", m.id, classes, "target"))
		}
	}

	if drivable {
		if _, ok := m.Command("stop"); !ok {
			out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: interface_class drivable requires a %q command", m.id, "stop"))
		}
		if status, ok := m.Parameter("status"); ok && statusShapeOK(status.Shape()) {
			if !statusEnumHas(status.Shape().Elems[0], busyPattern, 300, 400) {
				out = append(out, secoperr.New(secoperr.InvalidProperty, "module %q: status enum has no busy-like member (name matching /busy(_.*)?/i or code in [300,400))", m.id))
			}
		}
	}
	return out
}

func validateScope(scope propcatalog.Scope, props []*property.Property, where string) []*secoperr.Error {
	var out []*secoperr.Error
	seen := map[string]bool{}
	for _, p := range props {
		seen[property.LookupKey(p.Name())] = true
		if p.IsUserDefined() {
			continue
		}
		entry, known := propcatalog.Lookup(scope, p.Name())
		if !known {
			out = append(out, secoperr.New(secoperr.CustomProperty, "%s: property %q is not a standard property", where, p.Name()))
			continue
		}
		if !entry.Allows(p.Value.Kind()) {
			out = append(out, secoperr.New(secoperr.InvalidProperty, "%s: property %q has an unsupported value kind", where, p.Name()))
		}
	}
	for _, name := range propcatalog.Mandatory(scope) {
		if property.LookupKey(name) == "datainfo" {
			// datainfo is mandatory in the rendered descriptor but is
			// always derived live from the accessible's Shape
			// (accessibleJSON never stores it as a property), so its
			// absence from propSet is not a finding.
			continue
		}
		if !seen[property.LookupKey(name)] {
			out = append(out, secoperr.New(secoperr.MissingProperties, "%s: missing mandatory property %q", where, name))
		}
	}
	return out
}

// jsonObj is shared ordered-object-building logic with internal/variant's
// typejson.go; kept as its own small copy here since descriptor assembly
// composes properties (strings) rather than Shape fields.
type jsonObj struct {
	buf []byte
}

func newJSONObj() *jsonObj {
	o := &jsonObj{buf: []byte{'{'}}
	return o
}

func (o *jsonObj) fieldRaw(name string, raw json.RawMessage) {
	if len(o.buf) > 1 {
		o.buf = append(o.buf, ',')
	}
	key, _ := json.Marshal(name)
	o.buf = append(o.buf, key...)
	o.buf = append(o.buf, ':')
	o.buf = append(o.buf, raw...)
}

func (o *jsonObj) bytes() json.RawMessage {
	return append(append([]byte(nil), o.buf...), '}')
}

// Descriptor renders the node's full describe() payload (spec §4.6, §5):
// node properties plus a "modules" object where each module carries its own
// properties flattened alongside an "accessibles" object merging parameters
// and commands, each carrying its properties with "datainfo" always derived
// live from the accessible's own Shape rather than any separately stored
// property value. Once the node is Ready (node_complete has frozen the
// tree) the payload is built once and cached, since nothing that feeds it
// can change afterward; a node still under construction computes it fresh
// on every call, as a check/preview pass may call it repeatedly.
func (n *Node) Descriptor() (json.RawMessage, error) {
	if n.ready {
		n.descriptorOnce.Do(func() {
			n.descriptorCache, n.descriptorErr = n.buildDescriptor()
		})
		return n.descriptorCache, n.descriptorErr
	}
	return n.buildDescriptor()
}

func (n *Node) buildDescriptor() (json.RawMessage, error) {
	root := newJSONObj()
	for _, p := range n.Properties() {
		raw, err := p.Value.ExportJSON()
		if err != nil {
			return nil, err
		}
		root.fieldRaw(p.Name(), raw)
	}

	modsObj := newJSONObj()
	for _, m := range n.Modules() {
		modObj := newJSONObj()
		for _, p := range m.Properties() {
			raw, err := p.Value.ExportJSON()
			if err != nil {
				return nil, err
			}
			modObj.fieldRaw(p.Name(), raw)
		}

		accObj := newJSONObj()
		for _, p := range m.Parameters() {
			raw, err := accessibleJSON(p.Properties(), p.Shape().TypeJSON)
			if err != nil {
				return nil, err
			}
			accObj.fieldRaw(p.id, raw)
		}
		for _, c := range m.Commands() {
			raw, err := accessibleJSON(c.Properties(), c.shape.TypeJSON)
			if err != nil {
				return nil, err
			}
			accObj.fieldRaw(c.id, raw)
		}
		modObj.fieldRaw("accessibles", accObj.bytes())
		modsObj.fieldRaw(m.id, modObj.bytes())
	}
	root.fieldRaw("modules", modsObj.bytes())
	return root.bytes(), nil
}

func accessibleJSON(props []*property.Property, typeJSON func() (json.RawMessage, error)) (json.RawMessage, error) {
	o := newJSONObj()
	for _, p := range props {
		if property.LookupKey(p.Name()) == "datainfo" {
			continue // always derived below, never trusted from a stored value
		}
		raw, err := p.Value.ExportJSON()
		if err != nil {
			return nil, err
		}
		o.fieldRaw(p.Name(), raw)
	}
	datainfo, err := typeJSON()
	if err != nil {
		return nil, err
	}
	o.fieldRaw("datainfo", datainfo)
	return o.bytes(), nil
}
