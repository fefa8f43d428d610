// Package nodedef loads a declarative TOML description of a node into the
// same builder calls a Go program would make by hand (spec §6's CreateNode/
// AddModule/AddReadableParameter family), mirroring the teacher's use of
// BurntSushi/toml for its own config files.
package nodedef

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/secop-sine2020/secopd/internal/buildinfo"
	"github.com/secop-sine2020/secopd/internal/property"
	"github.com/secop-sine2020/secopd/internal/secopmodel"
	"github.com/secop-sine2020/secopd/internal/variant"
	"github.com/secop-sine2020/secopd/internal/wasmhandler"
)

// Builder is the subset of the Registry's builder-focus API a node
// definition drives. internal/registry.Registry satisfies it.
type Builder interface {
	AddNode(n *secopmodel.Node)
	AddModule(m *secopmodel.Module) error
	AddParameter(p *secopmodel.Parameter) error
	AddCommand(c *secopmodel.Command) error
}

type fileDef struct {
	Node nodeDef `toml:"node"`
}

type nodeDef struct {
	EquipmentID string          `toml:"equipment_id"`
	Description string          `toml:"description"`
	Properties  map[string]any  `toml:"properties"`
	Modules     []moduleDef     `toml:"modules"`
}

type moduleDef struct {
	ID          string          `toml:"id"`
	Description string          `toml:"description"`
	Properties  map[string]any  `toml:"properties"`
	Parameters  []parameterDef  `toml:"parameters"`
	Commands    []commandDef    `toml:"commands"`
}

type parameterDef struct {
	ID          string         `toml:"id"`
	Description string         `toml:"description"`
	ReadOnly    bool           `toml:"readonly"`
	Constant    bool           `toml:"constant"`
	Type        shapeDef       `toml:"type"`
	Properties  map[string]any `toml:"properties"`
	// Wasm, if set, is the path to a compiled WASM module whose
	// secop_get/secop_set exports back this parameter (internal/wasmhandler),
	// instead of leaving it routed through the module's Broker.
	Wasm string `toml:"wasm"`
}

type commandDef struct {
	ID          string         `toml:"id"`
	Description string         `toml:"description"`
	Arg         *shapeDef      `toml:"arg"`
	Result      *shapeDef      `toml:"result"`
	Properties  map[string]any `toml:"properties"`
	// Wasm, if set, is the path to a compiled WASM module whose secop_do
	// export backs this command (internal/wasmhandler).
	Wasm string `toml:"wasm"`
}

// shapeDef describes a scalar or enum datainfo. Array/tuple/struct datainfo
// still requires the Go builder API directly; a declarative node file covers
// the common instrument-parameter case (spec §4.1's scalar kinds).
type shapeDef struct {
	Kind    string           `toml:"kind"` // bool, double, scaled, int, enum, string
	Unit    string           `toml:"unit"`
	Fmtstr  string           `toml:"fmtstr"`
	Min     *float64         `toml:"min"`
	Max     *float64         `toml:"max"`
	IMin    *int64           `toml:"imin"`
	IMax    *int64           `toml:"imax"`
	Scale   float64          `toml:"scale"`
	Order   []string         `toml:"order"`
	Members map[string]int64 `toml:"members"`
	MaxLen  int              `toml:"maxlen"`
}

func (s shapeDef) build() (*variant.Shape, error) {
	switch s.Kind {
	case "", "bool":
		return variant.NewBoolShape(), nil
	case "double":
		return variant.NewDoubleShape(s.Unit, s.Fmtstr, nil, nil, s.Min, s.Max), nil
	case "scaled":
		return variant.NewScaledShape(s.Scale, s.Unit, s.Fmtstr, s.Min, s.Max), nil
	case "int":
		return variant.NewIntegerShape(s.IMin, s.IMax), nil
	case "enum":
		return variant.NewEnumShape(s.Order, s.Members), nil
	case "string":
		return variant.NewStringShape(variant.StringPlain, 0, s.MaxLen, s.MaxLen > 0), nil
	default:
		return nil, fmt.Errorf("nodedef: unknown datainfo kind %q", s.Kind)
	}
}

// Load parses a TOML node definition and drives b the same way a Go program
// using the builder API directly would, returning the built Node along with
// a closer that releases any WASM guest modules a parameter or command's
// "wasm" field attached (internal/wasmhandler). Callers must close it once
// the node is no longer served.
func Load(ctx context.Context, path string, b Builder) (*secopmodel.Node, func() error, error) {
	var f fileDef
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, nil, fmt.Errorf("nodedef: parsing %s: %w", path, err)
	}
	l := &loader{ctx: ctx, handlers: map[string]*wasmhandler.Handler{}}
	n, err := l.build(f.Node, b)
	if err != nil {
		l.closeAll()
		return nil, nil, err
	}
	return n, l.closeAll, nil
}

// loader carries the WASM runtime handle cache across one Load call, so
// several parameters/commands backed by the same guest module share a
// single compiled Handler (internal/wasmhandler) instead of recompiling it
// per accessible.
type loader struct {
	ctx      context.Context
	handlers map[string]*wasmhandler.Handler
}

func (l *loader) handlerFor(path string) (*wasmhandler.Handler, error) {
	if h, ok := l.handlers[path]; ok {
		return h, nil
	}
	h, err := wasmhandler.Load(l.ctx, path)
	if err != nil {
		return nil, err
	}
	l.handlers[path] = h
	return h, nil
}

// closeAll releases every WASM handler opened while building the node.
// Errors from individual Close calls are collected but do not stop the
// others from running, the same "best effort on shutdown" discipline the
// teacher applies to its own resource cleanup.
func (l *loader) closeAll() error {
	var firstErr error
	for path, h := range l.handlers {
		if err := h.Close(l.ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("nodedef: closing wasm handler %s: %w", path, err)
		}
	}
	return firstErr
}

func (l *loader) build(nd nodeDef, b Builder) (*secopmodel.Node, error) {
	if nd.EquipmentID == "" {
		return nil, fmt.Errorf("nodedef: node.equipment_id is required")
	}
	n := secopmodel.NewNode(nd.EquipmentID)
	n.AddProperty(property.New("equipment_id", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), nd.EquipmentID)))
	if nd.Description != "" {
		n.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), nd.Description)))
	}
	for name, v := range nd.Properties {
		p, err := scalarProperty(name, v)
		if err != nil {
			return nil, fmt.Errorf("nodedef: node property %q: %w", name, err)
		}
		n.AddProperty(p)
	}
	if _, ok := n.Property("firmware"); !ok {
		n.AddProperty(property.NewAuto("firmware", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), buildinfo.String())))
	}
	b.AddNode(n)

	for _, md := range nd.Modules {
		if err := l.buildModule(md, b); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (l *loader) buildModule(md moduleDef, b Builder) error {
	if md.ID == "" {
		return fmt.Errorf("nodedef: module id is required")
	}
	m := secopmodel.NewModule(md.ID)
	if md.Description != "" {
		m.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), md.Description)))
	}
	for name, v := range md.Properties {
		p, err := scalarProperty(name, v)
		if err != nil {
			return fmt.Errorf("nodedef: module %q property %q: %w", md.ID, name, err)
		}
		m.AddProperty(p)
	}
	if err := b.AddModule(m); err != nil {
		return err
	}

	for _, pd := range md.Parameters {
		if err := l.buildParameter(pd, b); err != nil {
			return fmt.Errorf("nodedef: module %q: %w", md.ID, err)
		}
	}
	for _, cd := range md.Commands {
		if err := l.buildCommand(cd, b); err != nil {
			return fmt.Errorf("nodedef: module %q: %w", md.ID, err)
		}
	}
	return nil
}

func (l *loader) buildParameter(pd parameterDef, b Builder) error {
	if pd.ID == "" {
		return fmt.Errorf("parameter id is required")
	}
	shape, err := pd.Type.build()
	if err != nil {
		return fmt.Errorf("parameter %q: %w", pd.ID, err)
	}
	p := secopmodel.NewParameter(pd.ID, shape, pd.ReadOnly, pd.Constant, variant.Zero(shape))
	if pd.Description != "" {
		p.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), pd.Description)))
	}
	for name, v := range pd.Properties {
		prop, err := scalarProperty(name, v)
		if err != nil {
			return fmt.Errorf("parameter %q property %q: %w", pd.ID, name, err)
		}
		p.AddProperty(prop)
	}
	if pd.Wasm != "" {
		h, err := l.handlerFor(pd.Wasm)
		if err != nil {
			return fmt.Errorf("parameter %q: loading wasm handler %s: %w", pd.ID, pd.Wasm, err)
		}
		p.SetHandlers(h.Getter(pd.ID, shape), h.Setter(pd.ID, shape))
	}
	return b.AddParameter(p)
}

func (l *loader) buildCommand(cd commandDef, b Builder) error {
	if cd.ID == "" {
		return fmt.Errorf("command id is required")
	}
	var argShape, resultShape *variant.Shape
	if cd.Arg != nil {
		s, err := cd.Arg.build()
		if err != nil {
			return fmt.Errorf("command %q arg: %w", cd.ID, err)
		}
		argShape = s
	}
	if cd.Result != nil {
		s, err := cd.Result.build()
		if err != nil {
			return fmt.Errorf("command %q result: %w", cd.ID, err)
		}
		resultShape = s
	}
	c := secopmodel.NewCommand(cd.ID, variant.NewCommandShape(argShape, resultShape))
	if cd.Description != "" {
		c.AddProperty(property.New("description", variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), cd.Description)))
	}
	for name, v := range cd.Properties {
		prop, err := scalarProperty(name, v)
		if err != nil {
			return fmt.Errorf("command %q property %q: %w", cd.ID, name, err)
		}
		c.AddProperty(prop)
	}
	if cd.Wasm != "" {
		h, err := l.handlerFor(cd.Wasm)
		if err != nil {
			return fmt.Errorf("command %q: loading wasm handler %s: %w", cd.ID, cd.Wasm, err)
		}
		c.SetHandler(h.Doer(cd.ID, resultShape))
	}
	return b.AddCommand(c)
}

// scalarProperty converts a TOML-decoded value (string, bool, int64, float64)
// into a property.Property of the matching Variant kind. Extra user
// properties in a node definition are almost always one of these.
func scalarProperty(name string, v any) (*property.Property, error) {
	switch val := v.(type) {
	case string:
		return property.New(name, variant.String(variant.NewStringShape(variant.StringPlain, 0, 0, false), val)), nil
	case bool:
		return property.New(name, variant.Bool(variant.NewBoolShape(), val)), nil
	case int64:
		return property.New(name, variant.Integer(variant.NewIntegerShape(nil, nil), val)), nil
	case float64:
		return property.New(name, variant.Double(variant.NewDoubleShape("", "", nil, nil, nil, nil), val)), nil
	case []interface{}:
		// A TOML array property (e.g. interface_class = ["readable"]) is
		// stored as a JSON-sub-kind string, matching how the catalog's
		// AnyJSON entries are represented elsewhere (spec §4.2).
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		return property.New(name, variant.String(variant.NewStringShape(variant.StringJSON, 0, 0, false), string(raw))), nil
	default:
		return nil, fmt.Errorf("unsupported property value type %T", v)
	}
}
