package nodedef

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/secop-sine2020/secopd/internal/registry"
)

const fixture = `
[node]
equipment_id = "cryo1"
description = "test cryostat"

[[node.modules]]
id = "T"
description = "sample temperature"

[[node.modules.parameters]]
id = "value"
description = "regulation temperature"
readonly = true

  [node.modules.parameters.type]
  kind = "double"
  unit = "K"
  min = 0.0
  max = 500.0

[[node.modules.parameters]]
id = "target"
description = "setpoint"
readonly = false

  [node.modules.parameters.type]
  kind = "double"
  unit = "K"

[[node.modules.commands]]
id = "stop"
description = "abort regulation"
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadBuildsNodeTree(t *testing.T) {
	path := writeFixture(t)
	r := registry.New(0)

	n, closeNodeDef, err := Load(context.Background(), path, r)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer closeNodeDef()
	if n.ID() != "cryo1" {
		t.Fatalf("node id = %q, want cryo1", n.ID())
	}

	m, ok := n.Module("T")
	if !ok {
		t.Fatal("module T not found")
	}
	value, ok := m.Parameter("value")
	if !ok {
		t.Fatal("parameter value not found")
	}
	if !value.ReadOnly() {
		t.Error("value should be readonly per fixture")
	}
	target, ok := m.Parameter("target")
	if !ok {
		t.Fatal("parameter target not found")
	}
	if target.ReadOnly() {
		t.Error("target should be writable per fixture")
	}
	if _, ok := m.Command("stop"); !ok {
		t.Fatal("command stop not found")
	}
	if _, ok := n.Property("firmware"); !ok {
		t.Fatal("expected Load to seed a default \"firmware\" property")
	}
}

func TestLoadRejectsMissingEquipmentID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("[node]\ndescription = \"no id\"\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	r := registry.New(0)
	if _, _, err := Load(context.Background(), path, r); err == nil {
		t.Fatal("expected an error for a node definition missing equipment_id")
	}
}

func TestLoadRejectsUnknownDatainfoKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	body := `
[node]
equipment_id = "n"

[[node.modules]]
id = "m"

[[node.modules.parameters]]
id = "p"

  [node.modules.parameters.type]
  kind = "vector3"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	r := registry.New(0)
	if _, _, err := Load(context.Background(), path, r); err == nil {
		t.Fatal("expected an error for an unknown datainfo kind")
	}
}

func TestLoadRejectsMissingWasmFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	body := `
[node]
equipment_id = "n"

[[node.modules]]
id = "m"

[[node.modules.parameters]]
id = "p"
wasm = "/nonexistent/does-not-exist.wasm"

  [node.modules.parameters.type]
  kind = "double"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	r := registry.New(0)
	if _, _, err := Load(context.Background(), path, r); err == nil {
		t.Fatal("expected an error for a parameter referencing a missing wasm file")
	}
}
