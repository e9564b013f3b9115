package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-dcl/device"
	"github.com/arloliu/go-dcl/fm"
)

//go:embed schema/hardware-v1.json
var hardwareSchemaJSON string

const hardwareSchemaName = "hardware-v1.json"

// Hardware is the in-memory hardware description.
type Hardware struct {
	Nodes   []Node   `yaml:"nodes"`
	Devices []Device `yaml:"devices"`
}

// Node is one slave node and the function modules it hosts.
type Node struct {
	Name    string   `yaml:"name"`
	Type    uint8    `yaml:"type"`
	Index   uint8    `yaml:"index"`
	Modules []Module `yaml:"modules"`
}

// Module is one function module of a node.
type Module struct {
	Key        string         `yaml:"key"`
	Channel    uint8          `yaml:"channel"`
	ObjectType string         `yaml:"object_type"`
	Params     map[string]any `yaml:"params"`
}

// Device is one device and the roles its modules play.
type Device struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Modules []RoleBinding  `yaml:"modules"`
	Params  map[string]any `yaml:"params"`
}

// RoleBinding binds a device role to a module key.
type RoleBinding struct {
	Role   string `yaml:"role"`
	Module string `yaml:"module"`
}

// Handle returns the handle of module m on node n.
func (n Node) Handle(m Module) fm.Handle {
	return fm.NewHandle(n.Type, n.Index, m.Channel)
}

// DeviceSpec converts the device description into the device factory input.
func (d Device) DeviceSpec() device.Spec {
	refs := make([]device.ModuleRef, 0, len(d.Modules))
	for _, b := range d.Modules {
		refs = append(refs, device.ModuleRef{Role: b.Role, Key: b.Module})
	}

	return device.Spec{Name: d.Name, Type: d.Type, Modules: refs, Params: d.Params}
}

// Validator validates hardware descriptions against the embedded JSON schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded hardware schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource(hardwareSchemaName, strings.NewReader(hardwareSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(hardwareSchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks a YAML hardware description against the schema.
func (v *Validator) Validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: invalid YAML: %w", fm.ErrConfigInvalid, err)
	}

	// the schema validator works on JSON values only
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", fm.ErrConfigInvalid, err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("%w: %w", fm.ErrConfigInvalid, err)
	}

	if err := v.schema.Validate(value); err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", fm.ErrConfigInvalid, err)
	}

	return nil
}

// LoadHardware reads, validates and decodes the hardware description at path.
func LoadHardware(path string) (*Hardware, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hardware description: %w", err)
	}

	return ParseHardware(data)
}

// ParseHardware validates and decodes a YAML hardware description.
func ParseHardware(data []byte) (*Hardware, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Validate(data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var hw Hardware
	if err := dec.Decode(&hw); err != nil {
		return nil, fmt.Errorf("%w: %w", fm.ErrConfigInvalid, err)
	}

	if err := hw.Validate(); err != nil {
		return nil, err
	}

	return &hw, nil
}

// Validate checks the cross references the schema cannot express: unique node
// addresses, unique module keys and handles, and device roles naming known modules.
func (hw *Hardware) Validate() error {
	var errs []error

	nodes := make(map[fm.NodeKey]string)
	keys := make(map[string]struct{})
	handles := make(map[fm.Handle]string)

	for _, n := range hw.Nodes {
		nk := fm.NodeKey{Type: n.Type, Index: n.Index}
		if other, ok := nodes[nk]; ok {
			errs = append(errs, fmt.Errorf("node %s: address %s already used by %s", n.Name, nk, other))
		}
		nodes[nk] = n.Name

		for _, m := range n.Modules {
			if _, ok := keys[m.Key]; ok {
				errs = append(errs, fmt.Errorf("module %s: duplicate key", m.Key))
			}
			keys[m.Key] = struct{}{}

			h := n.Handle(m)
			if other, ok := handles[h]; ok {
				errs = append(errs, fmt.Errorf("module %s: handle %s already used by %s", m.Key, h, other))
			}
			handles[h] = m.Key
		}
	}

	names := make(map[string]struct{})
	for _, d := range hw.Devices {
		if _, ok := names[d.Name]; ok {
			errs = append(errs, fmt.Errorf("device %s: duplicate name", d.Name))
		}
		names[d.Name] = struct{}{}

		for _, b := range d.Modules {
			if _, ok := keys[b.Module]; !ok {
				errs = append(errs, fmt.Errorf("device %s: role %s refers to unknown module %s", d.Name, b.Role, b.Module))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", fm.ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}
