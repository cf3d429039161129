package extension

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Well-known manifest fields.
const (
	FieldManifestVersion        = "manifest_version"
	FieldName                   = "name"
	FieldVersion                = "version"
	FieldAction                 = "action"
	FieldBrowserAction          = "browser_action"
	FieldBackground             = "background"
	FieldWebAccessibleResources = "web_accessible_resources"
)

// ErrInvalidManifest is returned when manifest contents cannot be used for a build.
var ErrInvalidManifest = errors.New("invalid manifest")

// Field is one top-level manifest entry.
type Field struct {
	Name  string
	Value gjson.Result
}

// Manifest is an extension descriptor kept as raw JSON so that field order
// and unknown fields survive every transformation.
type Manifest struct {
	raw           []byte
	schemaVersion int
	name          string
	version       string
}

// ParseManifest validates raw JSON and returns the manifest it describes.
func ParseManifest(raw []byte) (*Manifest, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidManifest)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidManifest)
	}

	schemaVersion := root.Get(FieldManifestVersion)
	if schemaVersion.Type != gjson.Number || schemaVersion.Float() != float64(schemaVersion.Int()) {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidManifest, FieldManifestVersion)
	}

	if v := schemaVersion.Int(); v != ManifestV2 && v != ManifestV3 {
		return nil, fmt.Errorf("%w: %s must be 2 or 3, got %d", ErrInvalidManifest, FieldManifestVersion, v)
	}

	version := root.Get(FieldVersion)
	if version.Type != gjson.String || version.String() == "" {
		return nil, fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidManifest, FieldVersion)
	}

	return &Manifest{
		raw:           raw,
		schemaVersion: int(schemaVersion.Int()),
		name:          root.Get(FieldName).String(),
		version:       version.String(),
	}, nil
}

// NewManifest starts an empty manifest declaring only its schema version.
func NewManifest(schemaVersion int) *Manifest {
	raw, _ := sjson.SetBytes([]byte("{}"), FieldManifestVersion, schemaVersion)

	return &Manifest{
		raw:           raw,
		schemaVersion: schemaVersion,
	}
}

// SchemaVersion returns manifest_version.
func (m *Manifest) SchemaVersion() int {
	return m.schemaVersion
}

// Name returns the extension name.
func (m *Manifest) Name() string {
	return m.name
}

// Version returns the extension version string.
func (m *Manifest) Version() string {
	return m.version
}

// Bytes returns the manifest JSON. Callers must not modify it.
func (m *Manifest) Bytes() []byte {
	return m.raw
}

// Get returns a top-level field.
func (m *Manifest) Get(name string) gjson.Result {
	return gjson.GetBytes(m.raw, gjson.Escape(name))
}

// Fields returns top-level fields in document order.
func (m *Manifest) Fields() []Field {
	var fields []Field

	gjson.ParseBytes(m.raw).ForEach(func(key, value gjson.Result) bool {
		fields = append(fields, Field{Name: key.String(), Value: value})
		return true
	})

	return fields
}

// SetRaw stores raw JSON under a top-level field, appending it when new.
func (m *Manifest) SetRaw(name string, raw string) error {
	updated, err := sjson.SetRawBytes(m.raw, gjson.Escape(name), []byte(raw))
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	return m.reload(updated)
}

// Set stores a Go value under a top-level field.
func (m *Manifest) Set(name string, value any) error {
	updated, err := sjson.SetBytes(m.raw, gjson.Escape(name), value)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	return m.reload(updated)
}

// Delete removes a top-level field.
func (m *Manifest) Delete(name string) error {
	updated, err := sjson.DeleteBytes(m.raw, gjson.Escape(name))
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	return m.reload(updated)
}

// EmptyFields lists fields whose value is null, "", [] or {}.
func (m *Manifest) EmptyFields() []string {
	var names []string

	for _, field := range m.Fields() {
		if isEmpty(field.Value) {
			names = append(names, field.Name)
		}
	}

	return names
}

func (m *Manifest) reload(raw []byte) error {
	root := gjson.ParseBytes(raw)

	m.raw = raw
	m.schemaVersion = int(root.Get(FieldManifestVersion).Int())
	m.name = root.Get(FieldName).String()
	m.version = root.Get(FieldVersion).String()

	return nil
}

func isEmpty(value gjson.Result) bool {
	switch {
	case value.Type == gjson.Null:
		return true
	case value.Type == gjson.String:
		return value.String() == ""
	case value.IsArray():
		return len(value.Array()) == 0
	case value.IsObject():
		return len(value.Map()) == 0
	default:
		return false
	}
}
