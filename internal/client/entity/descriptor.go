package entity

import (
	"errors"
	"slices"
)

// DefaultIDAttribute is the identity attribute used when a type does not
// name one.
const DefaultIDAttribute = "id"

// DescriptorConfig is the static, per-type input to NewDescriptor. Nil
// field lists select every schema field.
type DescriptorConfig struct {
	ServerName  string
	VerboseName string
	IDAttribute string

	// Schema is the ordered list of fields the type declares.
	Schema []string
	// References names the schema fields holding reference-typed values.
	References []string

	InfoFields        []string
	ExcludeInfoFields []string
	FormFields        []string
	ExcludeFormFields []string
	ItemFields        []string
}

// Descriptor is the immutable configuration of a record type. Field lists
// are resolved once, at construction.
type Descriptor struct {
	serverName  string
	verboseName string
	idAttribute string
	schema      []string
	references  map[string]struct{}
	info        []string
	form        []string
	item        []string
}

// NewDescriptor resolves cfg into a Descriptor. Unless overridden, the
// identity attribute is excluded from the info and form field lists.
func NewDescriptor(cfg DescriptorConfig) (*Descriptor, error) {
	if cfg.ServerName == "" {
		return nil, errors.New("server name required")
	}
	d := &Descriptor{
		serverName:  cfg.ServerName,
		verboseName: cfg.VerboseName,
		idAttribute: cfg.IDAttribute,
		schema:      slices.Clone(cfg.Schema),
		references:  make(map[string]struct{}, len(cfg.References)),
	}
	if d.idAttribute == "" {
		d.idAttribute = DefaultIDAttribute
	}
	if d.verboseName == "" {
		d.verboseName = cfg.ServerName
	}
	for _, f := range cfg.References {
		d.references[f] = struct{}{}
	}

	excludeInfo := cfg.ExcludeInfoFields
	if excludeInfo == nil {
		excludeInfo = []string{d.idAttribute}
	}
	excludeForm := cfg.ExcludeFormFields
	if excludeForm == nil {
		excludeForm = []string{d.idAttribute}
	}
	d.info = resolveFields(d.schema, cfg.InfoFields, excludeInfo)
	d.form = resolveFields(d.schema, cfg.FormFields, excludeForm)
	d.item = resolveFields(d.schema, cfg.ItemFields, nil)
	return d, nil
}

// MustDescriptor is like NewDescriptor but panics on error. It is meant
// for package-level type declarations.
func MustDescriptor(cfg DescriptorConfig) *Descriptor {
	d, err := NewDescriptor(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

func resolveFields(schema, selected, exclude []string) []string {
	fields := schema
	if selected != nil {
		fields = selected
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(exclude, f) {
			out = append(out, f)
		}
	}
	return out
}

func (d *Descriptor) ServerName() string  { return d.serverName }
func (d *Descriptor) VerboseName() string { return d.verboseName }
func (d *Descriptor) IDAttribute() string { return d.idAttribute }

// URLRoot is the collection endpoint of the type.
func (d *Descriptor) URLRoot() string { return "/rest/" + d.serverName + "/" }

// IsReference reports whether field holds reference-typed values.
func (d *Descriptor) IsReference(field string) bool {
	_, ok := d.references[field]
	return ok
}

func (d *Descriptor) Schema() []string     { return slices.Clone(d.schema) }
func (d *Descriptor) InfoFields() []string { return slices.Clone(d.info) }
func (d *Descriptor) FormFields() []string { return slices.Clone(d.form) }
func (d *Descriptor) ItemFields() []string { return slices.Clone(d.item) }

// wrap converts a decoded server value into a Value according to the
// field's declared kind.
func (d *Descriptor) wrap(field string, v any) Value {
	if d.IsReference(field) {
		return Reference(v)
	}
	return Scalar(v)
}
