package driver

// OptionExample is one enumerated choice for an Option, mirrored from the
// teacher's fs.OptionExample (backend/s3/s3.go's provider list is the
// canonical user of this shape).
type OptionExample struct {
	Value string
	Help  string
}

// Option describes one field of a driver's configuration schema. The
// admin collaborator renders a form from a Kind's Options; the Factory
// validates a submitted config_json against them before construction.
type Option struct {
	Name      string
	Help      string
	Default   any
	Required  bool
	Sensitive bool // rendered as format:"password" in the JSON schema
	Type      string // "string", "number", "bool"; empty means "string"
	Examples  []OptionExample
}

// Schema is the JSON-schema-ish configuration description for one driver
// kind, built from its Options.
type Schema struct {
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is one field of a Schema.
type SchemaProperty struct {
	Type      string   `json:"type"`
	Format    string   `json:"format,omitempty"`
	Default   any      `json:"default,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	EnumNames []string `json:"enumNames,omitempty"`
	Help      string   `json:"help,omitempty"`
}

// BuildSchema renders a Schema from a list of Options, the way the admin
// UI collaborator expects (spec §6 Configuration schema).
func BuildSchema(opts []Option) Schema {
	s := Schema{Properties: map[string]SchemaProperty{}}
	for _, o := range opts {
		typ := o.Type
		if typ == "" {
			typ = "string"
		}
		p := SchemaProperty{Type: typ, Default: o.Default, Help: o.Help}
		if o.Sensitive {
			p.Format = "password"
		}
		for _, ex := range o.Examples {
			p.Enum = append(p.Enum, ex.Value)
			p.EnumNames = append(p.EnumNames, ex.Help)
		}
		s.Properties[o.Name] = p
		if o.Required {
			s.Required = append(s.Required, o.Name)
		}
	}
	return s
}

// ConfigError describes which field of a submitted configuration failed
// validation, per spec §4.2 ("a structured ConfigError describing which
// field failed").
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "config field " + e.Field + ": " + e.Reason
}

// Config is the opaque, validated configuration object handed to a
// constructor. It is a generic string-keyed map so unknown properties
// round-trip untouched (spec §6), mirrored from the teacher's
// fs/config/configmap.Simple.
type Config map[string]string

func (c Config) Get(key string) (string, bool) {
	v, ok := c[key]
	return v, ok
}

func (c Config) GetDefault(key, def string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return def
}
