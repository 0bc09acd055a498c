package recipe

// File is the on-disk shape of a recipe, shared by the TOML and YAML formats.
type File struct {
	// Packages are installed after a completed run.
	Packages []string `toml:"packages" yaml:"packages" json:"packages,omitempty" validate:"dive,required"`

	// Systemd lists units enabled and reloaded after packages.
	Systemd []string `toml:"systemd" yaml:"systemd" json:"systemd,omitempty" validate:"dive,required"`

	// TemplateVars are the variable sets templated steps repeat over.
	TemplateVars []map[string]interface{} `toml:"template_vars" yaml:"template_vars" json:"template_vars,omitempty"`

	// Steps is required; an empty list is a valid no-op recipe.
	Steps *[]StepRecord `toml:"steps" yaml:"steps" json:"steps" validate:"required"`
}

// StepRecord is one step table. Kind-specific keys are pointers so that a
// key given for the wrong kind can be told apart from an absent one.
type StepRecord struct {
	Kind     string  `toml:"kind" yaml:"kind" json:"kind" validate:"required,oneof=install copy shell run"`
	Template bool    `toml:"template" yaml:"template" json:"template,omitempty"`
	Src      *string `toml:"src" yaml:"src" json:"src,omitempty"`
	Dest     *string `toml:"dest" yaml:"dest" json:"dest,omitempty"`
	Mode     *string `toml:"mode" yaml:"mode" json:"mode,omitempty"`
	Cmd      *string `toml:"cmd" yaml:"cmd" json:"cmd,omitempty"`
	Script   *string `toml:"script" yaml:"script" json:"script,omitempty"`
}

// kindFields lists, per kind, the kind-specific keys that are required and
// those that are allowed.
var kindFields = map[string]struct {
	required []string
	optional []string
}{
	"install": {required: []string{"src", "dest"}, optional: []string{"mode"}},
	"copy":    {required: []string{"src", "dest"}, optional: []string{"mode"}},
	"shell":   {required: []string{"cmd"}},
	"run":     {required: []string{"script"}},
}

// fields returns the kind-specific keys that are set on the record.
func (s StepRecord) fields() map[string]*string {
	set := make(map[string]*string)
	for name, v := range map[string]*string{
		"src": s.Src, "dest": s.Dest, "mode": s.Mode, "cmd": s.Cmd, "script": s.Script,
	} {
		if v != nil {
			set[name] = v
		}
	}
	return set
}

// Format is a recipe file format.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FileNames are the recipe file names recognised in a recipe directory, in
// order of preference.
var FileNames = []string{"recipe.toml", "recipe.yaml", "recipe.yml"}

// ValidationError describes one problem found in a recipe.
type ValidationError struct {
	// File is the recipe file path.
	File string `json:"file,omitempty"`

	// Path is the location within the document, such as "steps[2].mode".
	Path string `json:"path,omitempty"`

	// Line is the line number, when known.
	Line int `json:"line,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}
