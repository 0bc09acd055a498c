package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cocinero/cocinero/pkg/engine"
)

// Parser turns recipe documents into engine documents. Validation is layered:
// a strict typed decode, struct tags, per-kind key checks and finally the
// decoded file is unified with the CUE #Recipe schema.
type Parser struct {
	schema   *Schema
	validate *validator.Validate
	logger   zerolog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithParserLogger sets the logger used for parse diagnostics.
func WithParserLogger(logger zerolog.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a parser with a compiled recipe schema.
func NewParser(opts ...ParserOption) (*Parser, error) {
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	p := &Parser{
		schema:   schema,
		validate: newValidator(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// newValidator reports fields by their recipe key names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// FormatFromPath infers the recipe format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported recipe format: %s", path)
	}
}

// Parse parses data in format into a document named name whose relative paths
// resolve against baseDir. All failures are ParseDefect errors.
func (p *Parser) Parse(data []byte, format Format, name, baseDir string) (*engine.Document, error) {
	var file File
	if err := decodeStrict(data, format, &file); err != nil {
		return nil, parseError(name, "failed to decode recipe", err)
	}

	if err := p.validate.Struct(&file); err != nil {
		return nil, parseError(name, "invalid recipe", formatValidationErrors(err))
	}

	for i, rec := range *file.Steps {
		if err := p.validate.Struct(rec); err != nil {
			return nil, parseError(name, "invalid step", formatValidationErrors(err)).
				WithStep(i, engine.StepKind(rec.Kind))
		}
		if err := checkStepKeys(rec); err != nil {
			return nil, parseError(name, "invalid step", err).
				WithStep(i, engine.StepKind(rec.Kind))
		}
	}

	if problems := p.schema.Validate(&file); len(problems) > 0 {
		e := parseError(name, "recipe does not match schema", errors.New(problems[0].Message)).
			WithCode(engine.ErrCodeValidation).
			WithDetail("problems", problems)
		if problems[0].Path != "" {
			e = e.WithDetail("path", problems[0].Path)
		}
		return nil, e
	}

	doc, err := toDocument(&file, name, baseDir)
	if err != nil {
		return nil, parseError(name, "invalid template_vars", err)
	}

	p.logger.Debug().
		Str("recipe", name).
		Int("steps", len(doc.Steps)).
		Int("template_vars", len(doc.TemplateVars)).
		Msg("Parsed recipe")
	return doc, nil
}

func parseError(name, msg string, err error) *engine.EngineError {
	return engine.NewParseError(msg, err).WithRecipe(name)
}

func decodeStrict(data []byte, format Format, file *File) error {
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(file); err != nil {
			return describeTOMLError(err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(file); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	default:
		return fmt.Errorf("unsupported recipe format: %q", format)
	}
	return nil
}

func describeTOMLError(err error) error {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		keys := make([]string, 0, len(strict.Errors))
		for _, e := range strict.Errors {
			keys = append(keys, strings.Join(e.Key(), "."))
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	var decodeErr *toml.DecodeError
	if errors.As(err, &decodeErr) {
		row, col := decodeErr.Position()
		return fmt.Errorf("line %d, column %d: %w", row, col, err)
	}
	return err
}

// checkStepKeys rejects missing keys of the step's kind and keys that belong
// to another kind.
func checkStepKeys(rec StepRecord) error {
	rules := kindFields[rec.Kind]
	set := rec.fields()

	for _, key := range rules.required {
		v, ok := set[key]
		if !ok {
			return fmt.Errorf("%s step requires %q", rec.Kind, key)
		}
		if *v == "" {
			return fmt.Errorf("%s step has empty %q", rec.Kind, key)
		}
		delete(set, key)
	}
	for _, key := range rules.optional {
		delete(set, key)
	}

	if len(set) > 0 {
		extra := make([]string, 0, len(set))
		for key := range set {
			extra = append(extra, key)
		}
		sort.Strings(extra)
		return fmt.Errorf("%s step does not accept %s", rec.Kind, strings.Join(extra, ", "))
	}
	return nil
}

func toDocument(file *File, name, baseDir string) (*engine.Document, error) {
	doc := &engine.Document{
		Name:         name,
		BaseDir:      baseDir,
		Packages:     file.Packages,
		SystemdUnits: file.Systemd,
		Steps:        make([]engine.Step, 0, len(*file.Steps)),
	}

	for i, raw := range file.TemplateVars {
		vars, err := toVariableSet(raw)
		if err != nil {
			return nil, fmt.Errorf("template_vars[%d]: %w", i, err)
		}
		doc.TemplateVars = append(doc.TemplateVars, vars)
	}

	for _, rec := range *file.Steps {
		doc.Steps = append(doc.Steps, toStep(rec))
	}
	return doc, nil
}

func toStep(rec StepRecord) engine.Step {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}

	switch engine.StepKind(rec.Kind) {
	case engine.StepKindShell:
		return &engine.ShellStep{Template: rec.Template, Cmd: deref(rec.Cmd)}
	case engine.StepKindRun:
		return &engine.RunStep{Template: rec.Template, Script: deref(rec.Script)}
	default:
		return &engine.InstallStep{
			Template: rec.Template,
			Src:      deref(rec.Src),
			Dest:     deref(rec.Dest),
			Mode:     deref(rec.Mode),
			Alias:    rec.Kind == string(engine.StepKindCopy),
		}
	}
}

// toVariableSet converts scalar values to their string form. Tables and
// arrays are rejected.
func toVariableSet(raw map[string]interface{}) (engine.VariableSet, error) {
	vars := make(engine.VariableSet, len(raw))
	for key, value := range raw {
		s, err := scalarString(value)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", key, err)
		}
		vars[key] = s
	}
	return vars, nil
}

func scalarString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", value)
	}
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
