package engine

import (
	"os"
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	vars := VariableSet{
		"name":  "web",
		"port":  "8080",
		"brace": "{{port}}",
		"empty": "",
	}

	tests := []struct {
		name    string
		tmpl    string
		want    string
		wantErr bool
	}{
		{name: "no placeholders", tmpl: "plain text", want: "plain text"},
		{name: "single", tmpl: "server {{name}}", want: "server web"},
		{name: "repeated", tmpl: "{{port}}:{{port}}", want: "8080:8080"},
		{name: "adjacent", tmpl: "{{name}}{{port}}", want: "web8080"},
		{name: "whitespace trimmed", tmpl: "{{ name }}", want: "web"},
		{name: "empty value", tmpl: "a{{empty}}b", want: "ab"},
		{name: "values not rescanned", tmpl: "x={{brace}}", want: "x={{port}}"},
		{name: "unterminated kept literal", tmpl: "a {{name} b", want: "a {{name} b"},
		{name: "unterminated after placeholder", tmpl: "{{name}} {{", want: "web {{"},
		{name: "single braces ignored", tmpl: "{name}", want: "{name}"},
		{name: "empty template", tmpl: "", want: ""},
		{name: "undefined", tmpl: "{{missing}}", wantErr: true},
		{name: "empty name", tmpl: "{{}}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Render() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !IsUndefinedVariable(err) {
					t.Errorf("expected undefined variable error, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_UndefinedVariableNamesVariable(t *testing.T) {
	_, err := Render("listen {{port}}", VariableSet{"host": "a"})
	if err == nil {
		t.Fatal("expected error")
	}
	e, ok := err.(*EngineError)
	if !ok {
		t.Fatalf("expected *EngineError, got %T", err)
	}
	if e.Details["variable"] != "port" {
		t.Errorf("variable detail = %v, want port", e.Details["variable"])
	}
	if e.Code != ErrCodeUndefinedVariable {
		t.Errorf("code = %s", e.Code)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{a}} {{ b }} {{a}} {{c")
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}

	if names := Placeholders("none"); len(names) != 0 {
		t.Errorf("expected no placeholders, got %v", names)
	}
}

func TestResolve(t *testing.T) {
	sets := []VariableSet{{"n": "1"}, {"n": "2"}, {"n": "3"}}

	t.Run("plain step yields one unit", func(t *testing.T) {
		units := Resolve(&ShellStep{Cmd: "echo"}, 4, sets)
		if len(units) != 1 {
			t.Fatalf("expected 1 unit, got %d", len(units))
		}
		if units[0].HasVars() || units[0].StepIndex != 4 {
			t.Errorf("unexpected unit %+v", units[0])
		}
	})

	t.Run("templated step yields one unit per set", func(t *testing.T) {
		units := Resolve(&ShellStep{Template: true, Cmd: "echo {{n}}"}, 0, sets)
		if len(units) != 3 {
			t.Fatalf("expected 3 units, got %d", len(units))
		}
		for i, u := range units {
			if u.VarsIndex != i || u.Vars["n"] != sets[i]["n"] {
				t.Errorf("unit %d = %+v", i, u)
			}
		}
	})

	t.Run("templated step without sets yields nothing", func(t *testing.T) {
		if units := Resolve(&RunStep{Template: true, Script: "x.sh"}, 0, nil); len(units) != 0 {
			t.Errorf("expected no units, got %d", len(units))
		}
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		special uint32
		wantErr bool
	}{
		{in: "644", want: 0o644},
		{in: "0644", want: 0o644},
		{in: "0o600", want: 0o600},
		{in: "755", want: 0o755},
		{in: "0", want: 0},
		{in: "4755", want: 0o755, special: uint32(0o4000)},
		{in: "1777", want: 0o777, special: uint32(0o1000)},
		{in: "", wantErr: true},
		{in: "rw-r--r--", wantErr: true},
		{in: "888", wantErr: true},
		{in: "17777", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			mode, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				if !IsInvalidMode(err) {
					t.Errorf("expected invalid mode error, got %v", err)
				}
				return
			}
			if uint32(mode.Perm()) != tt.want {
				t.Errorf("perm = %o, want %o", mode.Perm(), tt.want)
			}
			switch tt.special {
			case 0o4000:
				if mode&os.ModeSetuid == 0 {
					t.Error("setuid bit missing")
				}
			case 0o1000:
				if mode&os.ModeSticky == 0 {
					t.Error("sticky bit missing")
				}
			}
		})
	}
}
