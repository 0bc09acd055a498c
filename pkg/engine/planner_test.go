package engine

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_BuildPlan_StepOrder(t *testing.T) {
	fs := newFakeFS().
		add("/recipes/web/nginx.conf", "worker_processes 1;", 0o644).
		add("/recipes/web/setup.sh", "#!/bin/sh", 0o755)

	doc := &Document{
		Name:    "web",
		BaseDir: "/recipes/web",
		Steps: []Step{
			&InstallStep{Src: "nginx.conf", Dest: "/etc/nginx/nginx.conf", Mode: "600"},
			&ShellStep{Cmd: "nginx -t"},
			&RunStep{Script: "setup.sh"},
		},
	}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 3)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, []string{"web"}, plan.Recipes)

	write := plan.Actions[0]
	assert.Equal(t, ActionWriteFile, write.Kind)
	assert.Equal(t, "/etc/nginx/nginx.conf", write.Path)
	assert.Equal(t, "/recipes/web/nginx.conf", write.Source)
	assert.Equal(t, "worker_processes 1;", string(write.Content))
	assert.Equal(t, os.FileMode(0o600), write.Mode)
	assert.Equal(t, StepKindInstall, write.StepKind)
	assert.Equal(t, -1, write.VarsIndex)

	shell := plan.Actions[1]
	assert.Equal(t, ActionExecShell, shell.Kind)
	assert.Equal(t, "nginx -t", shell.Command)
	assert.Equal(t, "/recipes/web", shell.Dir)
	assert.Equal(t, 1, shell.StepIndex)

	script := plan.Actions[2]
	assert.Equal(t, ActionExecScript, script.Kind)
	assert.Equal(t, "/recipes/web/setup.sh", script.Path)
	assert.False(t, script.NeedsExecutable)

	assert.Empty(t, fs.writes, "building a plan must not write")
}

func TestPlanner_BuildPlan_ModeFromSource(t *testing.T) {
	fs := newFakeFS().add("/r/motd", "hello", 0o640)
	doc := &Document{
		Name:    "motd",
		BaseDir: "/r",
		Steps:   []Step{&InstallStep{Src: "motd", Dest: "/etc/motd"}},
	}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), plan.Actions[0].Mode)
}

func TestPlanner_BuildPlan_CopyAlias(t *testing.T) {
	fs := newFakeFS().add("/r/a", "x", 0o644)
	doc := &Document{
		Name:    "alias",
		BaseDir: "/r",
		Steps:   []Step{&InstallStep{Src: "a", Dest: "/tmp/a", Alias: true}},
	}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, ActionWriteFile, plan.Actions[0].Kind)
	assert.Equal(t, StepKindCopy, plan.Actions[0].StepKind)
}

func TestPlanner_BuildPlan_Templated(t *testing.T) {
	fs := newFakeFS().add("/r/site.conf", "server_name {{host}};\nlisten {{port}};\n", 0o644)
	doc := &Document{
		Name:    "sites",
		BaseDir: "/r",
		TemplateVars: []VariableSet{
			{"host": "a.example", "port": "80"},
			{"host": "b.example", "port": "8080"},
		},
		Steps: []Step{
			&InstallStep{Template: true, Src: "site.conf", Dest: "/etc/nginx/sites/{{host}}.conf"},
			&ShellStep{Template: true, Cmd: "curl -s http://{{host}}:{{port}}/"},
			&ShellStep{Cmd: "echo {{host}}"},
		},
	}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 5)

	assert.Equal(t, "/etc/nginx/sites/a.example.conf", plan.Actions[0].Path)
	assert.Equal(t, "server_name a.example;\nlisten 80;\n", string(plan.Actions[0].Content))
	assert.Equal(t, "/etc/nginx/sites/b.example.conf", plan.Actions[1].Path)
	assert.Equal(t, 1, plan.Actions[1].VarsIndex)
	assert.Equal(t, "curl -s http://a.example:80/", plan.Actions[2].Command)
	assert.Equal(t, "curl -s http://b.example:8080/", plan.Actions[3].Command)
	// non-templated steps are taken verbatim
	assert.Equal(t, "echo {{host}}", plan.Actions[4].Command)
}

func TestPlanner_BuildPlan_TemplatedWithoutVars(t *testing.T) {
	doc := &Document{
		Name:  "empty",
		Steps: []Step{&ShellStep{Template: true, Cmd: "echo {{x}}"}, &ShellStep{Cmd: "true"}},
	}

	plan, err := NewPlanner(newFakeFS()).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "true", plan.Actions[0].Command)
}

func TestPlanner_BuildPlan_Errors(t *testing.T) {
	fs := newFakeFS().
		add("/r/conf", "port={{port}}", 0o644).
		add("/r/script.sh", "#!/bin/sh", 0o644)

	tests := []struct {
		name     string
		doc      *Document
		wantKind ErrorKind
		wantStep int
	}{
		{
			name:     "missing install source",
			doc:      &Document{Name: "r", BaseDir: "/r", Steps: []Step{&ShellStep{Cmd: "true"}, &InstallStep{Src: "nope", Dest: "/x"}}},
			wantKind: ErrorKindSourceNotFound,
			wantStep: 1,
		},
		{
			name:     "missing script",
			doc:      &Document{Name: "r", BaseDir: "/r", Steps: []Step{&RunStep{Script: "missing.sh"}}},
			wantKind: ErrorKindSourceNotFound,
			wantStep: 0,
		},
		{
			name:     "invalid mode",
			doc:      &Document{Name: "r", BaseDir: "/r", Steps: []Step{&InstallStep{Src: "conf", Dest: "/x", Mode: "rwx"}}},
			wantKind: ErrorKindInvalidMode,
			wantStep: 0,
		},
		{
			name: "undefined variable in command",
			doc: &Document{
				Name: "r", BaseDir: "/r",
				TemplateVars: []VariableSet{{"port": "1"}},
				Steps:        []Step{&ShellStep{Template: true, Cmd: "echo {{host}}"}},
			},
			wantKind: ErrorKindUndefinedVariable,
			wantStep: 0,
		},
		{
			name: "undefined variable in file content",
			doc: &Document{
				Name: "r", BaseDir: "/r",
				TemplateVars: []VariableSet{{"host": "a"}},
				Steps:        []Step{&InstallStep{Template: true, Src: "conf", Dest: "/{{host}}"}},
			},
			wantKind: ErrorKindUndefinedVariable,
			wantStep: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlanner(fs).BuildPlan(context.Background(), tt.doc)
			require.Error(t, err)
			assert.Nil(t, plan, "a failed build yields no plan")

			var e *EngineError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, "r", e.Recipe)
			assert.Equal(t, tt.wantStep, e.StepIndex)
			assert.True(t, e.Kind.IsBuildTime())
		})
	}
	assert.Empty(t, fs.writes)
}

func TestPlanner_BuildPlan_LaterFailureDiscardsEarlierActions(t *testing.T) {
	fs := newFakeFS().add("/r/a", "a", 0o644)
	doc := &Document{
		Name:    "r",
		BaseDir: "/r",
		Steps: []Step{
			&InstallStep{Src: "a", Dest: "/etc/a"},
			&ShellStep{Cmd: "echo ok"},
			&RunStep{Script: "gone.sh"},
		},
	}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	assert.Nil(t, plan)
	assert.True(t, IsSourceNotFound(err))
}

func TestPlanner_BuildPlan_ScriptNeedsExecutable(t *testing.T) {
	fs := newFakeFS().add("/r/script.sh", "#!/bin/sh", 0o644)
	doc := &Document{Name: "r", BaseDir: "/r", Steps: []Step{&RunStep{Script: "script.sh"}}}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, plan.Actions[0].NeedsExecutable)
	assert.Equal(t, os.FileMode(0o644), fs.files["/r/script.sh"].mode, "planning leaves the script untouched")
}

func TestPlanner_BuildPlan_MultipleDocuments(t *testing.T) {
	fs := newFakeFS()
	docs := []*Document{
		{Name: "one", Packages: []string{"nginx", "curl"}, SystemdUnits: []string{"nginx.service"}, Steps: []Step{&ShellStep{Cmd: "echo 1"}}},
		{Name: "two", Packages: []string{"curl", "git"}, SystemdUnits: []string{"nginx.service", "app.service"}, Steps: []Step{&ShellStep{Cmd: "echo 2"}}},
	}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), docs...)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, plan.Recipes)
	assert.Equal(t, []string{"nginx", "curl", "git"}, plan.Packages)
	assert.Equal(t, []string{"nginx.service", "app.service"}, plan.SystemdUnits)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, "two", plan.Actions[1].Recipe)
	assert.Equal(t, 0, plan.Actions[1].StepIndex)
}

func TestPlanner_BuildPlan_Root(t *testing.T) {
	fs := newFakeFS().add("/r/motd", "hi", 0o644)
	doc := &Document{Name: "r", BaseDir: "/r", Steps: []Step{&InstallStep{Src: "motd", Dest: "/etc/motd"}}}

	plan, err := NewPlanner(fs, WithRoot("/tmp/sysroot")).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sysroot/etc/motd", plan.Actions[0].Path)
}

func TestPlanner_BuildPlan_RelativeDest(t *testing.T) {
	fs := newFakeFS().add("/r/a", "a", 0o644)
	doc := &Document{Name: "r", BaseDir: "/r", Steps: []Step{&InstallStep{Src: "a", Dest: "out/a"}}}

	plan, err := NewPlanner(fs).BuildPlan(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "/r/out/a", plan.Actions[0].Path)
}

func TestPlanner_BuildPlan_Invalid(t *testing.T) {
	p := NewPlanner(newFakeFS())

	_, err := p.BuildPlan(context.Background())
	assert.True(t, IsParseDefect(err))

	_, err = p.BuildPlan(context.Background(), nil)
	assert.True(t, IsParseDefect(err))

	_, err = p.BuildPlan(context.Background(), &Document{Name: "r", Steps: []Step{nil}})
	assert.True(t, IsParseDefect(err))
}

func TestPlanner_BuildPlan_EmptySteps(t *testing.T) {
	plan, err := NewPlanner(newFakeFS()).BuildPlan(context.Background(), &Document{Name: "noop", Packages: []string{"vim"}})
	require.NoError(t, err)
	assert.Empty(t, plan.Actions)
	assert.Equal(t, []string{"vim"}, plan.Packages)
}

func TestPlanner_BuildPlan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPlanner(newFakeFS()).BuildPlan(ctx, &Document{Name: "r", Steps: []Step{&ShellStep{Cmd: "true"}}})
	assert.True(t, IsCancelled(err))
}

func TestBuildPlan_Wrapper(t *testing.T) {
	_, err := BuildPlan(context.Background(), newFakeFS(), &Document{Name: "r", Steps: []Step{&RunStep{Script: "/nope"}}})
	require.Error(t, err)
	assert.True(t, IsSourceNotFound(err), "wrapping keeps the error kind")
}
