package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomikpanda/wayup/internal/actions"
	"github.com/atomikpanda/wayup/internal/backup"
	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/fsutil"
	"github.com/atomikpanda/wayup/internal/manifest"
	"github.com/atomikpanda/wayup/internal/plan"
	"github.com/atomikpanda/wayup/internal/shell"
	"github.com/atomikpanda/wayup/internal/template"
)

// scripted is a primitive whose result is chosen by the test.
type scripted struct {
	desc string
	err  error
	b    *fakeBuilder
}

func (s *scripted) Describe() string { return s.desc }

func (s *scripted) Run(ctx context.Context) error {
	s.b.ran = append(s.b.ran, s.desc)
	if s.b.onRun != nil {
		s.b.onRun(ctx, s.desc)
	}
	return s.err
}

type fakeBuilder struct {
	fail  map[string]error
	ran   []string
	onRun func(ctx context.Context, desc string)
}

func (b *fakeBuilder) Build(a plan.Action, _ *backup.Set) (actions.Action, error) {
	d := a.Describe()
	return &scripted{desc: d, err: b.fail[d], b: b}, nil
}

func newExecutor(b Builder) *Executor {
	x := New(b, nil)
	x.Now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return x
}

func pkg(name, manager string) plan.Action {
	return plan.Action{Kind: plan.InstallPackage, Target: name, Manager: manager, Phase: plan.PhaseCorePackages}
}

func TestFallbackOrdering(t *testing.T) {
	primary := pkg("hyprland", "dnf")
	f1 := pkg("hyprland", "flatpak")
	f2 := plan.Action{Kind: plan.RunCommand, Target: "hyprland", Source: "build-hyprland.sh"}
	primary.Fallbacks = []plan.Action{f1, f2}

	b := &fakeBuilder{fail: map[string]error{
		primary.Describe(): errors.New("No match for argument: hyprland"),
		f1.Describe():      errors.New("flatpak: not found in remote"),
	}}
	res := newExecutor(b).Execute(context.Background(), plan.New("fedora", primary), RunContext{})

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, SucceededViaFallback, o.Status)
	assert.Equal(t, 2, o.Fallback)
	require.Len(t, o.Attempts, 3)
	assert.Equal(t, "No match for argument: hyprland", o.Attempts[0].Error)
	assert.Equal(t, "flatpak: not found in remote", o.Attempts[1].Error, "fallback failure detail is retained")
	assert.Empty(t, o.Attempts[2].Error)
	assert.Equal(t, []string{primary.Describe(), f1.Describe(), f2.Describe()}, b.ran)
}

func TestFallbackExhausted(t *testing.T) {
	primary := pkg("eww", "pacman")
	fb := pkg("eww", "yay")
	primary.Fallbacks = []plan.Action{fb}

	b := &fakeBuilder{fail: map[string]error{
		primary.Describe(): errors.New("target not found"),
		fb.Describe():      errors.New("build failed"),
	}}
	next := pkg("waybar", "pacman")
	res := newExecutor(b).Execute(context.Background(), plan.New("arch", primary, next), RunContext{})

	require.Len(t, res.Outcomes, 2, "optional failure does not stop the plan")
	o := res.Outcomes[0]
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ReasonFallbackExhausted, o.Reason)
	assert.Equal(t, "build failed", o.Detail)
	assert.False(t, o.Aborted)
	assert.True(t, werrors.IsErrorCode(o.Err, werrors.ErrFallbackExhausted))
	assert.Equal(t, Succeeded, res.Outcomes[1].Status)
	assert.NoError(t, res.Err())
}

func TestRequiredFailureAborts(t *testing.T) {
	a := pkg("hyprland", "dnf")
	a.Required = true
	bAction := pkg("waybar", "dnf")

	b := &fakeBuilder{fail: map[string]error{a.Describe(): errors.New("boom")}}
	res := newExecutor(b).Execute(context.Background(), plan.New("fedora", a, bAction), RunContext{})

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, Failed, res.Outcomes[0].Status)
	assert.True(t, res.Outcomes[0].Aborted)
	assert.True(t, res.Aborted)
	assert.Equal(t, []string{a.Describe()}, b.ran, "B is never attempted")
	assert.True(t, werrors.IsErrorCode(res.Err(), werrors.ErrRequiredFailed))
}

func TestBestEffortNeverAborts(t *testing.T) {
	svc := plan.Action{Kind: plan.EnableService, Target: "pipewire", Scope: plan.ScopeUser, Required: true}
	env := plan.Action{Kind: plan.SetEnvVar, Target: "XDG_CURRENT_DESKTOP", Value: "Hyprland", Scope: plan.ScopeSession, Required: true}
	after := plan.Action{Kind: plan.RunCommand, Content: "true"}

	b := &fakeBuilder{fail: map[string]error{
		svc.Describe(): errors.New("Failed to connect to bus"),
		env.Describe(): errors.New("Failed to connect to bus"),
	}}
	res := newExecutor(b).Execute(context.Background(), plan.New("fedora", svc, env, after), RunContext{})

	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, Failed, res.Outcomes[0].Status)
	assert.False(t, res.Outcomes[0].Aborted)
	assert.Equal(t, Failed, res.Outcomes[1].Status)
	assert.False(t, res.Aborted)
}

func TestDryRunRecordsWouldRun(t *testing.T) {
	a := pkg("kitty", "dnf")
	a.Fallbacks = []plan.Action{pkg("kitty", "flatpak")}
	b := &fakeBuilder{}
	res := newExecutor(b).Execute(context.Background(), plan.New("fedora", a), RunContext{DryRun: true})

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, WouldRun, res.Outcomes[0].Status)
	assert.Equal(t, plan.New("fedora", a).At(0).DryRunDescription, res.Outcomes[0].Detail)
	assert.Contains(t, res.Outcomes[0].Detail, "fallbacks: 1) install package kitty via flatpak")
	assert.Empty(t, b.ran)
	assert.True(t, res.DryRun)
}

func TestCancellationFinishesCurrentAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inflight error
	b := &fakeBuilder{onRun: func(actx context.Context, desc string) {
		cancel()
		inflight = actx.Err()
	}}
	p := plan.New("arch", pkg("a", "pacman"), pkg("b", "pacman"), pkg("c", "pacman"))
	res := newExecutor(b).Execute(ctx, p, RunContext{})

	assert.NoError(t, inflight, "the running action is not cancelled")
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, Succeeded, res.Outcomes[0].Status)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 3, res.Planned)
	assert.True(t, werrors.IsErrorCode(res.Err(), werrors.ErrInterrupted))
}

func TestFailureDuringInterruptIsNotAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := pkg("a", "pacman")
	a.Required = true
	b := &fakeBuilder{
		fail:  map[string]error{a.Describe(): errors.New("signal: interrupt")},
		onRun: func(context.Context, string) { cancel() },
	}
	res := newExecutor(b).Execute(ctx, plan.New("arch", a, pkg("b", "pacman")), RunContext{})

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, Failed, res.Outcomes[0].Status)
	assert.False(t, res.Outcomes[0].Aborted)
	assert.False(t, res.Aborted)
	assert.True(t, res.Interrupted)
	assert.True(t, werrors.IsErrorCode(res.Err(), werrors.ErrInterrupted))
	assert.Equal(t, []string{a.Describe()}, b.ran)
}

func TestOnOutcomeHook(t *testing.T) {
	var seen []Status
	x := newExecutor(&fakeBuilder{})
	x.OnOutcome = func(o Outcome) { seen = append(seen, o.Status) }
	x.Execute(context.Background(), plan.New("arch", pkg("a", "pacman"), pkg("b", "pacman")), RunContext{})
	assert.Equal(t, []Status{Succeeded, Succeeded}, seen)
}

func TestProgressOutput(t *testing.T) {
	var out bytes.Buffer
	a := pkg("x", "pacman")
	x := New(&fakeBuilder{fail: map[string]error{a.Describe(): errors.New("nope")}}, &out)
	x.Execute(context.Background(), plan.New("arch", a), RunContext{})
	assert.Contains(t, out.String(), "[1/1] install package x via pacman")
	assert.Contains(t, out.String(), "failed: nope")
}

// --- filesystem properties with the real primitives --------------------------

type fixture struct {
	home, configRoot, templates, scripts string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	home := t.TempDir()
	f := fixture{
		home:       home,
		configRoot: filepath.Join(home, ".config"),
		templates:  filepath.Join(home, "src", "configs"),
		scripts:    filepath.Join(home, "src", "scripts"),
	}
	write(t, filepath.Join(f.configRoot, "kitty", "kitty.conf"), "foo")
	write(t, filepath.Join(f.templates, "kitty", "kitty.conf"), "font_size 11\n")
	write(t, filepath.Join(f.templates, "waybar", "config.jsonc"), "{}\n")
	write(t, filepath.Join(home, ".bashrc"), "# existing rc\n")
	require.NoError(t, os.MkdirAll(f.scripts, 0o755))
	return f
}

func write(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func (f fixture) plan() *plan.Plan {
	envFile := filepath.Join(f.configRoot, plan.DefaultEnvFile)
	return plan.New("fedora",
		plan.Action{Kind: plan.CreateDir, Target: f.configRoot, Phase: plan.PhaseDirectories},
		plan.Action{Kind: plan.CreateDir, Target: filepath.Dir(envFile), Phase: plan.PhaseDirectories},
		plan.Action{Kind: plan.CopyConfigDir, Target: filepath.Join(f.configRoot, "kitty"), Source: "kitty", Phase: plan.PhaseConfigs},
		plan.Action{Kind: plan.CopyConfigDir, Target: filepath.Join(f.configRoot, "waybar"), Source: "waybar", Phase: plan.PhaseConfigs},
		plan.Action{Kind: plan.MergeTextBlock, Target: filepath.Join(f.home, ".bashrc"), Marker: "local-bin", Comment: "#",
			Content: `export PATH="$HOME/.local/bin:$PATH"`, Phase: plan.PhaseMerges},
		plan.Action{Kind: plan.SetEnvVar, Target: "MOZ_ENABLE_WAYLAND", Value: "1", Destination: envFile, Scope: plan.ScopeFile, Phase: plan.PhaseMerges},
	)
}

func (f fixture) run(t *testing.T, p *plan.Plan, dryRun bool) Result {
	t.Helper()
	env := actions.NewEnv(f.templates, f.scripts, &shell.Fake{})
	backups := backup.New(f.configRoot, f.home, time.Now)
	return newExecutor(env).Execute(context.Background(), p, RunContext{DryRun: dryRun, Backups: backups})
}

func TestDryRunNeverMutatesFilesystem(t *testing.T) {
	f := newFixture(t)
	full := f.plan()
	for k := 0; k <= full.Len(); k++ {
		prefix := plan.New("fedora", full.Actions()[:k]...)

		before, err := fsutil.Snapshot(f.home)
		require.NoError(t, err)
		res := f.run(t, prefix, true)
		after, err := fsutil.Snapshot(f.home)
		require.NoError(t, err)

		assert.Equal(t, before, after, "prefix of length %d mutated the filesystem", k)
		assert.Len(t, res.Outcomes, k)
		assert.Empty(t, res.BackupRoot)
	}
}

func TestSecondRunSkipsMerges(t *testing.T) {
	f := newFixture(t)
	first := f.run(t, f.plan(), false)
	for _, o := range first.Outcomes {
		require.NotEqual(t, Failed, o.Status, "%s: %s", o.Action.Describe(), o.Detail)
	}
	afterFirst, err := fsutil.Snapshot(f.home)
	require.NoError(t, err)

	second := f.run(t, f.plan(), false)
	for _, o := range second.Outcomes {
		switch o.Action.Kind {
		case plan.MergeTextBlock, plan.SetEnvVar:
			assert.Equal(t, Skipped, o.Status, o.Action.Describe())
			assert.Equal(t, ReasonAlreadyPresent, o.Reason)
		case plan.CopyConfigDir:
			assert.Equal(t, Skipped, o.Status, o.Action.Describe())
			assert.Equal(t, ReasonAlreadyUpToDate, o.Reason)
		}
	}
	assert.Empty(t, second.BackupRoot, "nothing overwritten on the second run")

	afterSecond, err := fsutil.Snapshot(f.home)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
}

func TestResolvedRepeatsSettleAfterOneRun(t *testing.T) {
	f := newFixture(t)
	block := manifest.Block{Target: "~/.bashrc", Marker: "path", Content: "export A=1"}
	env := manifest.EnvVar{Name: "GDK_BACKEND", Value: "wayland"}
	m := &manifest.Manifest{
		Blocks:      []manifest.Block{block, block},
		Environment: []manifest.EnvVar{env, env},
	}
	p, err := plan.Resolve(m, plan.Inputs{
		Family: "fedora",
		Vars:   template.Vars{Home: f.home, ConfigRoot: f.configRoot, Family: "fedora", User: "ada"},
	})
	require.NoError(t, err)

	first := f.run(t, p, false)
	var merges int
	for _, o := range first.Outcomes {
		require.NotEqual(t, Failed, o.Status, "%s: %s", o.Action.Describe(), o.Detail)
		if o.Action.Kind == plan.MergeTextBlock || o.Action.Kind == plan.SetEnvVar {
			merges++
		}
	}
	assert.Equal(t, 2, merges, "repeated entries collapse to one action each")

	second := f.run(t, p, false)
	for _, o := range second.Outcomes {
		if o.Action.Kind == plan.MergeTextBlock || o.Action.Kind == plan.SetEnvVar {
			assert.Equal(t, Skipped, o.Status, o.Action.Describe())
			assert.Equal(t, ReasonAlreadyPresent, o.Reason)
		}
	}
	assert.Empty(t, second.BackupRoot, "a settled run backs nothing up")
}

func TestCopyConfigDirBackupCorrectness(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, f.plan(), false)

	require.NotEmpty(t, res.BackupRoot)
	var kitty *backup.Entry
	for i := range res.Backups {
		if res.Backups[i].OriginalPath == filepath.Join(f.configRoot, "kitty") {
			kitty = &res.Backups[i]
		}
	}
	require.NotNil(t, kitty, "no backup entry for kitty")
	assert.Equal(t, filepath.Join(res.BackupRoot, "kitty"), kitty.BackupPath)

	backedUp, err := fsutil.Snapshot(kitty.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"kitty.conf": []byte("foo")}, backedUp)

	equal, err := fsutil.TreesEqual(filepath.Join(f.templates, "kitty"), filepath.Join(f.configRoot, "kitty"))
	require.NoError(t, err)
	assert.True(t, equal, "live kitty matches the template")
}
