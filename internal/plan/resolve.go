// Package plan turns a manifest into an ordered Plan of Actions.
//
// Resolve performs no I/O. Phase order is fixed: repositories and pre
// commands, core packages, selected extras' packages, directory creation,
// config copies, text merges, then services and post commands. Within a
// phase, manifest order is preserved.
package plan

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/atomikpanda/wayup/internal/manifest"
	"github.com/atomikpanda/wayup/internal/platform"
	"github.com/atomikpanda/wayup/internal/template"
)

// DefaultEnvFile is the environment.d file used when an env entry names none,
// relative to the config root.
const DefaultEnvFile = "environment.d/90-wayup.conf"

// Inputs are the pre-resolved values Resolve needs besides the manifest.
type Inputs struct {
	Family string
	Extras []string // selected extra names
	Vars   template.Vars
	// Env holds the variables $NAME in a path may refer to. HOME, USER and
	// XDG_CONFIG_HOME fall back to Vars; anything else unset expands to "".
	Env map[string]string
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type resolver struct {
	in       Inputs
	phases   map[Phase][]Action
	seen     map[string]bool
	dirs     []string
	problems []Problem
	omitted  []string
	session  []Action // session env, queued behind services
	merges   map[string]merge
}

// merge is the first entry to claim a block or variable key.
type merge struct {
	entry string
	text  string
}

// Resolve builds the Plan for m. Any malformed entry makes it return a
// *ManifestError (wrapped with code MANIFEST) listing all of them, and no Plan.
func Resolve(m *manifest.Manifest, in Inputs) (*Plan, error) {
	r := &resolver{
		in:     in,
		phases: make(map[Phase][]Action),
		seen:   make(map[string]bool),
		merges: make(map[string]merge),
	}

	if platform.NativeManager(in.Family) == "" {
		r.problem("family", fmt.Sprintf("unsupported OS family %q", in.Family))
		return nil, manifestError(r.problems)
	}

	extras := r.selectedExtras(m)

	for i, repo := range m.Repositories {
		r.repository(fmt.Sprintf("repositories[%d] (%s)", i, repo.Name), repo)
	}
	var post []Action
	for i, c := range m.Commands {
		if a, ok := r.command(fmt.Sprintf("commands[%d] (%s)", i, c.Name), c); ok {
			if a.Phase == PhaseBootstrap {
				r.add(a)
			} else {
				post = append(post, a)
			}
		}
	}
	for i, p := range m.Packages {
		r.pkg(fmt.Sprintf("packages[%d] (%s)", i, p.Name), p, PhaseCorePackages)
	}
	for _, e := range extras {
		for i, p := range e.Packages {
			r.pkg(fmt.Sprintf("extras.%s.packages[%d] (%s)", e.Name, i, p.Name), p, PhaseExtraPackages)
		}
	}

	var configs []labelled[manifest.Config]
	for i, c := range m.Configs {
		configs = append(configs, labelled[manifest.Config]{fmt.Sprintf("configs[%d] (%s)", i, c.Name), c})
	}
	for _, e := range extras {
		for i, c := range e.Configs {
			configs = append(configs, labelled[manifest.Config]{fmt.Sprintf("extras.%s.configs[%d] (%s)", e.Name, i, c.Name), c})
		}
	}
	if len(configs) > 0 {
		r.dir(r.in.Vars.ConfigRoot)
	}
	for i, d := range m.Directories {
		path, ok := r.path(fmt.Sprintf("directories[%d]", i), d)
		if ok {
			r.dir(path)
		}
	}
	for _, c := range configs {
		r.config(c.label, c.item)
	}
	for i, b := range m.Blocks {
		r.block(fmt.Sprintf("blocks[%d] (%s)", i, b.Target), b)
	}
	for i, e := range m.Environment {
		r.env(fmt.Sprintf("environment[%d] (%s)", i, e.Name), e)
	}
	for i, s := range m.Services {
		r.service(fmt.Sprintf("services[%d] (%s)", i, s.Name), s)
	}
	for _, a := range append(r.session, post...) {
		r.add(a)
	}

	if len(r.problems) > 0 {
		return nil, manifestError(r.problems)
	}

	for _, d := range r.dirs {
		r.add(Action{Kind: CreateDir, Target: d, Phase: PhaseDirectories})
	}

	p := &Plan{family: in.Family, omitted: r.omitted}
	for ph := PhaseBootstrap; ph <= PhaseServices; ph++ {
		p.actions = append(p.actions, r.phases[ph]...)
	}
	return p, nil
}

type labelled[T any] struct {
	label string
	item  T
}

func (r *resolver) problem(entry, reason string) {
	r.problems = append(r.problems, Problem{Entry: entry, Reason: reason})
}

func (r *resolver) add(a Action) {
	a.DryRunDescription = previewOf(a)
	r.phases[a.Phase] = append(r.phases[a.Phase], a)
}

func (r *resolver) selectedExtras(m *manifest.Manifest) []manifest.Extra {
	var out []manifest.Extra
	names := append([]string(nil), r.in.Extras...)
	sort.Strings(names)
	names = slices.Compact(names)
	for _, name := range names {
		if m.Extra(name) == nil {
			r.problem("extras", fmt.Sprintf("unknown extra %q", name))
		}
	}
	for _, e := range m.Extras {
		if e.Name == "" {
			r.problem("extras", "extra with empty name")
			continue
		}
		if slices.Contains(names, e.Name) {
			out = append(out, e)
		}
	}
	return out
}

func (r *resolver) appliesTo(families []string) bool {
	return len(families) == 0 || slices.Contains(families, r.in.Family)
}

func (r *resolver) render(entry, s string) (string, bool) {
	out, err := template.Render(s, r.in.Vars)
	if err != nil {
		r.problem(entry, err.Error())
		return "", false
	}
	return out, true
}

func (r *resolver) path(entry, s string) (string, bool) {
	if strings.TrimSpace(s) == "" {
		r.problem(entry, "empty path")
		return "", false
	}
	out, ok := r.render(entry, s)
	if !ok {
		return "", false
	}
	return filepath.Clean(platform.ExpandPathIn(r.in.Vars.Home, out, r.getenv)), true
}

func (r *resolver) getenv(name string) string {
	if v, ok := r.in.Env[name]; ok {
		return v
	}
	switch name {
	case "HOME":
		return r.in.Vars.Home
	case "USER":
		return r.in.Vars.User
	case "XDG_CONFIG_HOME":
		return r.in.Vars.ConfigRoot
	}
	return ""
}

// claim reports whether the entry is new. A repeat of the same text is
// dropped; a different text under the same key is a problem.
func (r *resolver) claim(entry, key, text, what string) bool {
	prev, ok := r.merges[key]
	if !ok {
		r.merges[key] = merge{entry: entry, text: text}
		return true
	}
	if prev.text != text {
		r.problem(entry, fmt.Sprintf("%s conflicts with %s", what, prev.entry))
	}
	return false
}

func (r *resolver) dir(path string) {
	if path == "" || slices.Contains(r.dirs, path) {
		return
	}
	r.dirs = append(r.dirs, path)
}

// via turns one via item into an Action for the named package. eligible is
// false when the method belongs to another OS family.
func (r *resolver) via(entry, item, name string, phase Phase, required bool) (a Action, eligible, ok bool) {
	a = Action{Phase: phase, Required: required}
	prefix, rest, hasArg := strings.Cut(item, ":")
	switch prefix {
	case "helper":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			r.problem(entry, fmt.Sprintf("via %q: helper needs a script name", item))
			return a, false, false
		}
		if filepath.IsAbs(fields[0]) || strings.Contains(fields[0], "..") {
			r.problem(entry, fmt.Sprintf("via %q: helper must be relative to the scripts directory", item))
			return a, false, false
		}
		a.Kind, a.Target, a.Source, a.Args = RunCommand, name, fields[0], fields[1:]
		return a, true, true
	case "command":
		if strings.TrimSpace(rest) == "" {
			r.problem(entry, fmt.Sprintf("via %q: empty command", item))
			return a, false, false
		}
		a.Kind, a.Target, a.Content = RunCommand, name, rest
		return a, true, true
	case "copr":
		if !hasArg || !strings.Contains(rest, "/") {
			r.problem(entry, fmt.Sprintf("via %q: copr needs owner/project", item))
			return a, false, false
		}
		a.Kind, a.Target, a.Manager, a.Repository = InstallPackage, name, "dnf", rest
		return a, r.in.Family == platform.Fedora, true
	}

	if !platform.KnownManager(prefix) {
		r.problem(entry, fmt.Sprintf("via %q: unknown package manager or method %q", item, prefix))
		return a, false, false
	}
	target := name
	if hasArg {
		if rest == "" {
			r.problem(entry, fmt.Sprintf("via %q: empty alternative package name", item))
			return a, false, false
		}
		target = rest
	}
	a.Kind, a.Target, a.Manager = InstallPackage, target, prefix
	fam := platform.ManagerFamily(prefix)
	return a, fam == "" || fam == r.in.Family, true
}

// chain resolves a list of via items into a primary action plus fallbacks.
func (r *resolver) chain(entry string, items []string, name string, phase Phase, required bool) (Action, bool) {
	var eligible []Action
	valid := true
	for _, item := range items {
		a, ok, wellFormed := r.via(entry, item, name, phase, required)
		if !wellFormed {
			valid = false
			continue
		}
		if ok {
			eligible = append(eligible, a)
		}
	}
	if !valid || len(eligible) == 0 {
		return Action{}, false
	}
	primary := eligible[0]
	for _, f := range eligible[1:] {
		f.DryRunDescription = f.Describe()
		primary.Fallbacks = append(primary.Fallbacks, f)
	}
	return primary, true
}

func (r *resolver) pkg(entry string, p manifest.Package, phase Phase) {
	if strings.TrimSpace(p.Name) == "" {
		r.problem(entry, "empty package name")
		return
	}
	if !r.appliesTo(p.Families) {
		r.omitted = append(r.omitted, entry+": not for "+r.in.Family)
		return
	}
	via := p.Via
	if len(via) == 0 {
		via = []string{platform.NativeManager(r.in.Family)}
	}
	before := len(r.problems)
	a, ok := r.chain(entry, via, p.Name, phase, p.Required)
	if !ok {
		if len(r.problems) == before {
			r.omitted = append(r.omitted, entry+": no installation method for "+r.in.Family)
		}
		return
	}
	key := fmt.Sprintf("%s|%s|%s|%s", a.Kind, a.Manager, a.Repository, a.Target)
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.add(a)
}

func (r *resolver) repository(entry string, repo manifest.Repository) {
	if strings.TrimSpace(repo.Name) == "" {
		r.problem(entry, "empty repository name")
		return
	}
	switch repo.Manager {
	case "copr", "ppa":
	case "rpm", "zypper", "flatpak":
		if repo.URL == "" {
			r.problem(entry, fmt.Sprintf("%s repository needs a url", repo.Manager))
			return
		}
	default:
		r.problem(entry, fmt.Sprintf("unknown repository manager %q", repo.Manager))
		return
	}
	fam := platform.ManagerFamily(repo.Manager)
	if !r.appliesTo(repo.Families) || (fam != "" && fam != r.in.Family) {
		r.omitted = append(r.omitted, entry+": not for "+r.in.Family)
		return
	}

	a := Action{
		Kind:     EnableRepository,
		Target:   repo.Name,
		Manager:  repo.Manager,
		URL:      repo.URL,
		Phase:    PhaseBootstrap,
		Required: repo.Required,
	}
	for _, item := range repo.Via {
		if p, _, _ := strings.Cut(item, ":"); p != "helper" && p != "command" {
			r.problem(entry, fmt.Sprintf("via %q: repository fallbacks must be helper: or command:", item))
			continue
		}
		f, _, ok := r.via(entry, item, repo.Name, PhaseBootstrap, repo.Required)
		if ok {
			f.DryRunDescription = f.Describe()
			a.Fallbacks = append(a.Fallbacks, f)
		}
	}
	r.add(a)
}

func (r *resolver) command(entry string, c manifest.Command) (Action, bool) {
	if strings.TrimSpace(c.Run) == "" {
		r.problem(entry, "empty run")
		return Action{}, false
	}
	var phase Phase
	switch c.Phase {
	case "pre":
		phase = PhaseBootstrap
	case "post", "":
		phase = PhaseServices
	default:
		r.problem(entry, fmt.Sprintf("unknown phase %q (want pre or post)", c.Phase))
		return Action{}, false
	}
	if !r.appliesTo(c.Families) {
		r.omitted = append(r.omitted, entry+": not for "+r.in.Family)
		return Action{}, false
	}
	run, ok := r.render(entry, c.Run)
	if !ok {
		return Action{}, false
	}
	name := c.Name
	if name == "" {
		name = run
	}
	return Action{Kind: RunCommand, Target: name, Content: run, Phase: phase, Required: c.Required}, true
}

func (r *resolver) config(entry string, c manifest.Config) {
	if strings.TrimSpace(c.Name) == "" {
		r.problem(entry, "empty config name")
		return
	}
	if strings.ContainsRune(c.Name, filepath.Separator) || c.Name == "." || c.Name == ".." {
		r.problem(entry, "config name must be a single directory name")
		return
	}
	dest := filepath.Join(r.in.Vars.ConfigRoot, c.Name)
	if c.Dest != "" {
		var ok bool
		if dest, ok = r.path(entry, c.Dest); !ok {
			return
		}
		r.dir(filepath.Dir(dest))
	}
	r.add(Action{Kind: CopyConfigDir, Target: dest, Source: c.Name, Phase: PhaseConfigs, Required: c.Required})
}

func (r *resolver) block(entry string, b manifest.Block) {
	target, ok := r.path(entry, b.Target)
	if !ok {
		return
	}
	content, ok := r.render(entry, b.Content)
	if !ok {
		return
	}
	if strings.TrimSpace(content) == "" {
		r.problem(entry, "empty block content")
		return
	}
	if strings.ContainsAny(b.Marker, "\n\r") {
		r.problem(entry, "marker must be a single line")
		return
	}
	comment := b.Comment
	if comment == "" {
		comment = "#"
	}
	key, text, what := "block|"+target+"|"+b.Marker, comment+"\n"+content, fmt.Sprintf("block %q in %s", b.Marker, target)
	if b.Marker == "" {
		key, text, what = "block|"+target+"||"+content, content, "block in "+target
	}
	if !r.claim(entry, key, text, what) {
		return
	}
	r.dir(filepath.Dir(target))
	r.add(Action{
		Kind:     MergeTextBlock,
		Target:   target,
		Content:  content,
		Marker:   b.Marker,
		Comment:  comment,
		Phase:    PhaseMerges,
		Required: b.Required,
	})
}

func (r *resolver) env(entry string, e manifest.EnvVar) {
	if !envName.MatchString(e.Name) {
		r.problem(entry, fmt.Sprintf("invalid variable name %q", e.Name))
		return
	}
	value, ok := r.render(entry, e.Value)
	if !ok {
		return
	}
	switch e.Scope {
	case "", ScopeFile:
		file := filepath.Join(r.in.Vars.ConfigRoot, DefaultEnvFile)
		if e.File != "" {
			if file, ok = r.path(entry, e.File); !ok {
				return
			}
		}
		if !r.claim(entry, "env|"+file+"|"+e.Name, value, fmt.Sprintf("%s in %s", e.Name, file)) {
			return
		}
		r.dir(filepath.Dir(file))
		r.add(Action{
			Kind:        SetEnvVar,
			Target:      e.Name,
			Value:       value,
			Destination: file,
			Scope:       ScopeFile,
			Phase:       PhaseMerges,
			Required:    e.Required,
		})
	case ScopeSession:
		if !r.claim(entry, "session|"+e.Name, value, "session variable "+e.Name) {
			return
		}
		fallback := Action{
			Kind:    RunCommand,
			Target:  e.Name,
			Content: "dbus-update-activation-environment --systemd " + e.Name + "=" + shellQuote(value),
			Phase:   PhaseServices,
		}
		fallback.DryRunDescription = fallback.Describe()
		r.session = append(r.session, Action{
			Kind:      SetEnvVar,
			Target:    e.Name,
			Value:     value,
			Scope:     ScopeSession,
			Phase:     PhaseServices,
			Required:  e.Required,
			Fallbacks: []Action{fallback},
		})
	default:
		r.problem(entry, fmt.Sprintf("unknown scope %q (want file or session)", e.Scope))
	}
}

func (r *resolver) service(entry string, s manifest.Service) {
	if strings.TrimSpace(s.Name) == "" {
		r.problem(entry, "empty service name")
		return
	}
	scope := ScopeSystem
	if s.User {
		scope = ScopeUser
	}
	r.add(Action{Kind: EnableService, Target: s.Name, Scope: scope, Phase: PhaseServices})
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
