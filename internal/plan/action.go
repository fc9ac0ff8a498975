package plan

import (
	"fmt"
	"strings"
)

// Kind identifies what an Action does.
type Kind string

const (
	InstallPackage   Kind = "InstallPackage"
	EnableRepository Kind = "EnableRepository"
	CopyConfigDir    Kind = "CopyConfigDir"
	MergeTextBlock   Kind = "MergeTextBlock"
	SetEnvVar        Kind = "SetEnvVar"
	CreateDir        Kind = "CreateDir"
	RunCommand       Kind = "RunCommand"
	EnableService    Kind = "EnableService"
)

// Phase orders actions within a Plan. Lower phases run first.
type Phase int

const (
	PhaseBootstrap Phase = iota + 1
	PhaseCorePackages
	PhaseExtraPackages
	PhaseDirectories
	PhaseConfigs
	PhaseMerges
	PhaseServices
)

var phaseNames = map[Phase]string{
	PhaseBootstrap:     "bootstrap",
	PhaseCorePackages:  "core packages",
	PhaseExtraPackages: "extra packages",
	PhaseDirectories:   "directories",
	PhaseConfigs:       "configs",
	PhaseMerges:        "merges",
	PhaseServices:      "services",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Environment variable scopes.
const (
	ScopeFile    = "file"
	ScopeSession = "session"
	ScopeUser    = "user"
	ScopeSystem  = "system"
)

// Action is one unit of work. Actions are built by Resolve and handed out by
// value; a Plan never changes after construction.
type Action struct {
	Kind     Kind
	Target   string
	Phase    Phase
	Required bool

	// Fallbacks are tried in order when the primary form fails.
	Fallbacks []Action

	// DryRunDescription previews the action, including its fallback chain.
	DryRunDescription string

	Manager     string   // InstallPackage, EnableRepository
	Repository  string   // InstallPackage: repository enabled first (copr)
	URL         string   // EnableRepository
	Source      string   // CopyConfigDir: template dir name; RunCommand: helper script
	Destination string   // MergeTextBlock, SetEnvVar: file written
	Content     string   // MergeTextBlock: block text; RunCommand: inline shell
	Marker      string   // MergeTextBlock
	Comment     string   // MergeTextBlock comment leader
	Value       string   // SetEnvVar
	Scope       string   // SetEnvVar: file|session; EnableService: user|system
	Args        []string // RunCommand helper arguments
}

// BestEffort reports whether a failure of this action must never abort the
// plan. Session-bound actions fail routinely outside a graphical login.
func (a Action) BestEffort() bool {
	switch a.Kind {
	case EnableService:
		return true
	case SetEnvVar:
		return a.Scope == ScopeSession
	}
	return false
}

// Describe returns a one-line summary of the action's primary form.
func (a Action) Describe() string {
	switch a.Kind {
	case InstallPackage:
		if a.Repository != "" {
			return fmt.Sprintf("install package %s from copr %s", a.Target, a.Repository)
		}
		return fmt.Sprintf("install package %s via %s", a.Target, a.Manager)
	case EnableRepository:
		return fmt.Sprintf("enable %s repository %s", a.Manager, a.Target)
	case CopyConfigDir:
		return fmt.Sprintf("copy config %s -> %s", a.Source, a.Target)
	case MergeTextBlock:
		if a.Marker != "" {
			return fmt.Sprintf("merge block %q into %s", a.Marker, a.Target)
		}
		return fmt.Sprintf("merge block into %s", a.Target)
	case SetEnvVar:
		if a.Scope == ScopeSession {
			return fmt.Sprintf("set %s=%s in the session environment", a.Target, a.Value)
		}
		return fmt.Sprintf("set %s=%s in %s", a.Target, a.Value, a.Destination)
	case CreateDir:
		return fmt.Sprintf("create directory %s", a.Target)
	case RunCommand:
		if a.Source != "" {
			if len(a.Args) > 0 {
				return fmt.Sprintf("run helper %s %s", a.Source, strings.Join(a.Args, " "))
			}
			return fmt.Sprintf("run helper %s", a.Source)
		}
		return fmt.Sprintf("run %q", a.Content)
	case EnableService:
		return fmt.Sprintf("enable %s service %s", a.Scope, a.Target)
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.Target)
	}
}

func (a Action) clone() Action {
	c := a
	if a.Args != nil {
		c.Args = append([]string(nil), a.Args...)
	}
	if a.Fallbacks != nil {
		c.Fallbacks = make([]Action, len(a.Fallbacks))
		for i, f := range a.Fallbacks {
			c.Fallbacks[i] = f.clone()
		}
	}
	return c
}

// Plan is the ordered, immutable sequence of actions for one run.
type Plan struct {
	actions []Action
	family  string
	omitted []string
}

// New builds a Plan from actions in the given order. Resolve is the normal
// constructor; New exists for callers that assemble plans directly.
func New(family string, actions ...Action) *Plan {
	p := &Plan{family: family, actions: make([]Action, len(actions))}
	for i, a := range actions {
		if a.DryRunDescription == "" {
			a.DryRunDescription = previewOf(a)
		}
		p.actions[i] = a.clone()
	}
	return p
}

// Len returns the number of actions.
func (p *Plan) Len() int { return len(p.actions) }

// At returns a copy of the i-th action.
func (p *Plan) At(i int) Action { return p.actions[i].clone() }

// Actions returns a copy of every action in order.
func (p *Plan) Actions() []Action {
	out := make([]Action, len(p.actions))
	for i, a := range p.actions {
		out[i] = a.clone()
	}
	return out
}

// Family is the OS family the plan was resolved for.
func (p *Plan) Family() string { return p.family }

// Omitted lists manifest entries left out because nothing about them applies
// to this family, with the reason.
func (p *Plan) Omitted() []string { return append([]string(nil), p.omitted...) }

// previewOf renders the dry-run text for a: the primary description followed
// by the fallback chain in order.
func previewOf(a Action) string {
	s := a.Describe()
	if len(a.Fallbacks) == 0 {
		return s
	}
	alts := make([]string, len(a.Fallbacks))
	for i, f := range a.Fallbacks {
		alts[i] = fmt.Sprintf("%d) %s", i+1, f.Describe())
	}
	return fmt.Sprintf("%s (fallbacks: %s)", s, strings.Join(alts, "; "))
}
