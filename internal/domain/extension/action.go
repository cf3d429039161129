package extension

import "slices"

// Action is a build phase that can be requested from the command line or configuration.
type Action string

// Build actions.
const (
	ActionCopy    Action = "copy"
	ActionPackage Action = "package"
	ActionGit     Action = "git"
)

// Actions is the set of phases selected for a run.
type Actions struct {
	Copy    bool
	Package bool
	Git     bool
}

// ActionsFrom builds a set from a list of actions.
func ActionsFrom(list []Action) Actions {
	return Actions{
		Copy:    slices.Contains(list, ActionCopy),
		Package: slices.Contains(list, ActionPackage),
		Git:     slices.Contains(list, ActionGit),
	}
}

// Merge returns the union of two sets.
func (a Actions) Merge(other Actions) Actions {
	return Actions{
		Copy:    a.Copy || other.Copy,
		Package: a.Package || other.Package,
		Git:     a.Git || other.Git,
	}
}

// Any reports whether at least one phase is selected.
func (a Actions) Any() bool {
	return a.Copy || a.Package || a.Git
}

// List returns the selected actions in execution order.
func (a Actions) List() []Action {
	result := make([]Action, 0, 3)

	if a.Copy {
		result = append(result, ActionCopy)
	}

	if a.Package {
		result = append(result, ActionPackage)
	}

	if a.Git {
		result = append(result, ActionGit)
	}

	return result
}
