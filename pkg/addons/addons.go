// Package addons computes MicroK8s addon changes.
package addons

import "strings"

// Plan lists the addons to disable and enable, in that order.
type Plan struct {
	// Disable holds bare addon names.
	Disable []string
	// Enable holds addons with their arguments, e.g. "dns:10.0.0.10".
	Enable []string
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool { return len(p.Disable) == 0 && len(p.Enable) == 0 }

// Name drops the arguments of an addon: "dns:10.0.0.10" becomes "dns".
func Name(addon string) string {
	name, _, _ := strings.Cut(addon, ":")
	return name
}

// Diff disables every current addon that is not desired and enables every
// desired addon that is not current. An addon whose arguments changed is
// disabled and enabled again.
func Diff(current, desired []string) Plan {
	var p Plan
	for _, a := range current {
		if !contains(desired, a) {
			p.Disable = append(p.Disable, Name(a))
		}
	}
	for _, a := range desired {
		if !contains(current, a) {
			p.Enable = append(p.Enable, a)
		}
	}
	return p
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
