package model

import (
	"fmt"
	"path"
)

// WildcardPattern matches every exit status.
const WildcardPattern = "*"

// Transition is one edge of a job flow: when step From ends with an exit status
// matching On, continue with To, or end the job (End, Fail, Stop).
type Transition struct {
	From string
	On   string
	To   string
	End  bool
	Fail bool
	Stop bool
}

// IsExact reports whether On contains no wildcard characters.
func (t Transition) IsExact() bool {
	for _, c := range t.On {
		if c == '*' || c == '?' {
			return false
		}
	}
	return true
}

// Matches reports whether exit satisfies the transition pattern.
func (t Transition) Matches(exit ExitStatus) bool {
	if t.On == WildcardPattern {
		return true
	}
	if t.IsExact() {
		return t.On == string(exit)
	}
	ok, err := path.Match(t.On, string(exit))
	return err == nil && ok
}

// String returns a readable form of the edge.
func (t Transition) String() string {
	target := t.To
	switch {
	case t.End:
		target = "<end>"
	case t.Fail:
		target = "<fail>"
	case t.Stop:
		target = "<stop>"
	}
	return fmt.Sprintf("%s --%s--> %s", t.From, t.On, target)
}

// FlowDefinition is the transition graph of a job.
type FlowDefinition struct {
	StartStep   string
	Transitions []Transition
}

// NewFlowDefinition creates a flow starting at startStep.
func NewFlowDefinition(startStep string) *FlowDefinition {
	return &FlowDefinition{StartStep: startStep}
}

// AddTransition appends an edge. Declaration order is significant.
func (fd *FlowDefinition) AddTransition(t Transition) {
	fd.Transitions = append(fd.Transitions, t)
}

// HasOutgoing reports whether any edge leaves step.
func (fd *FlowDefinition) HasOutgoing(step string) bool {
	for _, t := range fd.Transitions {
		if t.From == step {
			return true
		}
	}
	return false
}

// Resolve picks the edge to follow after step ended with exit.
// Only edges leaving step are considered. An exact match beats any pattern
// match; within each group the first registered edge wins.
func (fd *FlowDefinition) Resolve(step string, exit ExitStatus) (Transition, bool) {
	var fallback *Transition
	for i := range fd.Transitions {
		t := fd.Transitions[i]
		if t.From != step || !t.Matches(exit) {
			continue
		}
		if t.IsExact() {
			return t, true
		}
		if fallback == nil {
			fallback = &fd.Transitions[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Transition{}, false
}
