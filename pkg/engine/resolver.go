package engine

// Resolve expands a step into its execution units. A step that is not
// templated yields exactly one unit. A templated step yields one unit per
// variable set, in order, and none when there are no variable sets.
func Resolve(step Step, stepIndex int, templateVars []VariableSet) []ExecutionUnit {
	if !step.Templated() {
		return []ExecutionUnit{{Step: step, StepIndex: stepIndex, VarsIndex: -1}}
	}

	units := make([]ExecutionUnit, 0, len(templateVars))
	for i, vars := range templateVars {
		units = append(units, ExecutionUnit{
			Step:      step,
			StepIndex: stepIndex,
			Vars:      vars,
			VarsIndex: i,
		})
	}
	return units
}
