// Package engine provides the step-execution engine of cocinero.
//
// # Overview
//
// A recipe Document declares packages, systemd units, template variable sets
// and an ordered list of steps. The engine turns a Document into a Plan and
// runs the Plan on the local host:
//
//  1. Resolve - each step expands into execution units, one per variable set
//     when the step is templated
//  2. Execute - each unit maps to a concrete Action (write file, run shell
//     command, run script); templated fields are rendered here
//  3. Build - actions are concatenated in step order; the first failure aborts
//     the whole build
//  4. Run - actions execute one at a time; the first failure stops the run
//  5. Hooks - after a completed run, packages are installed in one call and
//     each unit is enabled then reloaded
//
// # Templates
//
// Templates are literal substitutions of {{name}} placeholders. There are no
// expressions, no nesting and no escaping. A placeholder whose name is not in
// the variable set fails the build with ErrorKindUndefinedVariable.
//
// # Run states
//
//	idle -> running -> completed
//	                -> failed
//
// The engine never retries and never rolls back. Side effects of actions that
// ran before a failure remain in place, and the Outcome records exactly which
// actions ran.
//
// # Collaborators
//
// File-system, process, package-manager and service-control effects go
// through the FileSystem, ProcessRunner, PackageManager and ServiceController
// interfaces. Package system provides the host implementations.
package engine
