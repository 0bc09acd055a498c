// Package policy provides Open Policy Agent (OPA) checks for plans.
//
// Before a plan is applied, every enabled policy is evaluated with the plan as
// input. A policy is a Rego module whose deny set lists violations; each entry
// is either a message string or an object:
//
//	{"message": "...", "severity": "error", "action": 3, "target": "/etc/motd"}
//
// Violations with severity error or critical deny the plan. Info and warning
// violations are reported and do not block.
//
// # Input
//
// Policies see a summary of the plan, not file content:
//
//	input.plan_id
//	input.recipes[_]
//	input.packages[_]
//	input.systemd_units[_]
//	input.actions[_].index     # position in the plan
//	input.actions[_].kind      # write_file, exec_shell or exec_script
//	input.actions[_].recipe
//	input.actions[_].step
//	input.actions[_].path      # destination or script path
//	input.actions[_].command   # rendered shell command
//	input.actions[_].mode      # "0644"
//	input.actions[_].mode_bits # 420
//	input.actions[_].text      # content is UTF-8
//	input.actions[_].managed   # content says "managed by cocinero"
//
// # Built-in Policies
//
//  1. dangerous-shell - Denies commands that wipe / or raw disks
//  2. protected-paths - Denies writes to /etc/shadow and friends
//  3. world-writable - Warns about files writable by anyone
//  4. special-bits - Warns about setuid and setgid files
//  5. managed-disclaimer - Notes /etc text files without the disclaimer
//
// # Custom Policies
//
// Custom policies are loaded from .rego files, named after the file, or from
// .json files holding a Policy:
//
//	package site.policies.nginx
//
//	import rego.v1
//
//	deny contains violation if {
//	    some action in input.actions
//	    action.kind == "exec_shell"
//	    contains(action.command, "curl | sh")
//	    violation := {
//	        "message": "piping downloads into a shell is not allowed",
//	        "severity": "error",
//	        "action": action.index,
//	    }
//	}
package policy
