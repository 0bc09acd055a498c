package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		dangerousShellPolicy(),
		protectedPathsPolicy(),
		worldWritablePolicy(),
		specialBitsPolicy(),
		managedDisclaimerPolicy(),
	}
}

// dangerousShellPolicy denies shell commands that destroy the host.
func dangerousShellPolicy() Policy {
	return Policy{
		Name:        "dangerous-shell",
		Description: "Denies shell commands that wipe the root file system or raw disks",
		Severity:    SeverityCritical,
		Enabled:     true,
		Builtin:     true,
		Rego: `package cocinero.policies.shell

import rego.v1

destructive := [
	` + "`" + `rm\s+(-[a-zA-Z]*[rR][a-zA-Z]*\s+)+(--no-preserve-root\s+)?/(\*)?(\s|;|$)` + "`" + `,
	` + "`" + `mkfs(\.[a-z0-9]+)?\s+/dev/` + "`" + `,
	` + "`" + `dd\s+.*of=/dev/(sd|nvme|vd|hd)` + "`" + `,
	` + "`" + `:\(\)\s*\{\s*:\|:&\s*\};:` + "`" + `,
]

deny contains violation if {
	some action in input.actions
	action.kind == "exec_shell"
	some pattern in destructive
	regex.match(pattern, action.command)
	violation := {
		"message": sprintf("command %q is destructive", [action.command]),
		"severity": "critical",
		"action": action.index,
		"target": action.command,
	}
}
`,
	}
}

// protectedPathsPolicy guards credential and boot files.
func protectedPathsPolicy() Policy {
	return Policy{
		Name:        "protected-paths",
		Description: "Denies writes to credential databases and warns on writes to boot and sudo configuration",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package cocinero.policies.paths

import rego.v1

denied := {"/etc/shadow", "/etc/gshadow", "/etc/passwd", "/etc/group"}

sensitive_prefixes := ["/boot/", "/etc/sudoers", "/etc/pam.d/"]

deny contains violation if {
	some action in input.actions
	action.kind == "write_file"
	denied[action.path]
	violation := {
		"message": sprintf("%s is managed by the account tools and must not be overwritten", [action.path]),
		"severity": "error",
		"action": action.index,
		"target": action.path,
	}
}

deny contains violation if {
	some action in input.actions
	action.kind == "write_file"
	some prefix in sensitive_prefixes
	startswith(action.path, prefix)
	violation := {
		"message": sprintf("%s is a sensitive path; a mistake here can lock out the host", [action.path]),
		"severity": "warning",
		"action": action.index,
		"target": action.path,
	}
}
`,
	}
}

// worldWritablePolicy warns about files anyone can modify.
func worldWritablePolicy() Policy {
	return Policy{
		Name:        "world-writable",
		Description: "Warns about installed files writable by any user",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package cocinero.policies.permissions

import rego.v1

deny contains violation if {
	some action in input.actions
	action.kind == "write_file"
	bits.and(action.mode_bits, 2) != 0
	violation := {
		"message": sprintf("%s is world-writable (mode %s)", [action.path, action.mode]),
		"severity": "warning",
		"action": action.index,
		"target": action.path,
	}
}
`,
	}
}

// specialBitsPolicy warns about setuid and setgid files.
func specialBitsPolicy() Policy {
	return Policy{
		Name:        "special-bits",
		Description: "Warns about installed files with the setuid or setgid bit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package cocinero.policies.special

import rego.v1

deny contains violation if {
	some action in input.actions
	action.kind == "write_file"
	bits.and(action.mode_bits, 3072) != 0
	violation := {
		"message": sprintf("%s has the setuid or setgid bit (mode %s)", [action.path, action.mode]),
		"severity": "warning",
		"action": action.index,
		"target": action.path,
	}
}
`,
	}
}

// managedDisclaimerPolicy reminds authors to mark files as managed, so that
// operators editing them by hand know the change will be overwritten.
func managedDisclaimerPolicy() Policy {
	return Policy{
		Name:        "managed-disclaimer",
		Description: "Warns about installed text files that do not say they are managed by cocinero",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Rego: `package cocinero.policies.disclaimer

import rego.v1

deny contains violation if {
	some action in input.actions
	action.kind == "write_file"
	action.text
	not action.managed
	violation := {
		"message": sprintf("%s has no \"managed by cocinero\" disclaimer", [action.path]),
		"severity": "info",
		"action": action.index,
		"target": action.path,
	}
}
`,
	}
}
