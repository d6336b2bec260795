package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedTargetsPolicy(),
		privilegedCommandsPolicy(),
		degradeNoticePolicy(),
	}
}

// protectedTargetsPolicy refuses to provision into system directories.
func protectedTargetsPolicy() Policy {
	return Policy{
		Name:        "protected-targets",
		Description: "Refuses targets that are system directories",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package sif.policies.targets

import rego.v1

protected := {"/", "/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/sbin", "/sys", "/usr", "/var"}

deny contains violation if {
	protected[input.job.target_path]
	violation := {
		"message": sprintf("target %s is a protected system directory", [input.job.target_path]),
		"severity": "error",
	}
}
`,
	}
}

// privilegedCommandsPolicy refuses install steps that escalate privileges.
func privilegedCommandsPolicy() Policy {
	return Policy{
		Name:        "privileged-commands",
		Description: "Refuses command and installer steps that run through sudo or su",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package sif.policies.privileges

import rego.v1

escalations := {"sudo", "su", "doas"}

command_fields := {"command", "undo"}

deny contains violation if {
	some step in input.steps
	step.action in {"command", "installer"}
	some field in command_fields
	cmd := step.config[field]
	is_string(cmd)
	first := split(trim_space(cmd), " ")[0]
	escalations[first]
	violation := {
		"message": sprintf("step %s runs %s through %s", [step.id, field, first]),
		"severity": "error",
		"step": step.id,
	}
}
`,
	}
}

// degradeNoticePolicy warns when a job keeps partial results on failure.
func degradeNoticePolicy() Policy {
	return Policy{
		Name:        "degrade-notice",
		Description: "Warns that a degrade job may leave unrelated components installed after a failure",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"notice"},
		Rego: `package sif.policies.degrade

import rego.v1

deny contains msg if {
	input.job.policy == "degrade"
	count(input.job.components) > 1
	msg := "degrade policy: components unrelated to a failure are kept"
}
`,
	}
}
