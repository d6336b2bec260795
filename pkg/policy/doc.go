// Package policy admits provisioning plans with Open Policy Agent.
//
// Every enabled policy is a Rego module with a deny set. The engine
// evaluates each deny set against the planned job before any step runs:
//
//	input.job     the job (id, target_path, components, policy, config)
//	input.steps   the planned steps (id, component_id, kind, action, config)
//	input.context who asks, the operation and a timestamp
//
// A deny entry is either a message string or an object with message,
// severity and step fields. Entries of severity error or critical reject
// the plan; everything else is returned as a warning.
//
// Example:
//
//	package sif.policies.registry
//
//	import rego.v1
//
//	deny contains msg if {
//		some step in input.steps
//		step.action == "installer"
//		not startswith(step.config.package, "@acme/")
//		msg := sprintf("step %s installs from outside @acme", [step.id])
//	}
//
// Files ending in .rego are named after the file. A leading comment block
// becomes the description, and a "# severity: error" comment line sets the
// default severity. Files ending in .json hold a serialized Policy.
//
// Built-in policies refuse system directories as targets and refuse
// command steps that run through sudo.
package policy
