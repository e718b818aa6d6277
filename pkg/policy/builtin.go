package policy

// BuiltinPolicies returns the rules every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedResourcesPolicy(),
		destructiveChangesPolicy(),
		resourceNamingPolicy(),
	}
}

// protectedResourcesPolicy blocks deletes and replacements of resources
// declared with protect. The engine refuses these on its own as well; the
// policy keeps the refusal visible and overridable in one place for teams
// that manage policies out of band.
func protectedResourcesPolicy() Policy {
	return Policy{
		Name:        "protected-resources",
		Description: "Blocks destructive actions on resources declared with protect",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package edgeforge.policies.protected

import rego.v1

deny contains violation if {
	some change in input.plan.changes
	change.protect
	change.action in {"delete", "replace"}
	reason := object.get(change, "reason", "no reason recorded")
	violation := {
		"message": sprintf("protected resource %s would be %sd (%s)", [change.resource_id, change.action, reason]),
		"severity": "error",
		"resource": change.resource_id,
	}
}
`,
	}
}

// destructiveChangesPolicy surfaces every delete and replacement as a
// warning so destructive plans are never silent.
func destructiveChangesPolicy() Policy {
	return Policy{
		Name:        "destructive-changes",
		Description: "Warns on every delete and replacement in a plan",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "visibility"},
		Rego: `package edgeforge.policies.destructive

import rego.v1

deny contains violation if {
	some change in input.plan.changes
	change.action in {"delete", "replace"}
	reason := object.get(change, "reason", "no reason recorded")
	violation := {
		"message": sprintf("%s %s is destructive: %s", [change.action, change.resource_id, reason]),
		"severity": "warning",
		"resource": change.resource_id,
	}
}
`,
	}
}

// resourceNamingPolicy enforces resource id conventions (lowercase,
// alphanumeric, hyphens only).
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Enforces resource id conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package edgeforge.policies.naming

import rego.v1

deny contains violation if {
	some change in input.plan.changes
	not regex.match(` + "`^[a-z][a-z0-9-]*$`" + `, change.resource_id)
	violation := {
		"message": sprintf("resource id '%s' does not match ^[a-z][a-z0-9-]*$", [change.resource_id]),
		"severity": "error",
		"resource": change.resource_id,
	}
}
`,
	}
}
