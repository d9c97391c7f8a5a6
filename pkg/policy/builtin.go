package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		capabilityAllowlistPolicy(),
		pluginNamingPolicy(),
		versionRequiredPolicy(),
	}
}

// capabilityAllowlistPolicy rejects plugins declaring capabilities outside
// the fixed interface set.
func capabilityAllowlistPolicy() Policy {
	return Policy{
		Name:        "capabilities",
		Description: "Plugins may only declare capabilities from the allowed set",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package bijux.policies.capabilities

import rego.v1

deny contains violation if {
	some cap in input.plugin.capabilities
	not cap in input.allowed_capabilities
	violation := {
		"message": sprintf("plugin %s declares unknown capability %s", [input.plugin.name, cap]),
		"severity": "error",
	}
}
`,
	}
}

// pluginNamingPolicy enforces the plugin naming convention.
func pluginNamingPolicy() Policy {
	return Policy{
		Name:        "naming",
		Description: "Plugin names are lowercase alphanumeric with hyphens or underscores",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package bijux.policies.naming

import rego.v1

deny contains violation if {
	not regex.match("^[a-z][a-z0-9_-]{0,63}$", input.plugin.name)
	violation := {
		"message": sprintf("plugin name %s violates the naming convention", [input.plugin.name]),
		"severity": "error",
	}
}
`,
	}
}

// versionRequiredPolicy warns on unpinned plugin versions.
func versionRequiredPolicy() Policy {
	return Policy{
		Name:        "versioning",
		Description: "Plugins should pin a semantic version",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package bijux.policies.versioning

import rego.v1

deny contains violation if {
	not regex.match("^[0-9]+\\.[0-9]+\\.[0-9]+", input.plugin.version)
	violation := {
		"message": sprintf("plugin %s version %s is not a pinned semantic version", [input.plugin.name, input.plugin.version]),
		"severity": "warning",
	}
}
`,
	}
}
