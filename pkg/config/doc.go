// Package config loads the provisioning catalog and evaluates its Starlark
// snippets.
//
// # Overview
//
// A catalog is a single YAML or CUE file that declares everything a provisioning
// request can select: components with their action type and dependencies,
// reuse libraries to synchronize, content segments and compositions, the
// content DAG, and executor tuning. Load parses the file, validates field
// constraints with validator struct tags, and then checks cross references:
//
//   - the component dependency graph resolves and is acyclic
//   - components only name declared libraries and compositions
//   - the content DAG has no orphans, no cycles and matching checksums
//   - composition positions are unique and reference known segments
//
// # Catalog Structure
//
//	version: v1
//	executor:
//	  max_parallel: 4
//	  step_timeout: 5m
//	  policy: abort
//	components:
//	  - id: bmad
//	    type: installer
//	    config:
//	      version: 6.0.0
//	  - id: standards
//	    type: noop
//	    dependencies: [bmad]
//	    library: engineering-standards
//	    composition: claude-md
//	libraries:
//	  - id: engineering-standards
//	    root: ../libraries/standards
//	segments:
//	  - id: header
//	    content: "# Project"
//	  - id: enterprise
//	    content: "Enterprise rigor applies."
//	    condition: tier == "enterprise"
//	compositions:
//	  - id: claude-md
//	    variant: production
//	    items:
//	      - {segment: header, position: 10, enabled: true}
//	      - {segment: enterprise, position: 20, enabled: true}
//	catalog:
//	  - path: header
//	  - path: enterprise
//	    dependencies: [header]
//
//	policies:
//	  - policies/
//
// # CUE Catalogs
//
// A catalog file ending in .cue is evaluated with CUE, unified with a closed
// schema of the catalog and exported. The exported document then goes
// through the same decoding and checks as a YAML catalog. Hidden fields and
// unification keep repeated component settings in one place:
//
//	_npm: {type: "command", config: shell: true}
//	components: [
//		_npm & {id: "lint", config: command: "npm i -D eslint"},
//	]
//
// # Starlark
//
// Segment conditions are Starlark expressions evaluated against the render
// variables. The optional top-level variables script derives extra render
// variables from the request configuration:
//
//	variables: |
//	  tier = "enterprise" if team_size > 20 else "startup"
//
// Starlark execution is sandboxed: no filesystem or network access, print
// is suppressed, and every evaluation is cancelled after a timeout.
package config
