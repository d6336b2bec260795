// Package orchestrator turns provisioning requests into jobs and runs them.
//
// A request names components from a catalog and a target directory. Plan
// resolves the components into a dependency order and expands each one into
// steps:
//
//	install   the component's own action (command, file, installer, noop)
//	sync      copies the component's reuse library into the target
//	validate  checks the content catalog and the component's composition
//	render    writes the rendered composition into the target
//
// Structural problems (unknown components, cycles, invalid compositions) are
// rejected before a job is created. Only one job may run per target at a
// time; the lock is an advisory file lock under <target>/.sif so that it is
// released if the process dies.
//
// Jobs are persisted before they run and every step transition is journaled,
// so a job interrupted by a crash can be continued with Resume.
package orchestrator
