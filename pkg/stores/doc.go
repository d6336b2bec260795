// Package stores provides the SQLite persistence layer for sif.
// It stores provisioning jobs with their step plans, the write-ahead
// journal of step transitions, fingerprints, project asset records, the
// component and content catalogs, and the audit log. The schema is managed
// by embedded migrations.
package stores
