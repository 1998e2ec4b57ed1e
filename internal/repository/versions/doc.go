// Package versions implements persistence for applied image digests.
//
// The FileRepository stores and loads the record as JSON on disk and exposes
// a Repository interface that the agent service depends on. Workloads that
// were never updated are encoded as JSON null, so a fresh install and an
// explicit unknown read back identically.
package versions
