// Package vectorstore implements the Vector Store (C3): per-tenant
// collections with dense/lexical/symbolic views, tenant-switch locking with
// freeze semantics, and an entry cache.
package vectorstore

import "errors"

// CollectionHandle is the explicit per-request handle the design notes (spec
// 9) require in place of implicit singleton tenant state: every retrieval or
// mutation call threads one of these through, rather than reading a mutable
// "current tenant" field off a shared object. It is a snapshot — captured
// once at the start of an operation (I4) — not a live pointer into the
// store's selector.
type CollectionHandle struct {
	TenantID string
	store    *Store
}

// ErrTenantFrozen is returned when a tenant switch is attempted while a
// freeze guard from FreezeTenant is held.
var ErrTenantFrozen = errors.New("vectorstore: tenant switch attempted while frozen")

// ErrInvalidTenant is raised for an empty tenant_id.
var ErrInvalidTenant = errors.New("vectorstore: invalid tenant_id")

// entryCacheCap is the process-local entry cache size (spec 4.3: "≈1000").
const entryCacheCap = 1000
