// Package permissions implements WingOps' attribute-based permission engine.
//
// # Overview
//
// Given a pilot, the engine computes the effective set of application
// permissions they hold by joining declarative rules against the pilot's
// basis memberships. A rule binds one catalog permission to one basis: a
// standing, qualification, billet, team, squadron, wing, "all authenticated
// users", or a manual override naming a single pilot. Rules only ever grant;
// evaluation is a pure union with no deny semantics and no conflict
// resolution.
//
// # Architecture
//
// The engine consists of five pieces:
//
//  1. Store: persistence for the permission catalog and rule set (Postgres)
//  2. Resolver: basis memberships, labels, and options for the roster tables
//  3. Calculator: pure snapshot construction and check evaluation
//  4. SnapshotCache: per-user memoization (in-memory LRU or Redis)
//  5. Service: the public contract composing the four above
//
// Control flow for a check: the Service asks the cache for the user's
// UserPermissions snapshot; on miss it loads active rules, the catalog, and
// the user's memberships, joins them with BuildSnapshot, and caches the
// result; the requested permission is then evaluated against the snapshot
// with Check.
//
// # Basis types
//
// The basis type set is closed and dispatched through a single registry in
// basis.go, so adding a basis type is one new registry entry rather than
// edits scattered across name resolution, option listing, and membership
// resolution.
//
//	standing            - pilot's standing (active, reserve, ...)
//	qualification       - an active qualification held by the pilot
//	billet              - the pilot's assigned billet (role/position)
//	team                - active team membership
//	squadron            - squadron affiliation
//	wing                - wing affiliation (implied by squadron membership)
//	authenticated_user  - every authenticated pilot
//	manual_override     - a single pilot, named in the rule's scope column
//
// # Scoped permissions
//
// A catalog entry is either unscoped (a boolean) or scoped (held per scope
// instance, e.g. per squadron). Scoped grants union the scopes of every
// matching rule; a scoped rule with no scope value grants the wildcard "*".
// A check with a CheckContext passes when the grant covers any requested
// scope id.
//
// # Caching and invalidation
//
// Snapshots are cached per user and stamped with a monotonically increasing
// rule-set version. Any rule mutation bumps the version, which stales every
// entry in O(1) without walking the cache; staleness is detected by version
// mismatch on read. Membership changes for one pilot use targeted per-user
// invalidation instead. Two cache implementations share the contract: an
// in-process expirable LRU and a Redis cache whose version key is shared by
// every server instance.
//
// # Error handling
//
// Rule management surfaces NotFoundError, ValidationError, and
// BackingStoreError so admin UIs can react. Checking methods never return an
// error: any internal failure is logged and converted to a deny, because a
// false negative is recoverable by retry while an error leaking into a
// security decision is not. Basis label resolution degrades to an
// "Unknown <Type>" placeholder so rule listings survive references to
// deleted entities.
package permissions
