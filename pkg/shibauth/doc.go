// Package shibauth reconciles SSO-asserted identity attributes onto the
// local user-and-group model and establishes a session.
//
// # Overview
//
// The service runs behind a trusted attribute-injecting front end (for
// example Apache with mod_shib). On each login request the front end
// places the asserting identity provider and a set of user attributes on
// the request as headers. The engine then:
//
//  1. Extracts the assertion (IdP value, mapped attributes, group field)
//  2. Validates the IdP against the authorized allowlist
//  3. Checks presence of all required attributes
//  4. Finds or creates the local user keyed by username
//  5. Reconciles group membership from static per-IdP configuration and
//     the dynamic semicolon-delimited group header
//  6. Projects the staff flag from membership in the configured staff group
//  7. Establishes a session and redirects
//
// All validation happens before any store write; failed logins leave no
// user or group state behind.
//
// # Authoritative group sync
//
// With GroupsAuthoritative enabled (the default), membership is fully
// recomputed from each assertion: groups outside the request's entitlement
// set are revoked. Disabling it falls back to additive-only legacy
// behavior where membership only ever grows.
//
// # Related Packages
//
//   - pkg/identity: the store the engine reconciles against
//   - pkg/session: session issuance after a successful login
package shibauth
