// Package requests implements the access-request lifecycle: a user files
// a request for read access to a purpose, an approver resolves it to
// Approved or Denied, and approval triggers an idempotent membership
// grant through the purpose registry.
//
// Pending is the only non-terminal status. Resolution is a
// compare-and-set on the status column, so concurrent resolvers cannot
// both win. The status commit is authoritative: when the follow-up grant
// fails the request stays Approved with grant_applied false and the
// Reconciler retries it on a cron schedule. Notifications are sent only
// after the commit and never affect the outcome.
package requests
