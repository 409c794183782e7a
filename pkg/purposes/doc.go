// Package purposes implements the access-category model at the heart of
// the service. A purpose is a named category; users hold read or write
// capability on it through the membership table, which is the single
// source of truth for permissions.
//
// The Registry mutates purposes and memberships. The Checker answers
// "does user U hold capability C on purpose P" with a short-TTL cache in
// front of the table; every Registry mutation invalidates the affected
// purpose's cached decisions. A check against a purpose that does not
// exist is a deny, never an error.
package purposes
