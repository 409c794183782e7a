// Package articles manages scheduled calendar events. Every article is
// tagged with a purpose; visibility and mutation rights flow from the
// purpose's member sets, never from the article itself.
package articles
