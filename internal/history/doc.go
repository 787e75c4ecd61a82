// Package history keeps an append-only SQLite journal of resolution
// decisions. The mapping store only holds the latest decision per circuit;
// the journal answers "what did earlier runs pick, and why".
package history
