// Package textutil provides small text helpers for filename folding and
// token sanitization.
package textutil
