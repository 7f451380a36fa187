// Package repair orchestrates the two recovery phases end to end: log
// replay (package xlog) followed by parallel per-directory repair
// (package dir2). It owns the process-wide state those phases share —
// the no-modify/discovery toggles, the "root's .. is still missing"
// latch, and the set of directories that came out corrupt — as an
// explicit Context rather than package-level globals.
package repair

import "sync/atomic"

// Context bundles the recovery-wide configuration and shared repair
// state. Built with NewContext and a set of Options, in the manner of
// pilat-ext4's functional-options image builder, since there is no
// on-disk config format here to parse — only in-process toggles.
type Context struct {
	NoModify     bool
	InoDiscovery bool

	needRootDotdot atomic.Bool
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithNoModify runs every repair routine read-only: every "clear" or
// "correct" action is reported through logging but never written back.
func WithNoModify() Option {
	return func(c *Context) { c.NoModify = true }
}

// WithInoDiscovery enables inode-discovery mode: a directory entry
// referencing an inode the scan hasn't reached yet is deferred as
// uncertain instead of being junked outright.
func WithInoDiscovery() Option {
	return func(c *Context) { c.InoDiscovery = true }
}

// NewContext builds a Context with the given options applied over the
// zero-value defaults (modify freely, no discovery deferral).
func NewContext(opts ...Option) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNeedRootDotdot latches that the root directory was found without
// a `..` entry, for the pass that rebuilds it to consult afterward.
// Idempotent: once latched, it stays latched for the life of the
// Context.
func (c *Context) SetNeedRootDotdot() {
	c.needRootDotdot.Store(true)
}

// NeedRootDotdot reports whether the root directory's `..` still needs
// to be rebuilt.
func (c *Context) NeedRootDotdot() bool {
	return c.needRootDotdot.Load()
}
