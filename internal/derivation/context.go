package derivation

// ContextOptions controls how collected sequences treat absent and null values.
type ContextOptions struct {
	// SkipNull drops present-but-null values from collected sequences.
	SkipNull bool
	// SkipUndefined drops fan-out elements that lack the leaf key.
	// When false those elements contribute a nil placeholder.
	SkipUndefined bool
}

// DefaultContextOptions keeps nulls and drops absent leaves.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{SkipNull: false, SkipUndefined: true}
}

// Context is an ordered set of rules plus evaluation options.
// Rule order is evaluation order; a later rule overwrites an earlier one
// writing the same target field. No de-duplication is performed.
type Context struct {
	rules   []*Rule
	options ContextOptions
}

// NewContext creates a Context over a copy of rules. Nil entries are dropped.
func NewContext(rules []*Rule, opts ContextOptions) *Context {
	kept := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &Context{rules: kept, options: opts}
}

// Rules returns the rules in evaluation order.
func (c *Context) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Options returns the evaluation options.
func (c *Context) Options() ContextOptions {
	return c.options
}

// Len returns the number of rules.
func (c *Context) Len() int {
	return len(c.rules)
}
