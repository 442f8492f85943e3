package jinja2

// Context is a chained variable scope. Lookups walk from the scope to its
// parents and the first binding wins; Set always binds in the scope it is
// called on, shadowing any parent binding of the same name.
type Context struct {
	vars   map[string]Value
	parent *Context
}

// NewContext creates an empty root context.
func NewContext() *Context {
	return &Context{vars: map[string]Value{}}
}

// NewContextFromAny creates a root context seeded from a map. Nested maps
// and slices are converted with FromGo.
func NewContextFromAny(m map[string]any) *Context {
	ctx := NewContext()
	for k, v := range m {
		ctx.vars[k] = FromGo(v)
	}
	return ctx
}

// NewContextFromObject creates a root context from a map or struct. Struct
// fields are bound by name (or json tag). Any other value yields an empty
// context.
func NewContextFromObject(obj any) *Context {
	ctx := NewContext()
	if d, ok := FromGo(obj).(DictValue); ok {
		for k, v := range d {
			ctx.vars[k] = v
		}
	}
	return ctx
}

// Child returns a new scope whose parent is c.
func (c *Context) Child() *Context {
	return &Context{vars: map[string]Value{}, parent: c}
}

func (c *Context) Parent() *Context { return c.parent }

// Get looks name up in c and then its ancestors.
func (c *Context) Get(name string) (Value, bool) {
	for s := c; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Lookup is Get with none for undefined names.
func (c *Context) Lookup(name string) Value {
	if v, ok := c.Get(name); ok {
		return v
	}
	return NoneValue{}
}

// Set binds name in this scope. Go values are converted with FromGo.
func (c *Context) Set(name string, val any) {
	c.vars[name] = FromGo(val)
}

// IsDefined reports whether name is bound in c or any ancestor.
func (c *Context) IsDefined(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// IsLocal reports whether name is bound directly in this scope.
func (c *Context) IsLocal(name string) bool {
	_, ok := c.vars[name]
	return ok
}

// Flatten returns every visible binding, inner scopes winning.
func (c *Context) Flatten() DictValue {
	var chain []*Context
	for s := c; s != nil; s = s.parent {
		chain = append(chain, s)
	}
	out := DictValue{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars {
			out[k] = v
		}
	}
	return out
}

// Names returns every visible variable name in sorted order.
func (c *Context) Names() []string {
	return c.Flatten().Keys()
}
