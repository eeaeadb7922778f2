package dbft

// N returns the number of validators in the current registry.
func (c *Context) N() int { return len(c.Validators) }

// F returns the maximum number of faulty validators the set can
// tolerate: F = (N-1) div 3.
func (c *Context) F() int { return (c.N() - 1) / 3 }

// M returns the safety quorum: M = N - F.
func (c *Context) M() int { return c.N() - c.F() }

func mod(a int, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// GetPriorityPrimaryIndex returns the priority primary for view v.
func (c *Context) GetPriorityPrimaryIndex(v byte) uint {
	return uint(mod(int(c.BlockIndex)-int(v), c.N()))
}

// GetFallbackPrimaryIndex returns the fallback primary for view v. It
// may coincide with the priority primary, in which case the fallback
// slot is inert for that view.
func (c *Context) GetFallbackPrimaryIndex(v byte) uint {
	return uint(mod(int(c.BlockIndex)-int(v)-1, c.N()))
}

// GetPrimaryIndex returns the primary index for the given slot at
// view v.
func (c *Context) GetPrimaryIndex(v byte, slot Slot) uint {
	if slot == FallbackSlotID {
		return c.GetFallbackPrimaryIndex(v)
	}
	return c.GetPriorityPrimaryIndex(v)
}
