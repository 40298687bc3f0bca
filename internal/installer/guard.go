package installer

// guard accumulates rollback steps during a transaction and runs them in
// reverse order unless dismissed at the commit point.
type guard struct {
	steps     []func()
	dismissed bool
}

func newGuard() *guard { return &guard{} }

func (g *guard) push(fn func()) { g.steps = append(g.steps, fn) }

// dismiss marks the transaction committed; pending steps never run.
func (g *guard) dismiss() { g.dismissed = true }

// run executes pending steps last-in-first-out. Safe to call from defer.
func (g *guard) run() {
	if g.dismissed {
		return
	}
	for i := len(g.steps) - 1; i >= 0; i-- {
		g.steps[i]()
	}
	g.steps = nil
}
