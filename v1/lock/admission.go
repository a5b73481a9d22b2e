package lock

// admission caps the number of simultaneously granted requests. A limit of
// zero or less means unbounded.
type admission struct {
	limit   int
	running int
}

func (a *admission) available() bool {
	return a.limit <= 0 || a.running < a.limit
}

func (a *admission) enter() {
	a.running++
}

func (a *admission) leave() {
	if a.running == 0 {
		panic("lock: admission slot released twice")
	}
	a.running--
}
