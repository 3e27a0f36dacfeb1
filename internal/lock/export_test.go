package lock

func (l *Keyed[K]) Len() int { return l.size() }
