package reconcile

// Observer receives the operations needed to replay a list change.
// Parents are nil for flat lists.
type Observer[T any] interface {
	BeginUpdates()
	EndUpdates()
	ItemsInserted(indexes []int, parent any)
	ItemsRemoved(indexes []int, parent any)
	ItemMoved(from int, fromParent any, to int, toParent any)
	ItemChanged(item T)
	Reload()
}

// Emit drives o with script and then reports changed items.
// An empty script produces no Begin/End pair.
func Emit[T any](o Observer[T], script Script, parent any, changed []T) {
	if !script.Empty() {
		o.BeginUpdates()
		if len(script.Removed) > 0 {
			o.ItemsRemoved(script.Removed, parent)
		}
		for _, m := range script.Moved {
			o.ItemMoved(m.From, parent, m.To, parent)
		}
		if len(script.Inserted) > 0 {
			o.ItemsInserted(script.Inserted, parent)
		}
		o.EndUpdates()
	}
	for _, item := range changed {
		o.ItemChanged(item)
	}
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs[T any] struct {
	OnBegin  func()
	OnEnd    func()
	OnInsert func(indexes []int)
	OnRemove func(indexes []int)
	OnMove   func(from, to int)
	OnChange func(item T)
	OnReload func()
}

func (f ObserverFuncs[T]) BeginUpdates() {
	if f.OnBegin != nil {
		f.OnBegin()
	}
}

func (f ObserverFuncs[T]) EndUpdates() {
	if f.OnEnd != nil {
		f.OnEnd()
	}
}

func (f ObserverFuncs[T]) ItemsInserted(indexes []int, _ any) {
	if f.OnInsert != nil {
		f.OnInsert(indexes)
	}
}

func (f ObserverFuncs[T]) ItemsRemoved(indexes []int, _ any) {
	if f.OnRemove != nil {
		f.OnRemove(indexes)
	}
}

func (f ObserverFuncs[T]) ItemMoved(from int, _ any, to int, _ any) {
	if f.OnMove != nil {
		f.OnMove(from, to)
	}
}

func (f ObserverFuncs[T]) ItemChanged(item T) {
	if f.OnChange != nil {
		f.OnChange(item)
	}
}

func (f ObserverFuncs[T]) Reload() {
	if f.OnReload != nil {
		f.OnReload()
	}
}
