package dispatch

// Presenter renders engine activity. Calls are made synchronously from the
// dispatching goroutine; implementations must not call back into Dispatch.
type Presenter interface {
	ProcessingStarted()
	ProcessingEnded()
	AssistantTurn(text string)
	Status(message string, isError bool)
}

// NopPresenter discards every notification.
type NopPresenter struct{}

func (NopPresenter) ProcessingStarted()   {}
func (NopPresenter) ProcessingEnded()     {}
func (NopPresenter) AssistantTurn(string) {}
func (NopPresenter) Status(string, bool)  {}

// Presenters fans notifications out to several presenters in order.
type Presenters []Presenter

func (ps Presenters) ProcessingStarted() {
	for _, p := range ps {
		p.ProcessingStarted()
	}
}

func (ps Presenters) ProcessingEnded() {
	for _, p := range ps {
		p.ProcessingEnded()
	}
}

func (ps Presenters) AssistantTurn(text string) {
	for _, p := range ps {
		p.AssistantTurn(text)
	}
}

func (ps Presenters) Status(message string, isError bool) {
	for _, p := range ps {
		p.Status(message, isError)
	}
}
