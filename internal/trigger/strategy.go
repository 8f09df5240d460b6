package trigger

import "context"

// StrategyFuncs adapts two function values to a Strategy. A nil Safe accepts
// every event; a nil Process produces no requests.
type StrategyFuncs struct {
	Safe    func(event Event) (bool, error)
	Process func(ctx context.Context, event Event) (*Request, error)
	Types   EventType
}

func (f StrategyFuncs) IsSafe(event Event) (bool, error) {
	if f.Safe == nil {
		return true, nil
	}
	return f.Safe(event)
}

func (f StrategyFuncs) ProcessEvent(ctx context.Context, event Event) (*Request, error) {
	if f.Process == nil {
		return nil, nil
	}
	return f.Process(ctx, event)
}

// EventTypes returns Types, falling back to DefaultEventTypes when unset.
func (f StrategyFuncs) EventTypes() EventType {
	if f.Types == 0 {
		return DefaultEventTypes
	}
	return f.Types
}
