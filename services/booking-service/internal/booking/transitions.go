package booking

import (
	"slices"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
)

// Action is an explicit lifecycle command.
type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionBegin    Action = "begin"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionNoShow   Action = "no_show"
)

type rule struct {
	to   model.State
	from []model.State
}

var rules = map[Action]rule{
	ActionConfirm:  {to: model.StateConfirmed, from: []model.State{model.StateReserved}},
	ActionBegin:    {to: model.StateInProgress, from: []model.State{model.StateConfirmed}},
	ActionComplete: {to: model.StateCompleted, from: model.OpenStates},
	ActionCancel:   {to: model.StateCancelled, from: model.OpenStates},
	ActionNoShow:   {to: model.StateNoShow, from: model.OpenStates},
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := rules[a]; !ok {
		return "", apperr.Validation("unknown action %q", s)
	}
	return a, nil
}

// Next returns the state reached by applying a to current.
func Next(current model.State, a Action) (model.State, error) {
	r, ok := rules[a]
	if !ok {
		return "", apperr.Validation("unknown action %q", a)
	}
	if !slices.Contains(r.from, current) {
		return "", apperr.InvalidTransition("cannot %s an appointment that is %s", a, current)
	}
	return r.to, nil
}
