package dashboard

import (
	"time"

	"github.com/jogardn/customer-directory/internal/directory"
	"github.com/jogardn/customer-directory/internal/loadstate"
)

// stateView is the JSON shape of a load state. Data is set by the caller
// only on success.
type stateView struct {
	State      loadstate.Status `json:"state"`
	Generation uint64           `json:"generation"`
	Data       interface{}      `json:"data,omitempty"`
	Query      string           `json:"query,omitempty"`
	Kind       directory.Kind   `json:"kind,omitempty"`
	Status     int              `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func newStateView[T any](state loadstate.State[T]) stateView {
	view := stateView{
		State:      state.Status,
		Generation: state.Generation,
		UpdatedAt:  state.UpdatedAt,
	}

	if state.Status == loadstate.StatusError {
		view.Kind = directory.KindOf(state.Err)
		view.Message = directory.MessageOf(state.Err)
		view.Status = directory.StatusOf(state.Err)
	}
	return view
}
