package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/andrewdyar/switchyard-sub001/internal/retailers"
)

type State string

const (
	StatePending     State = "pending"
	StateFetching    State = "fetching"
	StateNormalizing State = "normalizing"
	StateWriting     State = "writing"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateBotBlocked  State = "bot_blocked"
)

var ErrInvalidTransition = errors.New("invalid unit transition")

// transitions lists the legal next states. writing -> fetching advances to
// the next page; bot_blocked -> pending is the cooldown retry.
var transitions = map[State][]State{
	StatePending:     {StateFetching, StateFailed},
	StateFetching:    {StateNormalizing, StateDone, StateBotBlocked, StateFailed},
	StateNormalizing: {StateWriting, StateFailed},
	StateWriting:     {StateFetching, StateDone, StateFailed},
	StateBotBlocked:  {StatePending, StateFailed},
}

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Unit is one (retailer, location, category) crawl. It is owned by a single
// worker goroutine.
type Unit struct {
	Retailer string
	Location string
	Category retailers.Category

	State State
	// Page is the next page to fetch. A bot block leaves it unchanged so the
	// retry resumes where the unit stopped.
	Page       int
	Pages      int
	Records    int
	BotRetries int
	Err        error
	Started    time.Time
	Finished   time.Time
}

func NewUnit(retailer, location string, cat retailers.Category) *Unit {
	return &Unit{Retailer: retailer, Location: location, Category: cat, State: StatePending, Page: 1}
}

func (u *Unit) Transition(to State) error {
	for _, next := range transitions[u.State] {
		if next == to {
			u.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.State, to)
}

// fail moves the unit to failed from any non-terminal state.
func (u *Unit) fail(err error) {
	if u.State.Terminal() {
		return
	}
	u.State = StateFailed
	u.Err = err
}

func (u *Unit) Key() string {
	if u.Location == "" {
		return u.Retailer + "/" + u.Category.Key()
	}
	return u.Retailer + "@" + u.Location + "/" + u.Category.Key()
}

type UnitReport struct {
	Retailer   string `json:"retailer"`
	Location   string `json:"location,omitempty"`
	Category   string `json:"category"`
	State      State  `json:"state"`
	Pages      int    `json:"pages"`
	Records    int    `json:"records"`
	BotRetries int    `json:"bot_retries"`
	Error      string `json:"error,omitempty"`
}

func (u *Unit) Report() UnitReport {
	r := UnitReport{
		Retailer:   u.Retailer,
		Location:   u.Location,
		Category:   u.Category.Key(),
		State:      u.State,
		Pages:      u.Pages,
		Records:    u.Records,
		BotRetries: u.BotRetries,
	}
	if u.Err != nil {
		r.Error = u.Err.Error()
	}
	return r
}
