package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNameSessionCompleted   = "session.completed"
	EventNameRoundClosed        = "round.closed"
	EventNameRoundSettled       = "round.settled"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionStarted struct {
	Session Session
	Resumed bool
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventAnswerSubmitted struct {
	Session Session
	Answer  Answer
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventSessionCompleted struct {
	Session Session
}

func (EventSessionCompleted) Name() string { return EventNameSessionCompleted }

type EventRoundClosed struct {
	Round Round
}

func (EventRoundClosed) Name() string { return EventNameRoundClosed }

type EventRoundSettled struct {
	Round   Round
	Payouts []Payout
	// Refunded lists the wallets paid back when the round under-subscribed.
	Refunded []string
}

func (EventRoundSettled) Name() string { return EventNameRoundSettled }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
