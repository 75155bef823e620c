package checkout

type State string

const (
	StateSelectingAddress         State = "SELECTING_ADDRESS"
	StateSelectingPayment         State = "SELECTING_PAYMENT"
	StateAwaitingGatewayHandshake State = "AWAITING_GATEWAY_HANDSHAKE"
	StateAwaitingGatewayCallback  State = "AWAITING_GATEWAY_CALLBACK"
	StateSubmitting               State = "SUBMITTING"
	StateCompleted                State = "COMPLETED"
	StateFailed                   State = "FAILED"
)

// transitions lists every allowed edge. AwaitingGatewayCallback back to
// SelectingPayment covers both a dismissed session and an abandoned one that
// hit the gateway timeout.
var transitions = map[State]map[State]bool{
	StateSelectingAddress: {
		StateSelectingPayment: true,
	},
	StateSelectingPayment: {
		StateSelectingAddress:         true,
		StateAwaitingGatewayHandshake: true,
		StateSubmitting:               true,
	},
	StateAwaitingGatewayHandshake: {
		StateAwaitingGatewayCallback: true,
		StateFailed:                  true,
	},
	StateAwaitingGatewayCallback: {
		StateSubmitting:       true,
		StateSelectingPayment: true,
		StateFailed:           true,
	},
	StateSubmitting: {
		StateCompleted: true,
		StateFailed:    true,
	},
	StateFailed: {
		StateSelectingPayment: true,
		StateSelectingAddress: true,
	},
	StateCompleted: {},
}

func (s State) CanTransitionTo(to State) bool {
	return transitions[s][to]
}

func (s State) IsTerminal() bool {
	return s == StateCompleted
}

// InFlight reports whether a submission attempt is running.
func (s State) InFlight() bool {
	switch s {
	case StateAwaitingGatewayHandshake, StateAwaitingGatewayCallback, StateSubmitting:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}
