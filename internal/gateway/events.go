package gateway

// Control messages exchanged with viewers. Battle state and game_over
// payloads are built by the battle package; these cover everything else.

// NoBattle tells a newly-connected viewer there is nothing to watch yet.
type NoBattle struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Pong answers a client ping. Server-side liveness probing uses
// protocol-level ping frames from the write pump instead.
type Pong struct {
	Type string `json:"type"`
}

func noBattleMessage() NoBattle {
	return NoBattle{Type: "no_battle", Message: "No active battle"}
}

func pongMessage() Pong {
	return Pong{Type: "pong"}
}
