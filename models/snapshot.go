package models

// RoomSnapshot is the complete authoritative view of one room as of Seq.
// A client that applies events with seq > Seq on top of it reconstructs
// the live state exactly; players are in leaderboard order.
//
// Answers is only populated on the host view: every answer to the active
// question, oldest first, so the host can grade without polling players
// one by one. Player and anonymous views never carry it.
type RoomSnapshot struct {
	Room           Room      `json:"room"`
	Players        []Player  `json:"players"`
	ActiveQuestion *Question `json:"active_question,omitempty"`
	OwnAnswer      *Answer   `json:"own_answer,omitempty"`
	Answers        []Answer  `json:"answers,omitempty"`
	Seq            uint64    `json:"seq"`
}
