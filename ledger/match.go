package ledger

import (
	"strings"
	"time"
)

// MatchRecord is an immutable, authority-attested match result. No operation
// mutates a record after creation.
type MatchRecord struct {
	ID           uint64    `json:"match_id"`
	Player1      string    `json:"player1"`
	Player2      string    `json:"player2"`
	Winner       string    `json:"winner"`
	Fingerprint  string    `json:"game_state_fingerprint"`
	Player1Score uint32    `json:"player1_score"`
	Player2Score uint32    `json:"player2_score"`
	Timestamp    time.Time `json:"timestamp"`
}

// PlayerStats are derived counters, maintained incrementally alongside the
// records. Every recorded match has a winner, so draws stay at zero under the
// current rules.
type PlayerStats struct {
	TotalMatches uint64 `json:"total_matches"`
	Wins         uint64 `json:"wins"`
	Losses       uint64 `json:"losses"`
	Draws        uint64 `json:"draws"`
	WinRateBps   uint64 `json:"win_rate_bps"`
}

// MatchLedger records match results submitted by the configured game server
// identity and maintains per-player statistics.
type MatchLedger struct {
	gameServer   string
	matches      []MatchRecord
	totalMatches map[string]uint64
	wins         map[string]uint64
	history      map[string][]uint64
}

func newMatchLedger(gameServer string) *MatchLedger {
	return &MatchLedger{
		gameServer:   gameServer,
		totalMatches: make(map[string]uint64),
		wins:         make(map[string]uint64),
		history:      make(map[string][]uint64),
	}
}

func (m *MatchLedger) recordMatch(caller string, op *RecordMatchOp, now time.Time) (*MatchRecord, []Event, *Error) {
	if caller != m.gameServer {
		return nil, nil, unauthorized(CodeNotAuthorized, "%s is not the recording authority", caller)
	}
	if op.Player1 == op.Player2 {
		return nil, nil, precondition(CodeSamePlayer, "players must be different")
	}
	if op.Winner != op.Player1 && op.Winner != op.Player2 {
		return nil, nil, precondition(CodeInvalidWinner, "winner %s is neither player", op.Winner)
	}
	if zeroFingerprint(op.Fingerprint) {
		return nil, nil, precondition(CodeInvalidFingerprint, "game state fingerprint is the zero value")
	}

	id := uint64(len(m.matches))
	record := MatchRecord{
		ID:           id,
		Player1:      op.Player1,
		Player2:      op.Player2,
		Winner:       op.Winner,
		Fingerprint:  op.Fingerprint,
		Player1Score: op.Player1Score,
		Player2Score: op.Player2Score,
		Timestamp:    now,
	}
	m.matches = append(m.matches, record)
	m.totalMatches[op.Player1]++
	m.totalMatches[op.Player2]++
	m.wins[op.Winner]++
	m.history[op.Player1] = append(m.history[op.Player1], id)
	m.history[op.Player2] = append(m.history[op.Player2], id)

	ev := Event{Type: EventMatchRecorded, Attributes: []Attribute{
		attrUint("match_id", id),
		attr("player1", op.Player1),
		attr("player2", op.Player2),
		attr("winner", op.Winner),
		attr("game_state_fingerprint", op.Fingerprint),
		attrUint("player1_score", uint64(op.Player1Score)),
		attrUint("player2_score", uint64(op.Player2Score)),
	}}
	return &record, []Event{ev}, nil
}

func (m *MatchLedger) updateGameServer(caller string, op *UpdateGameServerOp) ([]Event, *Error) {
	if caller != m.gameServer {
		return nil, unauthorized(CodeNotAuthorized, "%s is not the recording authority", caller)
	}
	if op.NewAuthority == "" {
		return nil, precondition(CodeInvalidAddress, "new authority address is empty")
	}
	old := m.gameServer
	m.gameServer = op.NewAuthority

	return []Event{{Type: EventGameServerUpdated, Attributes: []Attribute{
		attr("old_authority", old),
		attr("new_authority", op.NewAuthority),
	}}}, nil
}

func (m *MatchLedger) getMatch(id uint64) (*MatchRecord, *Error) {
	if id >= uint64(len(m.matches)) {
		return nil, notFound(CodeMatchNotFound, "match %d does not exist", id)
	}
	record := m.matches[id]
	return &record, nil
}

func (m *MatchLedger) playerMatchHistory(address string) []uint64 {
	ids := m.history[address]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

func (m *MatchLedger) playerStats(address string) PlayerStats {
	total := m.totalMatches[address]
	wins := m.wins[address]
	return PlayerStats{
		TotalMatches: total,
		Wins:         wins,
		Losses:       total - wins,
		Draws:        0,
		WinRateBps:   winRate(wins, total),
	}
}

// winRate returns wins as basis points of total, 0 for players with no matches.
func winRate(wins, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return wins * 10000 / total
}

func (m *MatchLedger) verifyGameState(id uint64, candidate string) (bool, *Error) {
	record, err := m.getMatch(id)
	if err != nil {
		return false, err
	}
	return record.Fingerprint == candidate, nil
}

func (m *MatchLedger) totalRecorded() uint64 {
	return uint64(len(m.matches))
}

// zeroFingerprint treats the empty string and all-zero hex digests
// (with or without a 0x prefix) as the zero value.
func zeroFingerprint(fp string) bool {
	fp = strings.TrimPrefix(fp, "0x")
	if fp == "" {
		return true
	}
	return strings.Trim(fp, "0") == ""
}
