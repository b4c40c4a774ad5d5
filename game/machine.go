/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

var (
	ErrNoWords                = errors.New("word list is empty")
	ErrInvalidSettings        = errors.New("invalid settings")
	ErrNotInLobby             = errors.New("only possible in the lobby")
	ErrUnknownParticipant     = errors.New("unknown participant")
	ErrUnknownTeam            = errors.New("unknown team")
	ErrUnassignedParticipants = errors.New("every participant must be assigned to a team")
	ErrNoTeamMembers          = errors.New("at least one team needs a member")
	ErrTurnNotOver            = errors.New("the current turn is not over")
	ErrEvictHost              = errors.New("the host cannot be evicted")
)

// Kind keys the dispatch table.
type Kind string

const (
	KindJoin       Kind = "join"
	KindLeave      Kind = "leave"
	KindEvict      Kind = "evict"
	KindAssignTeam Kind = "assign_team"
	KindConfigure  Kind = "configure"
	KindStart      Kind = "start"
	KindTurnStart  Kind = "turn_start"
	KindAction     Kind = "action"
	KindTick       Kind = "tick"
	KindNextTurn   Kind = "next_turn"
	KindRestart    Kind = "restart"
)

// ActionKind is the result a participant reports for the word on their card.
type ActionKind string

const (
	ActionCorrect ActionKind = "correct"
	ActionSkip    ActionKind = "skip"
)

// Event is one input to the state machine. Only the fields relevant to Kind
// are read.
type Event struct {
	Kind          Kind
	ParticipantID string
	DisplayName   string
	TeamID        string
	Action        ActionKind
	Settings      Settings
	Seq           int
	Now           time.Time
}

func Join(id, displayName string, now time.Time) Event {
	return Event{Kind: KindJoin, ParticipantID: id, DisplayName: displayName, Now: now}
}

func Leave(id string) Event {
	return Event{Kind: KindLeave, ParticipantID: id}
}

func Evict(id string) Event {
	return Event{Kind: KindEvict, ParticipantID: id}
}

// AssignTeam moves a participant to teamID, or out of every team when teamID is empty.
func AssignTeam(id, teamID string) Event {
	return Event{Kind: KindAssignTeam, ParticipantID: id, TeamID: teamID}
}

func Configure(settings Settings) Event {
	return Event{Kind: KindConfigure, Settings: settings}
}

func Start() Event {
	return Event{Kind: KindStart}
}

func TurnStart(from string, now time.Time) Event {
	return Event{Kind: KindTurnStart, ParticipantID: from, Now: now}
}

func Action(from string, kind ActionKind) Event {
	return Event{Kind: KindAction, ParticipantID: from, Action: kind}
}

// Tick reports the passage of time for the turn numbered seq.
func Tick(seq int, now time.Time) Event {
	return Event{Kind: KindTick, Seq: seq, Now: now}
}

func NextTurn() Event {
	return Event{Kind: KindNextTurn}
}

func Restart() Event {
	return Event{Kind: KindRestart}
}

// Timer tells the owner of the round countdown what to do with it.
type Timer int

const (
	TimerKeep Timer = iota
	TimerStart
	TimerStop
)

// NoticeKind distinguishes the transient notifications a transition can raise.
type NoticeKind string

const (
	NoticeTurnEnd NoticeKind = "turn_end"
	NoticeGameEnd NoticeKind = "game_end"
)

// Notice is a turn-boundary or game-end notification for peers.
type Notice struct {
	Kind            NoticeKind
	TurnScore       int
	ParticipantName string
	WinningTeamName string
}

// Outcome describes what an accepted event did.
type Outcome struct {
	Changed bool
	Timer   Timer
	Notices []Notice
}

type handler func(m *Machine, s *Session, ev Event) (Outcome, error)

var handlers = map[Kind]handler{
	KindJoin:       (*Machine).join,
	KindLeave:      (*Machine).leave,
	KindEvict:      (*Machine).evict,
	KindAssignTeam: (*Machine).assignTeam,
	KindConfigure:  (*Machine).configure,
	KindStart:      (*Machine).start,
	KindTurnStart:  (*Machine).turnStart,
	KindAction:     (*Machine).action,
	KindTick:       (*Machine).tick,
	KindNextTurn:   (*Machine).nextTurn,
	KindRestart:    (*Machine).restart,
}

// Machine applies events to a Session. Handlers check every guard before
// writing, so an event that is dropped or rejected leaves the session as it was.
type Machine struct {
	words []string
	rng   *rand.Rand
}

// NewMachine returns a machine drawing from words. A nil rng is replaced by a
// randomly seeded one.
func NewMachine(words []string, rng *rand.Rand) (*Machine, error) {
	if len(words) == 0 {
		return nil, ErrNoWords
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Machine{words: slices.Clone(words), rng: rng}, nil
}

// Apply runs ev against s. Application events that do not fit the current
// state are dropped and return a zero Outcome with a nil error; errors are
// only returned for operator events whose guards fail.
func (m *Machine) Apply(s *Session, ev Event) (Outcome, error) {
	h, ok := handlers[ev.Kind]
	if !ok {
		return Outcome{}, nil
	}

	out, err := h(m, s, ev)
	if err != nil {
		return Outcome{}, err
	}
	if out.Changed {
		s.Version++
	}

	return out, nil
}

func (m *Machine) join(s *Session, ev Event) (Outcome, error) {
	if ev.ParticipantID == "" {
		return Outcome{}, nil
	}

	name := strings.TrimSpace(ev.DisplayName)
	if name == "" {
		name = ev.ParticipantID
	}

	if p, ok := s.Participants[ev.ParticipantID]; ok {
		if p.Connected && p.DisplayName == name {
			return Outcome{}, nil
		}
		p.Connected = true
		p.DisplayName = name
		return Outcome{Changed: true}, nil
	}

	s.Participants[ev.ParticipantID] = &Participant{
		ID:          ev.ParticipantID,
		DisplayName: name,
		Connected:   true,
		JoinedAt:    ev.Now,
	}

	return Outcome{Changed: true}, nil
}

// leave handles channel loss. In the lobby the participant is dropped; once a
// game has started they stay on their team and are only flagged.
func (m *Machine) leave(s *Session, ev Event) (Outcome, error) {
	p, ok := s.Participants[ev.ParticipantID]
	if !ok || p.ID == s.HostID {
		return Outcome{}, nil
	}

	if s.Phase == PhaseLobby {
		s.detach(p.ID)
		delete(s.Participants, p.ID)
		return Outcome{Changed: true}, nil
	}

	if !p.Connected {
		return Outcome{}, nil
	}
	p.Connected = false

	return Outcome{Changed: true}, nil
}

func (m *Machine) evict(s *Session, ev Event) (Outcome, error) {
	p, ok := s.Participants[ev.ParticipantID]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownParticipant, ev.ParticipantID)
	}
	if p.ID == s.HostID {
		return Outcome{}, ErrEvictHost
	}

	out := Outcome{Changed: true}

	holdsTurn := s.Phase == PhasePlaying && s.Turn != nil && s.Turn.ParticipantID == p.ID
	if holdsTurn && s.TurnPhase != TurnOver {
		if s.TurnPhase == TurnActive {
			out.Timer = TimerStop
		}
		s.TurnPhase = TurnOver
		out.Notices = append(out.Notices, Notice{
			Kind:            NoticeTurnEnd,
			TurnScore:       s.Turn.Points,
			ParticipantName: p.DisplayName,
		})
	}

	idx := s.detach(p.ID)
	if holdsTurn && idx >= 0 {
		// the next member now sits at idx, so same-team rotation lands on them
		s.Turn.Index = idx - 1
	}
	delete(s.Participants, p.ID)

	return out, nil
}

func (m *Machine) assignTeam(s *Session, ev Event) (Outcome, error) {
	if s.Phase != PhaseLobby {
		return Outcome{}, ErrNotInLobby
	}
	p, ok := s.Participants[ev.ParticipantID]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownParticipant, ev.ParticipantID)
	}
	if ev.TeamID != "" {
		if _, ok := s.Teams[ev.TeamID]; !ok {
			return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownTeam, ev.TeamID)
		}
	}
	if p.TeamID == ev.TeamID {
		return Outcome{}, nil
	}

	s.detach(p.ID)
	if ev.TeamID != "" {
		t := s.Teams[ev.TeamID]
		t.MemberOrder = append(t.MemberOrder, p.ID)
		p.TeamID = t.ID
	}

	return Outcome{Changed: true}, nil
}

func (m *Machine) configure(s *Session, ev Event) (Outcome, error) {
	if s.Phase != PhaseLobby {
		return Outcome{}, ErrNotInLobby
	}
	if err := ev.Settings.validate(); err != nil {
		return Outcome{}, err
	}
	if s.Settings == ev.Settings {
		return Outcome{}, nil
	}
	s.Settings = ev.Settings

	return Outcome{Changed: true}, nil
}

func (m *Machine) start(s *Session, ev Event) (Outcome, error) {
	if s.Phase != PhaseLobby {
		return Outcome{}, ErrNotInLobby
	}

	if unassigned := s.Unassigned(); len(unassigned) > 0 {
		names := make([]string, 0, len(unassigned))
		for _, id := range unassigned {
			names = append(names, s.DisplayName(id))
		}
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnassignedParticipants, strings.Join(names, ", "))
	}

	teams := s.TeamsWithMembers()
	if len(teams) == 0 {
		return Outcome{}, ErrNoTeamMembers
	}

	for _, t := range s.Teams {
		t.Score = 0
	}
	s.WordPool.refill(m.words, m.rng)
	s.Phase = PhasePlaying
	s.TurnPhase = TurnIdle

	first := s.Teams[teams[0]]
	s.TurnCount++
	s.Turn = &Turn{
		Seq:           s.TurnCount,
		TeamID:        first.ID,
		ParticipantID: first.MemberOrder[0],
		Index:         0,
	}

	return Outcome{Changed: true}, nil
}

func (m *Machine) turnStart(s *Session, ev Event) (Outcome, error) {
	if !m.isTurnHolder(s, ev.ParticipantID) || s.TurnPhase != TurnIdle {
		return Outcome{}, nil
	}

	s.Turn.Word = s.WordPool.Draw(m.words, m.rng)
	s.Turn.StartedAt = ev.Now
	s.TurnPhase = TurnActive

	return Outcome{Changed: true, Timer: TimerStart}, nil
}

func (m *Machine) action(s *Session, ev Event) (Outcome, error) {
	if !m.isTurnHolder(s, ev.ParticipantID) || s.TurnPhase != TurnActive {
		return Outcome{}, nil
	}
	team, ok := s.Teams[s.Turn.TeamID]
	if !ok {
		return Outcome{}, nil
	}

	switch ev.Action {
	case ActionCorrect:
		team.Score++
		s.Turn.Points++

		if team.Score >= s.Settings.WinningScore {
			s.Phase = PhaseFinished
			s.TurnPhase = TurnIdle
			s.Turn.Word = ""
			return Outcome{
				Changed: true,
				Timer:   TimerStop,
				Notices: []Notice{{Kind: NoticeGameEnd, WinningTeamName: team.Name}},
			}, nil
		}
	case ActionSkip:
		if team.Score > 0 {
			team.Score--
		}
	default:
		return Outcome{}, nil
	}

	s.Turn.Word = s.WordPool.Draw(m.words, m.rng)

	return Outcome{Changed: true}, nil
}

func (m *Machine) tick(s *Session, ev Event) (Outcome, error) {
	if s.Phase != PhasePlaying || s.TurnPhase != TurnActive || s.Turn == nil || s.Turn.Seq != ev.Seq {
		return Outcome{}, nil
	}
	if ev.Now.Before(s.Turn.StartedAt.Add(s.Settings.RoundTime())) {
		return Outcome{}, nil
	}

	s.TurnPhase = TurnOver

	return Outcome{
		Changed: true,
		Timer:   TimerStop,
		Notices: []Notice{{
			Kind:            NoticeTurnEnd,
			TurnScore:       s.Turn.Points,
			ParticipantName: s.DisplayName(s.Turn.ParticipantID),
		}},
	}, nil
}

func (m *Machine) nextTurn(s *Session, ev Event) (Outcome, error) {
	if s.Phase != PhasePlaying || s.TurnPhase != TurnOver || s.Turn == nil {
		return Outcome{}, ErrTurnNotOver
	}

	next, ok := NextTurnFor(s)
	if !ok {
		return Outcome{}, ErrNoTeamMembers
	}

	s.TurnCount++
	next.Seq = s.TurnCount
	s.Turn = &next
	s.TurnPhase = TurnIdle

	return Outcome{Changed: true}, nil
}

func (m *Machine) restart(s *Session, ev Event) (Outcome, error) {
	if s.Phase == PhaseLobby {
		return Outcome{}, nil
	}

	out := Outcome{Changed: true}
	if s.TurnPhase == TurnActive {
		out.Timer = TimerStop
	}

	for id, p := range s.Participants {
		if !p.Connected && id != s.HostID {
			s.detach(id)
			delete(s.Participants, id)
		}
	}
	for _, t := range s.Teams {
		t.Score = 0
	}
	s.Turn = nil
	s.Phase = PhaseLobby
	s.TurnPhase = TurnIdle
	s.WordPool = WordPool{}

	return out, nil
}

func (m *Machine) isTurnHolder(s *Session, id string) bool {
	return s.Phase == PhasePlaying && s.Turn != nil && id != "" && s.Turn.ParticipantID == id
}

// NextTurnFor computes the turn after s.Turn: the next team with members in
// rotation order, and within a team that plays twice in a row the next member
// of its roster. Any other team starts from its first member.
func NextTurnFor(s *Session) (Turn, bool) {
	if s.Turn == nil || len(s.TeamsWithMembers()) == 0 {
		return Turn{}, false
	}

	order := s.TeamOrder
	current := slices.Index(order, s.Turn.TeamID)

	var team *Team
	for step := 1; step <= len(order); step++ {
		t, ok := s.Teams[order[(current+step+len(order))%len(order)]]
		if ok && len(t.MemberOrder) > 0 {
			team = t
			break
		}
	}
	if team == nil {
		return Turn{}, false
	}
	teamID := team.ID

	idx := 0
	if teamID == s.Turn.TeamID {
		idx = (s.Turn.Index + 1) % len(team.MemberOrder)
		if idx < 0 {
			idx = 0
		}
	}

	return Turn{
		TeamID:        teamID,
		ParticipantID: team.MemberOrder[idx],
		Index:         idx,
	}, true
}
