/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game holds the authoritative model of an aliasbox session:
// participants, teams, the current turn and the word pool, plus the
// state machine that is the only writer of that model.
package game

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Phase is the top-level session state.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// TurnPhase is the nested state of a Playing session.
type TurnPhase string

const (
	// TurnIdle waits for the current participant to flip their card.
	TurnIdle TurnPhase = "idle"
	// TurnActive means the round countdown is running.
	TurnActive TurnPhase = "active"
	// TurnOver waits for the host to acknowledge the turn summary.
	TurnOver TurnPhase = "turn_over"
)

// Participant is one device (or the host operator) taking part in the session.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	TeamID      string    `json:"teamId,omitempty"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Team tracks a score and the order in which its members take turns.
type Team struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Score       int      `json:"score"`
	MemberOrder []string `json:"memberOrder"`
}

// Turn is replaced wholesale at every turn boundary. While the session is in
// TurnOver it describes the turn that just ended.
type Turn struct {
	Seq           int       `json:"seq"`
	TeamID        string    `json:"teamId"`
	ParticipantID string    `json:"participantId"`
	Index         int       `json:"participantIndexWithinTeam"`
	Word          string    `json:"currentWord,omitempty"`
	Points        int       `json:"pointsThisTurn"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
}

// Settings are chosen by the host before the game starts.
type Settings struct {
	WinningScore     int `json:"winningScore"`
	RoundTimeSeconds int `json:"roundTimeSeconds"`
}

// DefaultSettings match the values the game has always shipped with.
var DefaultSettings = Settings{
	WinningScore:     20,
	RoundTimeSeconds: 60,
}

// RoundTime is the countdown length of a single turn.
func (s Settings) RoundTime() time.Duration {
	return time.Duration(s.RoundTimeSeconds) * time.Second
}

func (s Settings) validate() error {
	if s.WinningScore < 1 {
		return fmt.Errorf("%w: winning score must be at least 1, got %d", ErrInvalidSettings, s.WinningScore)
	}
	if s.RoundTimeSeconds < 1 {
		return fmt.Errorf("%w: round time must be at least 1s, got %ds", ErrInvalidSettings, s.RoundTimeSeconds)
	}
	return nil
}

// Session is the root aggregate. Only Machine.Apply writes to it; everyone
// else works on a Clone.
type Session struct {
	Version      int                     `json:"version"`
	HostID       string                  `json:"hostId"`
	Participants map[string]*Participant `json:"participants"`
	Teams        map[string]*Team        `json:"teams"`
	TeamOrder    []string                `json:"teamOrder"`
	Turn         *Turn                   `json:"turn,omitempty"`
	TurnCount    int                     `json:"turnCount"`
	Settings     Settings                `json:"settings"`
	Phase        Phase                   `json:"phase"`
	TurnPhase    TurnPhase               `json:"turnPhase"`
	WordPool     WordPool                `json:"wordPool"`
}

// NewSession creates an empty lobby containing only the host. Teams are
// created from teamNames and keep that order for turn rotation.
func NewSession(hostID, hostName string, teamNames []string, settings Settings, now time.Time) (*Session, error) {
	if hostID == "" {
		return nil, errors.New("host id must not be empty")
	}
	if len(teamNames) == 0 {
		return nil, errors.New("at least one team is required")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		HostID:       hostID,
		Participants: make(map[string]*Participant),
		Teams:        make(map[string]*Team, len(teamNames)),
		TeamOrder:    make([]string, 0, len(teamNames)),
		Settings:     settings,
		Phase:        PhaseLobby,
		TurnPhase:    TurnIdle,
	}

	for i, name := range teamNames {
		id := "team-" + strconv.Itoa(i+1)
		s.Teams[id] = &Team{ID: id, Name: name, MemberOrder: []string{}}
		s.TeamOrder = append(s.TeamOrder, id)
	}

	if hostName == "" {
		hostName = "Host"
	}
	s.Participants[hostID] = &Participant{
		ID:          hostID,
		DisplayName: hostName,
		Connected:   true,
		JoinedAt:    now,
	}

	return s, nil
}

// GameStarted reports whether a game is in progress.
func (s *Session) GameStarted() bool {
	return s.Phase == PhasePlaying
}

// GameActive reports whether the round countdown is running.
func (s *Session) GameActive() bool {
	return s.Phase == PhasePlaying && s.TurnPhase == TurnActive
}

// CurrentParticipant returns whose turn it is, if anyone's.
func (s *Session) CurrentParticipant() (*Participant, bool) {
	if s.Turn == nil {
		return nil, false
	}
	p, ok := s.Participants[s.Turn.ParticipantID]
	return p, ok
}

// DisplayName falls back to the id for participants that have been evicted.
func (s *Session) DisplayName(id string) string {
	if p, ok := s.Participants[id]; ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return id
}

// TeamsWithMembers lists team ids in rotation order, skipping empty teams.
func (s *Session) TeamsWithMembers() []string {
	ids := make([]string, 0, len(s.TeamOrder))
	for _, id := range s.TeamOrder {
		if t, ok := s.Teams[id]; ok && len(t.MemberOrder) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Unassigned returns participant ids without a team, sorted.
func (s *Session) Unassigned() []string {
	var ids []string
	for id, p := range s.Participants {
		if p.TeamID == "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Clone returns a deep copy that shares no memory with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	c := *s
	c.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		c.Participants[id] = &cp
	}
	c.Teams = make(map[string]*Team, len(s.Teams))
	for id, t := range s.Teams {
		ct := *t
		ct.MemberOrder = slices.Clone(t.MemberOrder)
		c.Teams[id] = &ct
	}
	c.TeamOrder = slices.Clone(s.TeamOrder)
	if s.Turn != nil {
		turn := *s.Turn
		c.Turn = &turn
	}
	c.WordPool.Remaining = slices.Clone(s.WordPool.Remaining)

	return &c
}

// Validate checks the structural invariants of the session.
func (s *Session) Validate() error {
	for id, p := range s.Participants {
		if p.ID != id {
			return fmt.Errorf("participant %q stored under key %q", p.ID, id)
		}
		if p.TeamID == "" {
			continue
		}
		t, ok := s.Teams[p.TeamID]
		if !ok {
			return fmt.Errorf("participant %q refers to unknown team %q", id, p.TeamID)
		}
		if n := count(t.MemberOrder, id); n != 1 {
			return fmt.Errorf("participant %q appears %d times in team %q", id, n, t.ID)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(s.Teams)) {
		t := s.Teams[id]
		if t.Score < 0 {
			return fmt.Errorf("team %q has negative score %d", id, t.Score)
		}
		for _, member := range t.MemberOrder {
			p, ok := s.Participants[member]
			if !ok {
				return fmt.Errorf("team %q lists unknown participant %q", id, member)
			}
			if p.TeamID != id {
				return fmt.Errorf("team %q lists participant %q assigned to %q", id, member, p.TeamID)
			}
		}
	}

	if s.Phase == PhasePlaying && s.TurnPhase != TurnOver {
		if s.Turn == nil {
			return errors.New("playing session has no turn")
		}
		t, ok := s.Teams[s.Turn.TeamID]
		if !ok {
			return fmt.Errorf("turn refers to unknown team %q", s.Turn.TeamID)
		}
		if s.Turn.Index < 0 || s.Turn.Index >= len(t.MemberOrder) || t.MemberOrder[s.Turn.Index] != s.Turn.ParticipantID {
			return fmt.Errorf("turn participant %q is not member %d of team %q", s.Turn.ParticipantID, s.Turn.Index, t.ID)
		}
	}

	return nil
}

// detach removes a participant from its team, keeping the current turn index
// pointing at the same member. It returns the index the participant held.
func (s *Session) detach(id string) int {
	p, ok := s.Participants[id]
	if !ok || p.TeamID == "" {
		return -1
	}
	t, ok := s.Teams[p.TeamID]
	p.TeamID = ""
	if !ok {
		return -1
	}

	idx := slices.Index(t.MemberOrder, id)
	if idx < 0 {
		return -1
	}
	t.MemberOrder = slices.Delete(t.MemberOrder, idx, idx+1)

	if s.Turn != nil && s.Turn.TeamID == t.ID && idx < s.Turn.Index {
		s.Turn.Index--
	}

	return idx
}

func count(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}
