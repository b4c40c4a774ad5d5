/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func testMachine(t *testing.T) *Machine {
	t.Helper()

	m, err := NewMachine([]string{"apple", "river", "ladder", "cloud"}, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

func testSession(t *testing.T, teams ...string) *Session {
	t.Helper()

	if len(teams) == 0 {
		teams = []string{"Team A", "Team B"}
	}
	s, err := NewSession("0", "Host", teams, Settings{WinningScore: 2, RoundTimeSeconds: 30}, epoch)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func mustApply(t *testing.T, m *Machine, s *Session, ev Event) Outcome {
	t.Helper()

	out, err := m.Apply(s, ev)
	if err != nil {
		t.Fatalf("Apply(%s): %v", ev.Kind, err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate after %s: %v", ev.Kind, err)
	}
	return out
}

func snapshot(t *testing.T, s *Session) string {
	t.Helper()

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return string(b)
}

// lobby joins p1 and p2, puts p1 and the host on team-1 and p2 on team-2.
func lobby(t *testing.T, m *Machine, s *Session) {
	t.Helper()

	mustApply(t, m, s, Join("p1", "Ann", epoch))
	mustApply(t, m, s, Join("p2", "Bob", epoch))
	mustApply(t, m, s, AssignTeam("p1", "team-1"))
	mustApply(t, m, s, AssignTeam("p2", "team-2"))
	mustApply(t, m, s, AssignTeam("0", "team-1"))
}

func TestNewMachineRequiresWords(t *testing.T) {
	if _, err := NewMachine(nil, nil); !errors.Is(err, ErrNoWords) {
		t.Errorf("got %v, want %v", err, ErrNoWords)
	}
}

func TestNewSession(t *testing.T) {
	s := testSession(t, "Red", "Blue", "Green")

	if s.Phase != PhaseLobby {
		t.Errorf("phase %q, want %q", s.Phase, PhaseLobby)
	}
	if got, want := len(s.TeamOrder), 3; got != want {
		t.Fatalf("got %d teams, want %d", got, want)
	}
	if s.Teams[s.TeamOrder[2]].Name != "Green" {
		t.Errorf("third team %q, want Green", s.Teams[s.TeamOrder[2]].Name)
	}
	host, ok := s.Participants["0"]
	if !ok || !host.Connected {
		t.Fatalf("host missing or disconnected: %+v", host)
	}

	if _, err := NewSession("0", "", []string{"A"}, Settings{WinningScore: 0, RoundTimeSeconds: 10}, epoch); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("got %v, want %v", err, ErrInvalidSettings)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)

	if out := mustApply(t, m, s, Join("p1", "  ", epoch)); !out.Changed {
		t.Fatal("first join did not change the session")
	}
	if got := s.Participants["p1"].DisplayName; got != "p1" {
		t.Errorf("blank name stored as %q, want the id", got)
	}

	v := s.Version
	if out := mustApply(t, m, s, Join("p1", "p1", epoch)); out.Changed {
		t.Error("repeated join reported a change")
	}
	if s.Version != v {
		t.Errorf("version moved from %d to %d on a no-op", v, s.Version)
	}

	mustApply(t, m, s, Join("p1", "Ann", epoch))
	if got := s.Participants["p1"].DisplayName; got != "Ann" {
		t.Errorf("rename stored %q, want Ann", got)
	}
}

func TestAssignTeam(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	mustApply(t, m, s, Join("p1", "Ann", epoch))

	tests := []struct {
		name   string
		ev     Event
		err    error
		teamID string
	}{
		{"unknown participant", AssignTeam("nope", "team-1"), ErrUnknownParticipant, ""},
		{"unknown team", AssignTeam("p1", "team-9"), ErrUnknownTeam, ""},
		{"assign", AssignTeam("p1", "team-1"), nil, "team-1"},
		{"move", AssignTeam("p1", "team-2"), nil, "team-2"},
		{"unassign", AssignTeam("p1", ""), nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Apply(s, tt.ev)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got %v, want %v", err, tt.err)
			}
			if got := s.Participants["p1"].TeamID; got != tt.teamID {
				t.Errorf("team %q, want %q", got, tt.teamID)
			}
			if err := s.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestStartGuards(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	mustApply(t, m, s, Join("p1", "Ann", epoch))

	if _, err := m.Apply(s, Start()); !errors.Is(err, ErrUnassignedParticipants) {
		t.Errorf("got %v, want %v", err, ErrUnassignedParticipants)
	}

	mustApply(t, m, s, AssignTeam("p1", "team-2"))
	mustApply(t, m, s, AssignTeam("0", "team-2"))
	mustApply(t, m, s, Start())

	if s.Phase != PhasePlaying || s.TurnPhase != TurnIdle {
		t.Fatalf("got %s/%s, want playing/idle", s.Phase, s.TurnPhase)
	}
	// team-1 is empty so rotation begins with the first team that has members
	if s.Turn.TeamID != "team-2" || s.Turn.ParticipantID != "p1" || s.Turn.Index != 0 {
		t.Errorf("first turn %+v, want team-2/p1/0", *s.Turn)
	}
	if s.WordPool.Len() != len(m.words) {
		t.Errorf("pool holds %d words, want %d", s.WordPool.Len(), len(m.words))
	}

	if _, err := m.Apply(s, Start()); !errors.Is(err, ErrNotInLobby) {
		t.Errorf("second start: got %v, want %v", err, ErrNotInLobby)
	}
	if _, err := m.Apply(s, Configure(DefaultSettings)); !errors.Is(err, ErrNotInLobby) {
		t.Errorf("configure while playing: got %v, want %v", err, ErrNotInLobby)
	}
}

func TestStartWithoutMembers(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	mustApply(t, m, s, AssignTeam("0", ""))

	if _, err := m.Apply(s, Start()); !errors.Is(err, ErrUnassignedParticipants) {
		t.Errorf("got %v, want %v", err, ErrUnassignedParticipants)
	}

	delete(s.Participants, "0")
	if _, err := m.Apply(s, Start()); !errors.Is(err, ErrNoTeamMembers) {
		t.Errorf("got %v, want %v", err, ErrNoTeamMembers)
	}
}

func TestConfigure(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)

	if _, err := m.Apply(s, Configure(Settings{WinningScore: 5, RoundTimeSeconds: 0})); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("got %v, want %v", err, ErrInvalidSettings)
	}

	mustApply(t, m, s, Configure(Settings{WinningScore: 5, RoundTimeSeconds: 45}))
	if s.Settings.WinningScore != 5 || s.Settings.RoundTime() != 45*time.Second {
		t.Errorf("settings %+v not applied", s.Settings)
	}
}

func TestOutOfTurnEventsAreNoOps(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)
	mustApply(t, m, s, Start())

	before := snapshot(t, s)

	events := []Event{
		TurnStart("p2", epoch),
		TurnStart("", epoch),
		Action("p1", ActionCorrect),
		Action("p2", ActionCorrect),
		Tick(s.Turn.Seq, epoch.Add(time.Hour)),
		Evict("nope"),
		Leave("nope"),
		Leave("0"),
		{Kind: "bogus"},
	}
	for _, ev := range events {
		out, _ := m.Apply(s, ev)
		if out.Changed || out.Timer != TimerKeep || len(out.Notices) > 0 {
			t.Errorf("%s from %q produced %+v", ev.Kind, ev.ParticipantID, out)
		}
	}

	if after := snapshot(t, s); after != before {
		t.Errorf("session changed:\nbefore %s\nafter  %s", before, after)
	}
}

func TestTurnFlow(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)
	mustApply(t, m, s, Start())

	out := mustApply(t, m, s, TurnStart("p1", epoch))
	if out.Timer != TimerStart {
		t.Errorf("timer %v, want start", out.Timer)
	}
	if s.TurnPhase != TurnActive || s.Turn.Word == "" {
		t.Fatalf("got phase %s word %q after flip", s.TurnPhase, s.Turn.Word)
	}

	// second flip while active is ignored
	if out := mustApply(t, m, s, TurnStart("p1", epoch)); out.Changed {
		t.Error("second flip changed the session")
	}

	mustApply(t, m, s, Action("p1", ActionSkip))
	if got := s.Teams["team-1"].Score; got != 0 {
		t.Errorf("skip at zero left score %d", got)
	}

	mustApply(t, m, s, Action("p1", ActionCorrect))
	if s.Teams["team-1"].Score != 1 || s.Turn.Points != 1 {
		t.Errorf("score %d points %d, want 1/1", s.Teams["team-1"].Score, s.Turn.Points)
	}

	// a tick for an older turn is stale
	if out := mustApply(t, m, s, Tick(s.Turn.Seq-1, epoch.Add(time.Hour))); out.Changed {
		t.Error("stale tick changed the session")
	}
	if out := mustApply(t, m, s, Tick(s.Turn.Seq, epoch.Add(29*time.Second))); out.Changed {
		t.Error("early tick changed the session")
	}

	out = mustApply(t, m, s, Tick(s.Turn.Seq, epoch.Add(30*time.Second)))
	if s.TurnPhase != TurnOver || out.Timer != TimerStop {
		t.Fatalf("got phase %s timer %v, want turn_over/stop", s.TurnPhase, out.Timer)
	}
	if len(out.Notices) != 1 || out.Notices[0] != (Notice{Kind: NoticeTurnEnd, TurnScore: 1, ParticipantName: "Ann"}) {
		t.Errorf("notices %+v", out.Notices)
	}

	// actions after the countdown are ignored
	if out := mustApply(t, m, s, Action("p1", ActionCorrect)); out.Changed {
		t.Error("late action changed the session")
	}

	mustApply(t, m, s, NextTurn())
	if s.Turn.ParticipantID != "p2" || s.TurnPhase != TurnIdle || s.Turn.Points != 0 {
		t.Errorf("next turn %+v in %s", *s.Turn, s.TurnPhase)
	}
}

func TestNextTurnRequiresTurnOver(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)

	if _, err := m.Apply(s, NextTurn()); !errors.Is(err, ErrTurnNotOver) {
		t.Errorf("lobby: got %v, want %v", err, ErrTurnNotOver)
	}

	mustApply(t, m, s, Start())
	if _, err := m.Apply(s, NextTurn()); !errors.Is(err, ErrTurnNotOver) {
		t.Errorf("idle: got %v, want %v", err, ErrTurnNotOver)
	}
}

func TestRotation(t *testing.T) {
	tests := []struct {
		name    string
		teams   []string
		members map[string][]string
		want    []string
		index   []int
	}{
		{
			name:    "alternates teams",
			teams:   []string{"A", "B"},
			members: map[string][]string{"team-1": {"a1", "a2"}, "team-2": {"b1"}},
			want:    []string{"a1", "b1", "a1", "b1", "a1"},
		},
		{
			name:    "single team cycles members",
			teams:   []string{"A", "B"},
			members: map[string][]string{"team-1": {"a1", "a2", "a3"}},
			want:    []string{"a1", "a2", "a3", "a1", "a2"},
		},
		{
			name:    "skips empty team",
			teams:   []string{"A", "B", "C"},
			members: map[string][]string{"team-1": {"a1"}, "team-3": {"c1"}},
			want:    []string{"a1", "c1", "a1", "c1"},
		},
		{
			name:    "lone member of lone team",
			teams:   []string{"A"},
			members: map[string][]string{"team-1": {"a1"}},
			want:    []string{"a1", "a1", "a1"},
			index:   []int{0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMachine(t)
			s := testSession(t, tt.teams...)
			delete(s.Participants, "0")

			for _, teamID := range s.TeamOrder {
				for _, id := range tt.members[teamID] {
					mustApply(t, m, s, Join(id, id, epoch))
					mustApply(t, m, s, AssignTeam(id, teamID))
				}
			}
			mustApply(t, m, s, Start())

			var got []string
			var index []int
			for i := range tt.want {
				got = append(got, s.Turn.ParticipantID)
				index = append(index, s.Turn.Index)
				if i == len(tt.want)-1 {
					break
				}
				mustApply(t, m, s, TurnStart(s.Turn.ParticipantID, epoch))
				mustApply(t, m, s, Tick(s.Turn.Seq, epoch.Add(s.Settings.RoundTime())))
				mustApply(t, m, s, NextTurn())
			}

			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
			if tt.index != nil && !slices.Equal(index, tt.index) {
				t.Errorf("member indexes %v, want %v", index, tt.index)
			}
		})
	}
}

func TestWinningScoreEndsGame(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	delete(s.Participants, "0")
	mustApply(t, m, s, Join("p1", "Ann", epoch))
	mustApply(t, m, s, Join("p2", "Bob", epoch))
	mustApply(t, m, s, AssignTeam("p1", "team-1"))
	mustApply(t, m, s, AssignTeam("p2", "team-2"))
	mustApply(t, m, s, Start())

	mustApply(t, m, s, TurnStart("p1", epoch))
	if out := mustApply(t, m, s, Action("p1", ActionCorrect)); len(out.Notices) != 0 {
		t.Fatalf("game ended early: %+v", out.Notices)
	}
	if s.Phase != PhasePlaying {
		t.Fatalf("phase %s after one point, want playing", s.Phase)
	}

	out := mustApply(t, m, s, Action("p1", ActionCorrect))
	if s.Phase != PhaseFinished {
		t.Fatalf("phase %s, want finished", s.Phase)
	}
	if s.Teams["team-1"].Score != 2 {
		t.Errorf("score %d, want exactly 2", s.Teams["team-1"].Score)
	}
	if out.Timer != TimerStop {
		t.Errorf("timer %v, want stop", out.Timer)
	}
	if len(out.Notices) != 1 || out.Notices[0] != (Notice{Kind: NoticeGameEnd, WinningTeamName: "Team A"}) {
		t.Errorf("notices %+v, want a single game end for Team A", out.Notices)
	}

	// nothing more is scored once finished
	if out := mustApply(t, m, s, Action("p1", ActionCorrect)); out.Changed {
		t.Error("action after finish changed the session")
	}
	if out := mustApply(t, m, s, Tick(s.Turn.Seq, epoch.Add(time.Hour))); out.Changed || len(out.Notices) > 0 {
		t.Error("tick after finish produced output")
	}
}

func TestSkipNeverGoesNegative(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	s.Settings.WinningScore = 50
	lobby(t, m, s)
	mustApply(t, m, s, Start())
	mustApply(t, m, s, TurnStart("p1", epoch))

	for range 3 {
		mustApply(t, m, s, Action("p1", ActionCorrect))
	}
	for range 5 {
		mustApply(t, m, s, Action("p1", ActionSkip))
		if s.Teams["team-1"].Score < 0 {
			t.Fatalf("score went negative: %d", s.Teams["team-1"].Score)
		}
	}
	if s.Teams["team-1"].Score != 0 {
		t.Errorf("score %d, want 0", s.Teams["team-1"].Score)
	}
	if s.Turn.Points != 3 {
		t.Errorf("points this turn %d, want 3", s.Turn.Points)
	}
}

func TestLeave(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)

	mustApply(t, m, s, Leave("p2"))
	if _, ok := s.Participants["p2"]; ok {
		t.Error("participant kept after leaving the lobby")
	}
	if len(s.Teams["team-2"].MemberOrder) != 0 {
		t.Errorf("team-2 still lists %v", s.Teams["team-2"].MemberOrder)
	}

	mustApply(t, m, s, Start())
	mustApply(t, m, s, Leave("p1"))
	p, ok := s.Participants["p1"]
	if !ok || p.Connected || p.TeamID != "team-1" {
		t.Errorf("participant after leaving mid-game: %+v", p)
	}

	// rejoining flips the flag back
	mustApply(t, m, s, Join("p1", "Ann", epoch))
	if !s.Participants["p1"].Connected {
		t.Error("rejoin did not mark participant connected")
	}
}

func TestEvict(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)
	mustApply(t, m, s, Join("p3", "Cat", epoch))
	mustApply(t, m, s, AssignTeam("p3", "team-2"))

	if _, err := m.Apply(s, Evict("0")); !errors.Is(err, ErrEvictHost) {
		t.Errorf("got %v, want %v", err, ErrEvictHost)
	}
	if _, err := m.Apply(s, Evict("ghost")); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("got %v, want %v", err, ErrUnknownParticipant)
	}

	mustApply(t, m, s, Start())
	mustApply(t, m, s, TurnStart("p1", epoch))

	out := mustApply(t, m, s, Evict("p1"))
	if s.TurnPhase != TurnOver || out.Timer != TimerStop {
		t.Fatalf("got %s timer %v, want turn_over/stop", s.TurnPhase, out.Timer)
	}
	if len(out.Notices) != 1 || out.Notices[0].Kind != NoticeTurnEnd || out.Notices[0].ParticipantName != "Ann" {
		t.Errorf("notices %+v", out.Notices)
	}
	if _, ok := s.Participants["p1"]; ok {
		t.Error("evicted participant still present")
	}

	// team-2 plays next, then team-1 resumes with the member that followed p1
	mustApply(t, m, s, NextTurn())
	if s.Turn.ParticipantID != "p2" {
		t.Errorf("turn went to %q, want p2", s.Turn.ParticipantID)
	}
	mustApply(t, m, s, TurnStart("p2", epoch))
	mustApply(t, m, s, Tick(s.Turn.Seq, epoch.Add(time.Minute)))
	mustApply(t, m, s, NextTurn())
	if s.Turn.TeamID != "team-1" || s.Turn.ParticipantID != "0" {
		t.Errorf("turn %+v, want team-1 host", *s.Turn)
	}

	// evicting a member of another team leaves the current turn alone
	mustApply(t, m, s, Evict("p2"))
	if s.TurnPhase != TurnIdle || s.Turn.ParticipantID != "0" {
		t.Errorf("turn disturbed by evicting a bystander: %+v %s", *s.Turn, s.TurnPhase)
	}
}

func TestRestart(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)

	if out := mustApply(t, m, s, Restart()); out.Changed {
		t.Error("restart in lobby changed the session")
	}

	mustApply(t, m, s, Start())
	mustApply(t, m, s, TurnStart("p1", epoch))
	mustApply(t, m, s, Action("p1", ActionCorrect))
	mustApply(t, m, s, Leave("p2"))

	out := mustApply(t, m, s, Restart())
	if out.Timer != TimerStop {
		t.Errorf("timer %v, want stop", out.Timer)
	}
	if s.Phase != PhaseLobby || s.Turn != nil || s.WordPool.Len() != 0 {
		t.Errorf("restart left phase %s turn %v pool %d", s.Phase, s.Turn, s.WordPool.Len())
	}
	if s.Teams["team-1"].Score != 0 {
		t.Errorf("score %d after restart", s.Teams["team-1"].Score)
	}
	if _, ok := s.Participants["p2"]; ok {
		t.Error("disconnected participant survived restart")
	}
	if s.Participants["p1"].TeamID != "team-1" {
		t.Error("restart dropped team assignments")
	}
}

func TestVersionIncreasesOnChange(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)

	v := s.Version
	lobby(t, m, s)
	if s.Version != v+5 {
		t.Errorf("version %d, want %d", s.Version, v+5)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := testMachine(t)
	s := testSession(t)
	lobby(t, m, s)
	mustApply(t, m, s, Start())

	c := s.Clone()
	c.Participants["p1"].DisplayName = "changed"
	c.Teams["team-1"].MemberOrder[0] = "changed"
	c.Turn.Points = 9
	c.WordPool.Remaining[0] = "changed"

	if s.Participants["p1"].DisplayName == "changed" ||
		s.Teams["team-1"].MemberOrder[0] == "changed" ||
		s.Turn.Points == 9 ||
		s.WordPool.Remaining[0] == "changed" {
		t.Error("clone shares memory with the original")
	}
}
