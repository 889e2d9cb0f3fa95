// Package seed loads hunt fixtures from YAML. A fixture describes events down
// to their validators, plus the teams and users the identity service would
// otherwise provide:
//
//	events:
//	  - name: Spring hunt
//	    teams:
//	      - name: Red
//	        members: [{username: alice}]
//	    episodes:
//	      - name: Act I
//	        puzzles:
//	          - title: Warmup
//	            answers: [{answer: plover}]
//	            unlocks:
//	              - key: half
//	                text: You are halfway there
//	                answers: [{runtime: regex, guess: "plo.*"}]
//	            hints:
//	              - {text: Look up, delay: 10m, start_after: half}
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

type File struct {
	Events []Event `yaml:"events"`
}

type Event struct {
	ID       uuid.UUID  `yaml:"id"`
	Name     string     `yaml:"name"`
	EndDate  *time.Time `yaml:"end_date"`
	Teams    []Team     `yaml:"teams"`
	Episodes []Episode  `yaml:"episodes"`
}

type Team struct {
	Name    string   `yaml:"name"`
	Members []Member `yaml:"members"`
}

type Member struct {
	ID       uuid.UUID `yaml:"id"`
	Username string    `yaml:"username"`
}

type Episode struct {
	Name      string     `yaml:"name"`
	Parallel  bool       `yaml:"parallel"`
	StartDate *time.Time `yaml:"start_date"`
	Puzzles   []Puzzle   `yaml:"puzzles"`
}

type Puzzle struct {
	Title     string     `yaml:"title"`
	StartDate *time.Time `yaml:"start_date"`
	Answers   []Answer   `yaml:"answers"`
	Unlocks   []Unlock   `yaml:"unlocks"`
	Hints     []Hint     `yaml:"hints"`
}

// Answer doubles as an unlock answer, where Guess is the reference text.
type Answer struct {
	Runtime types.ValidatorKind `yaml:"runtime"`
	Answer  string              `yaml:"answer"`
	Guess   string              `yaml:"guess"`
	Options map[string]any      `yaml:"options"`
}

type Unlock struct {
	Key     string   `yaml:"key"`
	Text    string   `yaml:"text"`
	Answers []Answer `yaml:"answers"`
}

type Hint struct {
	Text       string         `yaml:"text"`
	Delay      time.Duration  `yaml:"delay"`
	Mode       types.HintMode `yaml:"mode"`
	StartAfter string         `yaml:"start_after"`
}

// Summary counts what Apply created.
type Summary struct {
	Events  int
	Puzzles int
	Teams   int
	Users   int
}

func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Check is the registry subset Apply needs to reject broken validators
// before anything is written.
type Check interface {
	CheckWellFormed(kind types.ValidatorKind, reference string, options datatypes.JSON) error
}

// Apply writes f in one transaction. Users are upserted by id so that one
// user file can be shared between fixtures.
func Apply(ctx context.Context, db *gorm.DB, check Check, f *File) (*Summary, error) {
	if f == nil {
		return &Summary{}, nil
	}
	sum := &Summary{}
	now := time.Now().UTC()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for ei := range f.Events {
			if err := applyEvent(tx, check, &f.Events[ei], now, sum); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func applyEvent(tx *gorm.DB, check Check, e *Event, now time.Time, sum *Summary) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("event without a name")
	}
	ev := &types.Event{ID: idOr(e.ID), Name: e.Name, EndDate: utcPtr(e.EndDate), CreatedAt: now, UpdatedAt: now}
	if err := tx.Create(ev).Error; err != nil {
		return fmt.Errorf("event %q: %w", e.Name, err)
	}
	sum.Events++

	for _, t := range e.Teams {
		team := &types.Team{ID: uuid.New(), EventID: ev.ID, Name: t.Name, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(team).Error; err != nil {
			return fmt.Errorf("team %q: %w", t.Name, err)
		}
		sum.Teams++
		for _, m := range t.Members {
			u := &types.User{ID: idOr(m.ID), Username: m.Username, CreatedAt: now, UpdatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
			}).Create(u).Error
			if err != nil {
				return fmt.Errorf("user %q: %w", m.Username, err)
			}
			sum.Users++
			ms := &types.TeamMembership{ID: uuid.New(), EventID: ev.ID, TeamID: team.ID, UserID: u.ID, CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(ms).Error; err != nil {
				return fmt.Errorf("membership %q: %w", m.Username, err)
			}
		}
	}

	ordering := 0
	for i, ep := range e.Episodes {
		episode := &types.Episode{
			ID: uuid.New(), EventID: ev.ID, Name: ep.Name, Ordering: i + 1,
			Parallel: ep.Parallel, StartDate: utcPtr(ep.StartDate), CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Create(episode).Error; err != nil {
			return fmt.Errorf("episode %q: %w", ep.Name, err)
		}
		for _, p := range ep.Puzzles {
			ordering++
			if err := applyPuzzle(tx, check, ev.ID, episode.ID, ordering, &p, now); err != nil {
				return err
			}
			sum.Puzzles++
		}
	}
	return nil
}

func applyPuzzle(tx *gorm.DB, check Check, eventID, episodeID uuid.UUID, ordering int, p *Puzzle, now time.Time) error {
	puzzle := &types.Puzzle{
		ID: uuid.New(), EventID: eventID, EpisodeID: &episodeID, Title: p.Title,
		Ordering: ordering, StartDate: utcPtr(p.StartDate), CreatedAt: now, UpdatedAt: now,
	}
	if err := tx.Create(puzzle).Error; err != nil {
		return fmt.Errorf("puzzle %q: %w", p.Title, err)
	}
	where := func(what string) string { return fmt.Sprintf("puzzle %q %s", p.Title, what) }

	for _, a := range p.Answers {
		kind, opts, err := validatorOf(check, a, a.Answer)
		if err != nil {
			return fmt.Errorf("%s: %w", where("answer"), err)
		}
		row := &types.Answer{ID: uuid.New(), PuzzleID: puzzle.ID, Runtime: kind, Options: opts, Answer: a.Answer, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("%s: %w", where("answer"), err)
		}
	}

	unlocks := map[string]uuid.UUID{}
	for _, u := range p.Unlocks {
		unlock := &types.Unlock{ID: uuid.New(), PuzzleID: puzzle.ID, Text: u.Text, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(unlock).Error; err != nil {
			return fmt.Errorf("%s: %w", where("unlock"), err)
		}
		if u.Key != "" {
			unlocks[u.Key] = unlock.ID
		}
		for _, a := range u.Answers {
			kind, opts, err := validatorOf(check, a, a.Guess)
			if err != nil {
				return fmt.Errorf("%s: %w", where("unlock answer"), err)
			}
			row := &types.UnlockAnswer{ID: uuid.New(), UnlockID: unlock.ID, Runtime: kind, Options: opts, Guess: a.Guess, CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("%s: %w", where("unlock answer"), err)
			}
		}
	}

	for _, h := range p.Hints {
		hint := &types.Hint{ID: uuid.New(), PuzzleID: puzzle.ID, Text: h.Text, Delay: h.Delay, Mode: h.Mode, CreatedAt: now, UpdatedAt: now}
		if hint.Mode == "" {
			hint.Mode = types.HintModeAuto
		}
		if h.StartAfter != "" {
			id, ok := unlocks[h.StartAfter]
			if !ok {
				return fmt.Errorf("%s: unknown start_after %q", where("hint"), h.StartAfter)
			}
			hint.StartAfterID = &id
		}
		if err := tx.Create(hint).Error; err != nil {
			return fmt.Errorf("%s: %w", where("hint"), err)
		}
	}
	return nil
}

func validatorOf(check Check, a Answer, reference string) (types.ValidatorKind, datatypes.JSON, error) {
	kind := a.Runtime
	if kind == "" {
		kind = types.ValidatorStatic
	}
	opts := datatypes.JSON("{}")
	if len(a.Options) > 0 {
		raw, err := json.Marshal(a.Options)
		if err != nil {
			return "", nil, err
		}
		opts = datatypes.JSON(raw)
	}
	if check != nil {
		if err := check.CheckWellFormed(kind, reference, opts); err != nil {
			return "", nil, err
		}
	}
	return kind, opts, nil
}

func idOr(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
