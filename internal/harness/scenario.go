package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a conformance scenario: seed rows, a flow of engagement steps
// run against the real pipeline, and assertions on the resulting state.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Backend selects the ephemeral store and queues: "memory" (default) or
	// "redis", which runs against an embedded miniredis.
	Backend string `yaml:"backend,omitempty"`

	// Policy is the reconciliation policy used by sweep steps.
	Policy string `yaml:"policy,omitempty"`

	Seed Seed `yaml:"seed,omitempty"`

	Flow []FlowStep `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Converge runs a final flush and sweep and checks that no pending
	// state is left behind.
	Converge bool `yaml:"converge,omitempty"`
}

// Seed holds durable rows written before the flow starts.
type Seed struct {
	Users    []SeedUser    `yaml:"users,omitempty"`
	Posts    []SeedPost    `yaml:"posts,omitempty"`
	Clips    []SeedClip    `yaml:"clips,omitempty"`
	Comments []SeedComment `yaml:"comments,omitempty"`
	Follows  []SeedFollow  `yaml:"follows,omitempty"`
	Likes    []SeedLike    `yaml:"likes,omitempty"`
}

// SeedUser is a user row in a seed file.
type SeedUser struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Token   string `yaml:"token,omitempty"`
	Private bool   `yaml:"private,omitempty"`
}

// SeedPost is created Age before the harness clock's current time.
type SeedPost struct {
	ID      string        `yaml:"id"`
	Author  string        `yaml:"author"`
	Caption string        `yaml:"caption,omitempty"`
	Private bool          `yaml:"private,omitempty"`
	Age     time.Duration `yaml:"age,omitempty"`
}

// SeedClip is a clip row in a seed file.
type SeedClip struct {
	ID      string `yaml:"id"`
	Author  string `yaml:"author"`
	Caption string `yaml:"caption,omitempty"`
}

// SeedComment sets exactly one of Post, Clip and Parent.
type SeedComment struct {
	ID     string `yaml:"id"`
	Author string `yaml:"author"`
	Post   string `yaml:"post,omitempty"`
	Clip   string `yaml:"clip,omitempty"`
	Parent string `yaml:"parent,omitempty"`
	Text   string `yaml:"text"`
}

// SeedFollow is pending when the followed account is private.
type SeedFollow struct {
	Follower  string `yaml:"follower"`
	Following string `yaml:"following"`
}

// SeedLike is a durable like in a seed file.
type SeedLike struct {
	Actor  string `yaml:"actor"`
	Target string `yaml:"target"`
}

// FlowStep is one operation against the pipeline.
type FlowStep struct {
	Step string         `yaml:"step"`
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is a subset match against the step result. The reserved key
	// "error" matches a substring of the step error instead.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Flow step names.
const (
	StepLike    = "like"
	StepFollow  = "follow"
	StepComment = "comment"
	StepAccept  = "accept"
	StepFlush   = "flush"
	StepDrop    = "drop"
	StepSweep   = "sweep"
	StepFeed    = "feed"
	StepAdvance = "advance"
)

var steps = []string{StepLike, StepFollow, StepComment, StepAccept, StepFlush, StepDrop, StepSweep, StepFeed, StepAdvance}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Target    string `yaml:"target,omitempty"`
	Follower  string `yaml:"follower,omitempty"`
	Following string `yaml:"following,omitempty"`
	Key       string `yaml:"key,omitempty"`

	// Status is the expected follow status: accepted, pending or none.
	Status string `yaml:"status,omitempty"`

	Count  *int     `yaml:"count,omitempty"`
	Absent bool     `yaml:"absent,omitempty"`
	Values []string `yaml:"values,omitempty"`
}

// Assertion type constants.
const (
	AssertLikers        = "likers"
	AssertCounter       = "counter"
	AssertFollow        = "follow"
	AssertMembers       = "members"
	AssertComments      = "comments"
	AssertNotifications = "notifications"
)

var assertionTypes = []string{AssertLikers, AssertCounter, AssertFollow, AssertMembers, AssertComments, AssertNotifications}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	var scenario Scenario
	if err := decodeStrict(path, &scenario); err != nil {
		return nil, err
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadSeed reads a standalone seed file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	if err := decodeStrict(path, &seed); err != nil {
		return Seed{}, err
	}
	return seed, nil
}

func decodeStrict(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	for i, step := range s.Flow {
		if !slices.Contains(steps, step.Step) {
			return fmt.Errorf("flow step %d: unknown step %q", i, step.Step)
		}
	}
	for i, a := range s.Assertions {
		if !slices.Contains(assertionTypes, a.Type) {
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
		if a.Type == AssertCounter && a.Count == nil && !a.Absent {
			return fmt.Errorf("assertion %d: counter needs count or absent", i)
		}
	}
	return nil
}
