// Package script runs YAML expect scripts against a session.
package script

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/acolita/goexpect/internal/config"
)

// Kind identifies what a step does.
type Kind int

const (
	// KindExpect waits for a pattern on standard output.
	KindExpect Kind = iota
	// KindExpectErr waits for a pattern on the error stream.
	KindExpectErr
	// KindSend writes text verbatim.
	KindSend
	// KindSendLine writes text followed by a newline.
	KindSendLine
	// KindExpectClose waits for the subordinate to finish.
	KindExpectClose
	// KindInteract hands the session to the console.
	KindInteract
	// KindInterrupt sends the subordinate an interrupt.
	KindInterrupt
)

var kindNames = map[Kind]string{
	KindExpect:      "expect",
	KindExpectErr:   "expect_err",
	KindSend:        "send",
	KindSendLine:    "sendline",
	KindExpectClose: "expect_close",
	KindInteract:    "interact",
	KindInterrupt:   "interrupt",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrNoSteps is returned for a script without steps.
var ErrNoSteps = errors.New("script has no steps")

// Step is one instruction of a script.
type Step struct {
	Name string
	Kind Kind
	// Arg is the pattern for expect steps and the text for send steps.
	Arg string
	// Timeout overrides the script default. Zero means unset.
	Timeout config.Timeout
	// Optional steps that time out are skipped instead of failing the run.
	Optional bool
}

// Script is a named sequence of steps.
type Script struct {
	Name           string
	Description    string
	DefaultTimeout config.Timeout
	Steps          []Step
	// Source is the file it was loaded from, if any.
	Source string
}

type stepYAML struct {
	Name        string         `yaml:"name"`
	Expect      *string        `yaml:"expect"`
	ExpectErr   *string        `yaml:"expect_err"`
	Send        *string        `yaml:"send"`
	SendLine    *string        `yaml:"sendline"`
	ExpectClose bool           `yaml:"expect_close"`
	Interact    bool           `yaml:"interact"`
	Interrupt   bool           `yaml:"interrupt"`
	Timeout     config.Timeout `yaml:"timeout"`
	Optional    bool           `yaml:"optional"`
}

type scriptYAML struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	DefaultTimeout config.Timeout `yaml:"default_timeout"`
	Steps          []stepYAML     `yaml:"steps"`
}

// Parse decodes a script from YAML.
func Parse(data []byte) (*Script, error) {
	var raw scriptYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(raw.Steps) == 0 {
		return nil, ErrNoSteps
	}
	if err := checkTimeout(raw.DefaultTimeout); err != nil {
		return nil, fmt.Errorf("default_timeout: %w", err)
	}

	s := &Script{
		Name:           raw.Name,
		Description:    raw.Description,
		DefaultTimeout: raw.DefaultTimeout,
		Steps:          make([]Step, 0, len(raw.Steps)),
	}
	for i, rs := range raw.Steps {
		step, err := rs.step()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

func (rs stepYAML) step() (Step, error) {
	step := Step{Name: rs.Name, Timeout: rs.Timeout, Optional: rs.Optional}
	if err := checkTimeout(rs.Timeout); err != nil {
		return step, err
	}

	actions := 0
	set := func(k Kind, arg *string) {
		if arg != nil {
			actions++
			step.Kind, step.Arg = k, *arg
		}
	}
	set(KindExpect, rs.Expect)
	set(KindExpectErr, rs.ExpectErr)
	set(KindSend, rs.Send)
	set(KindSendLine, rs.SendLine)
	if rs.ExpectClose {
		actions++
		step.Kind = KindExpectClose
	}
	if rs.Interact {
		actions++
		step.Kind = KindInteract
	}
	if rs.Interrupt {
		actions++
		step.Kind = KindInterrupt
	}

	switch actions {
	case 0:
		return step, errors.New("no action")
	case 1:
	default:
		return step, errors.New("more than one action")
	}
	if step.Name == "" {
		step.Name = step.Kind.String()
	}
	return step, nil
}

func checkTimeout(t config.Timeout) error {
	if t < 0 && t != config.Forever {
		return fmt.Errorf("invalid timeout %s", time.Duration(t))
	}
	return nil
}

// LoadFile reads and parses a script file.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

// LoadGlob loads every script matching pattern, which may use ** to
// match across directories. Scripts are returned sorted by path.
func LoadGlob(pattern string) ([]*Script, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("glob %q: %w", pattern, os.ErrNotExist)
	}
	sort.Strings(matches)

	scripts := make([]*Script, 0, len(matches))
	for _, path := range matches {
		s, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}
