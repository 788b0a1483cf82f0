// Package cli parses vakil command lines.
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/vakil/internal/domain"
)

type Command string

const (
	CommandComplaint Command = "complaint"
	CommandQuestion  Command = "question"
	CommandRecord    Command = "record"
	CommandStop      Command = "stop"
	CommandCancel    Command = "cancel"
	CommandReplay    Command = "replay"
	CommandStatus    Command = "status"
	CommandShell     Command = "shell"
	CommandSamples   Command = "samples"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandComplaint: {},
	CommandQuestion:  {},
	CommandRecord:    {},
	CommandStop:      {},
	CommandCancel:    {},
	CommandReplay:    {},
	CommandStatus:    {},
	CommandShell:     {},
	CommandSamples:   {},
	CommandDevices:   {},
	CommandDoctor:    {},
	CommandVersion:   {},
	CommandHelp:      {},
}

// Parsed is one validated invocation. Query fields are zero when the flag was not given.
type Parsed struct {
	Command     Command
	ConfigPath  string
	ShowHelp    bool
	Text        string
	Language    domain.Language
	Location    string
	Evidence    []string
	Aggravating []string
	Kind        domain.QueryKind
	Speak       *bool
	Sample      string
	Plain       bool
}

// takesText reports whether trailing words form the query text.
func (c Command) takesText() bool {
	return c == CommandComplaint || c == CommandQuestion
}

// takesQueryFlags reports whether session flags apply to c.
func (c Command) takesQueryFlags() bool {
	return c.takesText() || c == CommandRecord || c == CommandShell
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	var words []string
	queryFlags := false
	haveCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		name, inline, hasInline := strings.Cut(arg, "=")
		if !strings.HasPrefix(arg, "--") {
			name, hasInline = arg, false
		}
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			i++
			if i >= len(args) {
				return "", fmt.Errorf("%s requires a value", name)
			}
			return args[i], nil
		}

		switch name {
		case "--":
			if !parsed.Command.takesText() {
				return Parsed{}, errors.New("-- only applies to complaint and question text")
			}
			words = append(words, args[i+1:]...)
			i = len(args)
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
			haveCommand = true
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
			haveCommand = true
		case "--config":
			v, err := value()
			if err != nil {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = v
		case "--no-color":
			parsed.Plain = true
		case "--language":
			v, err := value()
			if err != nil {
				return Parsed{}, err
			}
			language, err := domain.ParseLanguage(v)
			if err != nil {
				return Parsed{}, err
			}
			parsed.Language = language
			queryFlags = true
		case "--location":
			v, err := value()
			if err != nil {
				return Parsed{}, err
			}
			parsed.Location = v
			queryFlags = true
		case "--evidence":
			v, err := value()
			if err != nil {
				return Parsed{}, err
			}
			tags, err := tagList(domain.EvidenceVocabulary, v)
			if err != nil {
				return Parsed{}, fmt.Errorf("--evidence: %w", err)
			}
			parsed.Evidence = append(parsed.Evidence, tags...)
			queryFlags = true
		case "--aggravating":
			v, err := value()
			if err != nil {
				return Parsed{}, err
			}
			tags, err := tagList(domain.AggravatingVocabulary, v)
			if err != nil {
				return Parsed{}, fmt.Errorf("--aggravating: %w", err)
			}
			parsed.Aggravating = append(parsed.Aggravating, tags...)
			queryFlags = true
		case "--kind":
			v, err := value()
			if err != nil {
				return Parsed{}, err
			}
			kind, err := domain.ParseQueryKind(v)
			if err != nil {
				return Parsed{}, err
			}
			parsed.Kind = kind
			queryFlags = true
		case "--speak":
			speak := true
			parsed.Speak = &speak
			queryFlags = true
		case "--no-speak":
			speak := false
			parsed.Speak = &speak
			queryFlags = true
		case "--sample":
			v, err := value()
			if err != nil {
				return Parsed{}, err
			}
			if _, err := domain.FindSample(v); err != nil {
				return Parsed{}, err
			}
			parsed.Sample = v
			queryFlags = true
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}
			if haveCommand {
				if !parsed.Command.takesText() {
					return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
				}
				words = append(words, arg)
				continue
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			haveCommand = true
		}
	}

	parsed.Text = strings.TrimSpace(strings.Join(words, " "))
	if queryFlags && !parsed.Command.takesQueryFlags() && !parsed.ShowHelp {
		return Parsed{}, fmt.Errorf("query flags do not apply to %q", parsed.Command)
	}
	switch parsed.Command {
	case CommandComplaint:
		if parsed.Text == "" && parsed.Sample == "" {
			return Parsed{}, errors.New("complaint requires a narrative or --sample")
		}
		if parsed.Kind == domain.KindQuestion {
			return Parsed{}, errors.New("--kind question conflicts with complaint")
		}
	case CommandQuestion:
		if parsed.Text == "" {
			return Parsed{}, errors.New("question requires text")
		}
		if parsed.Sample != "" {
			return Parsed{}, errors.New("--sample only applies to complaints")
		}
		if parsed.Kind == domain.KindComplaint {
			return Parsed{}, errors.New("--kind complaint conflicts with question")
		}
	}

	return parsed, nil
}

// tagList splits a comma list and canonicalizes each tag against vocabulary.
func tagList(vocabulary []string, raw string) ([]string, error) {
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tag, ok := domain.CanonicalTag(vocabulary, part)
		if !ok {
			return nil, fmt.Errorf("unknown tag %q (expected one of: %s)", part, strings.Join(vocabulary, ", "))
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] <command> [text...]

Commands:
  complaint TEXT  Analyze an incident narrative and print applicable provisions
  question TEXT   Ask a legal question
  record          Record a spoken query; finish with "%[1]s stop"
  stop            Stop the active recording and submit it
  cancel          Cancel the active recording or request
  replay          Replay the spoken reply of the active session
  status          Print the active session state
  shell           Interactive query shell
  samples         List built-in sample cases
  devices         List available input devices
  doctor          Run configuration, audio, and service checks
  version         Print version information
  help            Show this help

Flags:
  --config PATH         Config file path (default: $XDG_CONFIG_HOME/vakil/config.jsonc)
  --language LANG       auto, english, hindi, or tamil
  --location PLACE      Location hint for jurisdiction
  --evidence LIST       Comma-separated evidence tags (CCTV, eyewitness, ...)
  --aggravating LIST    Comma-separated aggravating factors (weapon, hurt, ...)
  --kind KIND           complaint or question (record and shell)
  --speak, --no-speak   Request or suppress a spoken reply
  --sample NAME         Load a built-in sample complaint
  --no-color            Disable colored output
  -h, --help            Show help
  --version             Show version
`, binaryName)
}
