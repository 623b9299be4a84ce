package ecl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// StructuredCommand is the JSON form of an ECL command. It carries the same
// fields as the text grammar by name.
type StructuredCommand struct {
	Command    string    `json:"command"`
	SystemID   string    `json:"system_id,omitempty"`
	UseCase    string    `json:"use_case,omitempty"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	RiskLinks  []string  `json:"risk_links,omitempty"`
	Signoff    []Signoff `json:"signoff,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`
	Supersedes string    `json:"supersedes,omitempty"`
	Filters    Filters   `json:"filters,omitempty"`
}

var useCaseRe = regexp.MustCompile(`(?i)^USE_CASE\s+(?:"([^"]+)"|(.+))$`)

// Parse parses raw ECL input. Input starting with "{" is treated as the
// structured JSON form; everything else as the line-oriented text form.
func Parse(input string) ParseResult {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, "{") {
		var cmd StructuredCommand
		if err := json.Unmarshal([]byte(input), &cmd); err == nil {
			return ParseStructured(cmd)
		}
		// Malformed JSON falls through to the text parser, which will reject
		// it with a precise error about the missing EVE keyword.
	}

	return parseText(input)
}

// ParseStructured normalizes the structured JSON form.
func ParseStructured(cmd StructuredCommand) ParseResult {
	verb, err := lookupVerb(cmd.Command)
	if err != nil {
		return ParseResult{Success: false, Errors: []string{err.Error()}}
	}

	inst := &Instruction{
		Verb:       verb,
		SystemID:   strings.TrimSpace(cmd.SystemID),
		UseCase:    cmd.UseCase,
		Artifacts:  cmd.Artifacts,
		RiskLinks:  cmd.RiskLinks,
		Signoff:    cmd.Signoff,
		ProjectID:  strings.TrimSpace(cmd.ProjectID),
		DecisionID: strings.TrimSpace(cmd.DecisionID),
		Supersedes: strings.TrimSpace(cmd.Supersedes),
		Filters:    cmd.Filters,
	}
	return finish(inst)
}

func parseText(text string) ParseResult {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ParseResult{Success: false, Errors: []string{"empty command"}}
	}

	first := lines[0]
	if !strings.HasPrefix(strings.ToUpper(first), "EVE ") {
		return ParseResult{Success: false, Errors: []string{`ECL command must start with "EVE"`}}
	}

	parts := strings.Fields(first)[1:]
	if len(parts) == 0 {
		return ParseResult{Success: false, Errors: []string{`missing command verb after "EVE"`}}
	}
	verb, err := lookupVerb(parts[0])
	if err != nil {
		return ParseResult{Success: false, Errors: []string{err.Error()}}
	}

	inst := &Instruction{Verb: verb}

	// Header: "SYSTEM <id>" for decision verbs, "DECISION <id>" for read verbs.
	if len(parts) >= 3 {
		switch strings.ToUpper(parts[1]) {
		case "SYSTEM":
			inst.SystemID = parts[2]
		case "DECISION":
			inst.DecisionID = parts[2]
		}
	}

	for _, line := range lines[1:] {
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "USE_CASE "):
			if m := useCaseRe.FindStringSubmatch(line); m != nil {
				if m[1] != "" {
					inst.UseCase = m[1]
				} else {
					inst.UseCase = strings.TrimSpace(m[2])
				}
			}
		case strings.HasPrefix(upper, "ARTIFACTS "):
			inst.Artifacts = splitList(line[len("ARTIFACTS "):])
		case strings.HasPrefix(upper, "RISK_LINKS "):
			inst.RiskLinks = splitList(line[len("RISK_LINKS "):])
		case strings.HasPrefix(upper, "SIGNOFF "):
			inst.Signoff = parseSignoff(line[len("SIGNOFF "):])
		case strings.HasPrefix(upper, "PROJECT "):
			inst.ProjectID = strings.TrimSpace(line[len("PROJECT "):])
		case strings.HasPrefix(upper, "SUPERSEDES "):
			inst.Supersedes = strings.TrimSpace(line[len("SUPERSEDES "):])
		}
	}

	return finish(inst)
}

// finish applies the structural checks shared by both input forms.
func finish(inst *Instruction) ParseResult {
	var errs []string
	if inst.Verb.IsDecision() && inst.SystemID == "" {
		errs = append(errs, fmt.Sprintf("%s requires SYSTEM <id> in the command header", inst.Verb))
	}
	if len(errs) > 0 {
		return ParseResult{Success: false, Errors: errs}
	}
	return ParseResult{Success: true, Instruction: inst}
}

func lookupVerb(raw string) (Verb, error) {
	v := Verb(strings.ToUpper(strings.TrimSpace(raw)))
	if v.IsDecision() || v.IsRead() {
		return v, nil
	}
	valid := make([]string, 0, 10)
	for _, d := range DecisionVerbs() {
		valid = append(valid, string(d))
	}
	for _, r := range ReadVerbs() {
		valid = append(valid, string(r))
	}
	sort.Strings(valid)
	return "", fmt.Errorf("unknown command %q (valid: %s)", raw, strings.Join(valid, ", "))
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseSignoff(s string) []Signoff {
	var out []Signoff
	for _, pair := range strings.Split(s, ",") {
		role, actor, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		out = append(out, Signoff{
			Role:    strings.TrimSpace(role),
			ActorID: strings.TrimSpace(actor),
		})
	}
	return out
}
