package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/organiq/eve-core/pkg/ecl"
	"github.com/organiq/eve-core/pkg/rules"
	"github.com/organiq/eve-core/pkg/scope"
)

// runParseCmd implements `eve parse`: parse an ECL command and run rule
// validation locally, without a server. Input comes from --cmd or stdin.
//
// Exit codes:
//
//	0 = parses and validates
//	1 = parse or validation errors
//	2 = runtime error
func runParseCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("parse", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var input string
	cmd.StringVar(&input, "cmd", "", "ECL command text (default: read stdin)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if input == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: reading stdin: %v\n", err)
			return 2
		}
		input = string(data)
	}

	parsed := ecl.Parse(input)
	out := map[string]interface{}{
		"success": parsed.Success,
	}
	valid := parsed.Success

	if parsed.Success {
		out["instruction"] = parsed.Instruction
		res := rules.Validate(parsed.Instruction)
		if _, _, err := scope.Normalize(parsed.Instruction.ProjectID); err != nil {
			res.Valid = false
			res.Errors = append(res.Errors, err.Error())
		}
		out["validation"] = res
		valid = res.Valid
	} else {
		out["errors"] = parsed.Errors
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))

	if !valid {
		return 1
	}
	return 0
}
