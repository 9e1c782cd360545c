package term

import (
	"fmt"
	"strings"
)

// fallbackCommand is substituted when stripping --workdir leaves nothing.
const fallbackCommand = "claude"

// SplitWorkdir extracts a "--workdir <dir>" pair from a command string. The
// returned command has the pair removed; dir is "" when the flag is absent.
// If stripping leaves an empty command the fallback command is substituted.
func SplitWorkdir(command string) (cmd, dir string) {
	fields := strings.Fields(command)
	kept := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		if fields[i] == "--workdir" && i+1 < len(fields) {
			dir = fields[i+1]
			i++
			continue
		}
		kept = append(kept, fields[i])
	}
	cmd = strings.Join(kept, " ")
	if cmd == "" {
		cmd = fallbackCommand
	}
	return cmd, dir
}

// shellQuote wraps s in single quotes, escaping embedded single quotes so the
// result is safe to interpolate into a bash command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// BuildCommand turns a configured command string and session working
// directory into the argv to spawn. Commands always run under bash so shell
// syntax in the catalog entry (pipes, env assignments) keeps working. A
// --workdir flag inside the command overrides cwd.
func BuildCommand(command, cwd string) (argv []string, dir string) {
	cmd, override := SplitWorkdir(command)
	dir = cwd
	if override != "" {
		dir = override
	}
	script := fmt.Sprintf("cd %s && %s", shellQuote(dir), cmd)
	return []string{"bash", "-c", script}, dir
}
