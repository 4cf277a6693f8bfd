package bot

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Builtins returns the commands every bot answers to
func Builtins(now func() time.Time) CommandTable {
	if now == nil {
		now = time.Now
	}
	return CommandTable{
		"time": func() string {
			return now().Format("02/01/2006 15:04")
		},
		"weather": func() string {
			return "Sunny"
		},
	}
}

// responsesFile is the layout of a canned responses file:
//
//	responses:
//	  hello: Hi there
//	  rules: Be nice
type responsesFile struct {
	Responses map[string]string `yaml:"responses"`
}

// LoadResponses reads a YAML file of fixed replies into a CommandTable
func LoadResponses(path string) (CommandTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses file: %w", err)
	}

	var file responsesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse responses file %s: %w", path, err)
	}

	table := make(CommandTable, len(file.Responses))
	for name, reply := range file.Responses {
		if name == "" {
			return nil, fmt.Errorf("responses file %s: empty command name", path)
		}
		reply := reply
		table[name] = func() string { return reply }
	}
	return table, nil
}
