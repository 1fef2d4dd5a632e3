package config

import (
	"bytes"
	"os"
	"text/template"
)

// expandEnv expands environment variables in YAML content using Go templates
// with {{.VAR_NAME}} syntax. Literal $ characters (regex patterns, passwords)
// pass through untouched. Missing variables expand to empty string.
func expandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// YAML without template syntax passes through as-is.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
