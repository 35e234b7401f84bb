package main

import (
	"bytes"
	"text/template"
)

const launchAgentLabel = "com.hotmacro.daemon"

// launchAgent describes how launchd should run the daemon.
type launchAgent struct {
	Binary     string
	ConfigPath string
	LogPath    string
	NoKeyboard bool
	APIAddr    string
}

// Args is the daemon command line, so the agent runs with the same config
// file and flags the operator installed it with.
func (a launchAgent) Args() []string {
	args := []string{a.Binary, "daemon", "--config", a.ConfigPath}
	if a.NoKeyboard {
		args = append(args, "--no-keyboard")
	}
	if a.APIAddr != "" {
		args = append(args, "--api-addr", a.APIAddr)
	}
	return args
}

// KeepAlive only restarts a crashed daemon; "hotmacro daemon" exiting
// cleanly after SIGTERM stays stopped until the next login.
var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Agent.Args}}
        <string>{{html .}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ProcessType</key>
    <string>Interactive</string>
    <key>StandardOutPath</key>
    <string>{{html .Agent.LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{html .Agent.LogPath}}</string>
</dict>
</plist>
`))

func (a launchAgent) plist() ([]byte, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, struct {
		Label string
		Agent launchAgent
	}{launchAgentLabel, a})
	return buf.Bytes(), err
}
