package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-client/core/agent"
)

const (
	defaultHistoryLimit = 20
	defaultLogsLimit    = 5
	volumeStep          = 0.1
)

var errUnknownCommand = errors.New("unknown command")

type command struct {
	name string
	args []string
}

// parseCommand splits a slash command line. It reports false for plain
// text.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, false
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}, true
}

// intArg returns the index-th argument as a positive integer, or fallback
// when it is absent.
func (c command) intArg(index, fallback int) (int, error) {
	if index >= len(c.args) {
		return fallback, nil
	}
	value, err := strconv.Atoi(c.args[index])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("/%s: %q is not a positive number", c.name, c.args[index])
	}
	return value, nil
}

// commandResultMsg is the outcome of a command run off the UI goroutine.
type commandResultMsg struct {
	lines   []string
	history []agent.HistoryEntry
	err     error
}

func (m *model) runCommand(cmd command) tea.Cmd {
	a := m.app

	switch cmd.name {
	case "history":
		limit, err := cmd.intArg(0, defaultHistoryLimit)
		if err != nil {
			return result(commandResultMsg{err: err})
		}
		return func() tea.Msg {
			entries, err := a.agent.History(a.ctx, limit)
			if err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{lines: formatHistory(entries), history: entries}
		}

	case "replay":
		index, err := cmd.intArg(0, 0)
		if err != nil {
			return result(commandResultMsg{err: err})
		}
		if index == 0 || index > len(m.history) {
			return result(commandResultMsg{err: fmt.Errorf("/replay: pick an entry from /history (1-%d)", len(m.history))})
		}
		text := m.history[index-1].Content
		if err := a.session.Replay(text); err != nil {
			return result(commandResultMsg{err: fmt.Errorf("/replay: %w", err)})
		}
		return result(commandResultMsg{lines: []string{fmt.Sprintf("replaying entry %d", index)}})

	case "logs":
		limit, err := cmd.intArg(0, defaultLogsLimit)
		if err != nil {
			return result(commandResultMsg{err: err})
		}
		return func() tea.Msg {
			logs, err := a.agent.CompactionLogs(a.ctx, limit)
			if err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{lines: formatCompactionLogs(logs)}
		}

	case "compact":
		return func() tea.Msg {
			compaction, err := a.agent.Compact(a.ctx)
			if err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{lines: formatCompaction(compaction)}
		}

	case "memory":
		return func() tea.Msg {
			status, err := a.agent.MemoryStatus(a.ctx)
			if err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{lines: []string{formatMemoryStatus(status)}}
		}

	case "image":
		if len(cmd.args) == 0 {
			return result(commandResultMsg{err: errors.New("/image: missing path")})
		}
		path := strings.Join(cmd.args, " ")
		return func() tea.Msg {
			image, err := os.ReadFile(path)
			if err != nil {
				return commandResultMsg{err: fmt.Errorf("/image: %w", err)}
			}
			return a.attachImage(image, "attached "+path)
		}

	case "snapshot":
		return func() tea.Msg {
			image, err := a.agent.CameraSnapshot(a.ctx)
			if err != nil {
				return commandResultMsg{err: err}
			}
			return a.attachImage(image, "attached camera snapshot")
		}

	case "clear-image":
		a.session.ClearImage()
		return result(commandResultMsg{lines: []string{"image cleared"}})

	case "mode":
		mode := a.session.CycleMode()
		return result(commandResultMsg{lines: []string{"speech mode " + string(mode)}})

	case "mic":
		enabled := !a.session.Snapshot().Mic.Enabled
		a.session.SetMicEnabled(enabled)
		state := "off"
		if enabled {
			state = "on"
		}
		return result(commandResultMsg{lines: []string{"microphone " + state}})

	case "volume":
		if len(cmd.args) == 0 {
			return result(commandResultMsg{lines: []string{fmt.Sprintf("volume %d%%", int(a.volume()*100+0.5))}})
		}
		percent, err := strconv.Atoi(strings.TrimSuffix(cmd.args[0], "%"))
		if err != nil {
			return result(commandResultMsg{err: fmt.Errorf("/volume: %q is not a number", cmd.args[0])})
		}
		stored := a.setVolume(float64(percent) / 100)
		return result(commandResultMsg{lines: []string{fmt.Sprintf("volume %d%%", int(stored*100+0.5))}})

	case "help":
		return result(commandResultMsg{lines: helpLines()})

	case "quit", "exit":
		return tea.Quit
	}

	return result(commandResultMsg{err: fmt.Errorf("/%s: %w (try /help)", cmd.name, errUnknownCommand)})
}

func (a *app) attachImage(image []byte, notice string) commandResultMsg {
	ref, err := a.agent.UploadImage(a.ctx, image)
	if err != nil {
		return commandResultMsg{err: err}
	}
	if !a.session.AttachImage(ref) {
		return commandResultMsg{err: errors.New("session is not running")}
	}
	return commandResultMsg{lines: []string{notice}}
}

func result(msg commandResultMsg) tea.Cmd {
	return func() tea.Msg { return msg }
}

func helpLines() []string {
	return []string{
		"/history [n]     recent conversation",
		"/replay <n>      speak entry n of the last /history",
		"/logs [n]        memory compaction logs",
		"/compact         compact short-term memory",
		"/memory          short-term memory size",
		"/image <path>    attach an image to the next message",
		"/snapshot        attach a camera snapshot",
		"/clear-image     drop the attached image",
		"/mode            cycle LOCAL, API and SILENT speech",
		"/mic             toggle voice input",
		"/volume [0-100]  show or set the volume",
		"esc aborts the reply, + and - change the volume, ctrl+c quits",
	}
}
