package orchestration

import (
	"fmt"
	"strings"
)

// TTSMode selects how replies are spoken.
type TTSMode string

const (
	// ModeLocal speaks with the agent service's local synthesizer.
	ModeLocal TTSMode = "LOCAL"
	// ModeAPI speaks with the agent service's cloud synthesizer.
	ModeAPI TTSMode = "API"
	// ModeSilent never plays speech.
	ModeSilent TTSMode = "SILENT"
)

// Next returns the mode after m in the LOCAL, API, SILENT cycle.
func (m TTSMode) Next() TTSMode {
	switch m {
	case ModeLocal:
		return ModeAPI
	case ModeAPI:
		return ModeSilent
	}
	return ModeLocal
}

func (m TTSMode) Valid() bool {
	switch m {
	case ModeLocal, ModeAPI, ModeSilent:
		return true
	}
	return false
}

func ParseTTSMode(value string) (TTSMode, error) {
	mode := TTSMode(strings.ToUpper(strings.TrimSpace(value)))
	if !mode.Valid() {
		return "", fmt.Errorf("unknown tts mode %q", value)
	}
	return mode, nil
}

type modeController struct {
	mode TTSMode
}

func newModeController(initial TTSMode) modeController {
	if !initial.Valid() {
		initial = ModeLocal
	}
	return modeController{mode: initial}
}

func (c *modeController) current() TTSMode { return c.mode }

func (c *modeController) cycle() TTSMode {
	c.mode = c.mode.Next()
	return c.mode
}
