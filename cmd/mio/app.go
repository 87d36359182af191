package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-client/core"
	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/audio/miniaudio"
	"github.com/koscakluka/ema-client/core/events"
	"github.com/koscakluka/ema-client/core/speechtotext"
	"github.com/koscakluka/ema-client/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-client/internal/config"
	"github.com/koscakluka/ema-client/internal/settings"
	"golang.org/x/sync/errgroup"
)

const updateBufferSize = 256

// app wires the session to its collaborators and to the terminal UI.
type app struct {
	ctx      context.Context
	cfg      config.Config
	agent    *agent.Client
	device   *miniaudio.Client
	settings *settings.Store
	session  *orchestration.Session

	// updates carries session callbacks to the UI. Callbacks run on the
	// session loop and must not block, so a full buffer drops the update;
	// the UI re-reads the session snapshot on every tick anyway.
	updates chan tea.Msg
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	client, err := agent.NewClient(cfg.ServerURL, agent.WithRequestTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("create agent client: %w", err)
	}

	a := &app{
		ctx:      ctx,
		cfg:      cfg,
		agent:    client,
		settings: settings.NewStore(cfg.SettingsPath),
		updates:  make(chan tea.Msg, updateBufferSize),
	}

	opts := []orchestration.SessionOption{
		orchestration.WithSpeechSynthesizer(client),
		orchestration.WithInitialMode(cfg.Mode()),
		orchestration.WithMicEnabled(cfg.MicEnabled),
		orchestration.WithStreamIdleTimeout(cfg.StreamIdleTimeout),
		orchestration.WithStateCallback(func(orchestration.SessionState) { a.send(sessionChangedMsg{}) }),
		orchestration.WithStatusCallback(func(orchestration.Status) { a.send(sessionChangedMsg{}) }),
		orchestration.WithResponseCallback(func(string) { a.send(sessionChangedMsg{}) }),
		orchestration.WithResponseEndCallback(func(response string) { a.send(responseEndMsg{text: response}) }),
		orchestration.WithUsageCallback(func(usage events.Usage) { a.send(usageMsg{usage: usage}) }),
		orchestration.WithTranscriptCallback(func(transcript speechtotext.Transcript) { a.send(transcriptMsg{transcript: transcript}) }),
		orchestration.WithSpeakingStateCallback(func(bool) { a.send(sessionChangedMsg{}) }),
		orchestration.WithMicStateCallback(func(orchestration.MicState) { a.send(sessionChangedMsg{}) }),
		orchestration.WithModeCallback(func(orchestration.TTSMode) { a.send(sessionChangedMsg{}) }),
		orchestration.WithErrorCallback(func(err error) { a.send(sessionErrorMsg{err: err}) }),
	}

	device, err := miniaudio.NewClient()
	if err != nil {
		slog.Warn("audio device unavailable, replies will be text only", "error", err)
	} else {
		a.device = device
		device.SetVolume(a.settings.Volume())
		opts = append(opts, orchestration.WithAudioOutput(device))
		opts = append(opts, a.captureOptions(device)...)
	}

	a.session = orchestration.NewSession(client, opts...)
	return a, nil
}

func (a *app) captureOptions(source speechtotext.AudioSource) []orchestration.SessionOption {
	if a.cfg.DeepgramAPIKey == "" {
		slog.Info("no deepgram api key, voice capture disabled")
		return nil
	}

	recognizer, err := deepgram.NewClient(a.cfg.DeepgramAPIKey, source,
		deepgram.WithCaptureOptions(
			speechtotext.WithLanguage(a.cfg.DeepgramLanguage),
			speechtotext.WithModel(a.cfg.DeepgramModel),
			speechtotext.WithInterimResults(),
		),
	)
	if err != nil {
		slog.Warn("voice capture unavailable", "error", err)
		return nil
	}
	return []orchestration.SessionOption{orchestration.WithSpeechCapture(recognizer)}
}

func (a *app) send(msg tea.Msg) {
	select {
	case a.updates <- msg:
	default:
		slog.Debug("dropping ui update, buffer full", "type", fmt.Sprintf("%T", msg))
	}
}

// Run shows the UI until the user quits or ctx ends.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !a.session.Start(ctx) {
		return errors.New("session could not be started")
	}

	program := tea.NewProgram(newModel(a), tea.WithAltScreen(), tea.WithContext(ctx))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-a.updates:
				program.Send(msg)
			}
		}
	})

	return g.Wait()
}

func (a *app) setVolume(volume float64) float64 {
	stored, err := a.settings.SetVolume(volume)
	if err != nil {
		slog.Warn("failed to persist volume", "error", err)
	}
	if a.device != nil {
		a.device.SetVolume(stored)
	}
	return stored
}

func (a *app) volume() float64 {
	if a.device != nil {
		return a.device.Volume()
	}
	return a.settings.Volume()
}

func (a *app) Close() {
	a.session.Close()
	if a.device != nil {
		a.device.Close()
	}
}
