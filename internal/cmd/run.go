package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voxterm/internal/activitylog"
	"voxterm/internal/config"
	"voxterm/internal/control"
	"voxterm/internal/overlay"
	"voxterm/internal/ptysession"
	"voxterm/internal/voice"
)

// defaultCommand is the wrapped CLI when none is given after `--`.
var defaultCommand = []string{"codex"}

func newRunCmd() *cobra.Command {
	var configPath string
	var controlFD int

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Wrap a CLI assistant with voice input",
		Long: `Wrap a CLI assistant in a PTY with voice capture on hotkeys.

  voxterm run                          Wrap the default command (codex)
  voxterm run -- claude                Wrap a specific assistant
  voxterm run --send-mode insert       Park transcripts in the prompt
  voxterm run --auto-voice             Re-arm capture whenever the prompt is idle

The wrapped command's exit code becomes voxterm's exit code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}

			command := defaultCommand
			if len(args) > 0 {
				command = args
			}

			eng := &overlay.Engine{
				Config:    cfg,
				Command:   command,
				SessionID: control.NewSessionID(),
			}

			if cfg.RecordCmd != "" || cfg.TranscribeCmd != "" {
				if cfg.RecordCmd == "" || cfg.TranscribeCmd == "" {
					return fmt.Errorf("record_cmd and transcribe_cmd must both be set")
				}
				rec, err := voice.NewCommandRecorder(cfg.RecordCmd)
				if err != nil {
					return err
				}
				tr, err := voice.NewCommandTranscriber(cfg.TranscribeCmd)
				if err != nil {
					return err
				}
				eng.Recorder = rec
				eng.Transcriber = tr
			}

			logger := activitylog.New(cfg.LogPath, eng.SessionID, cfg.LogTranscripts)
			defer logger.Close()
			eng.Log = logger

			if cmd.Flags().Changed("control-fd") {
				f := os.NewFile(uintptr(controlFD), "control")
				if f == nil {
					return fmt.Errorf("bad control fd %d", controlFD)
				}
				defer f.Close()
				eng.Control = f
			}

			code, runErr := eng.Run()
			logger.Close()
			if runErr != nil {
				var spawnErr *ptysession.SpawnError
				if errors.As(runErr, &spawnErr) {
					fmt.Fprintf(os.Stderr, "voxterm: %v\n", runErr)
					os.Exit(127)
				}
				return runErr
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/voxterm/config.yaml)")
	cmd.Flags().IntVar(&controlFD, "control-fd", -1, "file descriptor for the JSON control channel")
	registerConfigFlags(cmd)

	return cmd
}

// registerConfigFlags declares the flag mirror of every config key. Values
// are applied over the file config in loadConfig, so a flag only wins when
// the user actually set it.
func registerConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("send-mode", config.DefaultSendMode, "transcript delivery: auto (submit) or insert (park in prompt)")
	f.Bool("auto-voice", false, "start capture whenever the prompt goes idle")
	f.Int("auto-voice-idle-ms", config.DefaultAutoVoiceIdleMs, "quiet time before the prompt counts as idle")
	f.Int("transcript-idle-ms", config.DefaultTranscriptIdleMs, "quiet time before queued transcripts flush")
	f.Int("queue-capacity", config.DefaultQueueCapacity, "max transcripts held while the child is busy")
	f.String("prompt-regex", "", "override prompt detection with a pattern")
	f.String("term", config.DefaultTerm, "TERM value for the wrapped command")
	f.String("log-path", "", "append JSONL activity log to this file")
	f.Bool("log-transcripts", false, "include transcript text in the activity log")
	f.String("record-cmd", "", "command capturing one utterance of raw audio on stdout")
	f.String("transcribe-cmd", "", "command reading audio on stdin and printing text")
}

// loadConfig resolves the file config and lays changed flags over it.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("send-mode") {
		cfg.SendMode, _ = f.GetString("send-mode")
	}
	if f.Changed("auto-voice") {
		cfg.AutoVoice, _ = f.GetBool("auto-voice")
	}
	if f.Changed("auto-voice-idle-ms") {
		cfg.AutoVoiceIdleMs, _ = f.GetInt("auto-voice-idle-ms")
	}
	if f.Changed("transcript-idle-ms") {
		cfg.TranscriptIdleMs, _ = f.GetInt("transcript-idle-ms")
	}
	if f.Changed("queue-capacity") {
		cfg.QueueCapacity, _ = f.GetInt("queue-capacity")
	}
	if f.Changed("prompt-regex") {
		cfg.PromptRegex, _ = f.GetString("prompt-regex")
	}
	if f.Changed("term") {
		cfg.Term, _ = f.GetString("term")
	}
	if f.Changed("log-path") {
		cfg.LogPath, _ = f.GetString("log-path")
	}
	if f.Changed("log-transcripts") {
		cfg.LogTranscripts, _ = f.GetBool("log-transcripts")
	}
	if f.Changed("record-cmd") {
		cfg.RecordCmd, _ = f.GetString("record-cmd")
	}
	if f.Changed("transcribe-cmd") {
		cfg.TranscribeCmd, _ = f.GetString("transcribe-cmd")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
