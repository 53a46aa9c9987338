package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"voxterm/internal/config"
	"voxterm/internal/termstyle"
	"voxterm/internal/version"
	"voxterm/internal/voice"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the terminal, config, and voice pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "voxterm %s\n", version.Version)

			reportTerminal(out)
			reportConfig(out, configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/voxterm/config.yaml)")
	return cmd
}

func reportTerminal(out io.Writer) {
	fmt.Fprintf(out, "\nTerminal\n")

	fd := int(os.Stdin.Fd())
	if isatty.IsTerminal(uintptr(fd)) {
		fmt.Fprintf(out, "  %s\n", termstyle.OK("stdin is a tty"))
		if cols, rows, err := term.GetSize(fd); err == nil {
			kv(out, "size", fmt.Sprintf("%dx%d", cols, rows))
			if rows < 2 {
				fmt.Fprintf(out, "  %s\n", termstyle.Fail("need at least 2 rows for the status line"))
			}
		}
	} else {
		fmt.Fprintf(out, "  %s\n", termstyle.Fail("stdin is not a tty; run from an interactive terminal"))
	}

	kv(out, "TERM", os.Getenv("TERM"))
	if ct := os.Getenv("COLORTERM"); ct != "" {
		kv(out, "COLORTERM", ct)
	}
}

func reportConfig(out io.Writer, configPath string) {
	fmt.Fprintf(out, "\nConfig\n")

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	kv(out, "path", path)

	cfg, err := config.LoadFrom(path)
	if err != nil {
		fmt.Fprintf(out, "  %s\n", termstyle.Fail(err.Error()))
		return
	}
	fmt.Fprintf(out, "  %s\n", termstyle.OK("config loads"))
	kv(out, "send_mode", cfg.SendMode)
	kv(out, "auto_voice", fmt.Sprintf("%v", cfg.AutoVoice))
	if cfg.LogPath != "" {
		kv(out, "log_path", cfg.LogPath)
	} else {
		fmt.Fprintf(out, "  %s\n", termstyle.Warn("activity log disabled (no log_path)"))
	}

	reportVoice(out, cfg)
}

func reportVoice(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "\nVoice\n")

	if cfg.RecordCmd == "" && cfg.TranscribeCmd == "" {
		fmt.Fprintf(out, "  %s\n", termstyle.Warn("no record_cmd/transcribe_cmd; hotkeys will report voice unavailable"))
		return
	}
	checkPipelineCmd(out, "record_cmd", cfg.RecordCmd, func(c string) ([]string, error) {
		r, err := voice.NewCommandRecorder(c)
		if err != nil {
			return nil, err
		}
		return r.Command(), nil
	})
	checkPipelineCmd(out, "transcribe_cmd", cfg.TranscribeCmd, func(c string) ([]string, error) {
		t, err := voice.NewCommandTranscriber(c)
		if err != nil {
			return nil, err
		}
		return t.Command(), nil
	})
}

func checkPipelineCmd(out io.Writer, name, cmdline string, parse func(string) ([]string, error)) {
	if cmdline == "" {
		fmt.Fprintf(out, "  %s\n", termstyle.Fail(name+" not set"))
		return
	}
	argv, err := parse(cmdline)
	if err != nil {
		fmt.Fprintf(out, "  %s\n", termstyle.Fail(fmt.Sprintf("%s: %v", name, err)))
		return
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintf(out, "  %s\n", termstyle.Fail(fmt.Sprintf("%s: %q not found in PATH", name, argv[0])))
		return
	}
	fmt.Fprintf(out, "  %s\n", termstyle.OK(fmt.Sprintf("%s: %s", name, path)))
}

func kv(out io.Writer, key, value string) {
	fmt.Fprintf(out, "  %s: %s\n", key, value)
}
