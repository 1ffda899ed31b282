package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/call-analyzer/internal/analysis"
	"github.com/codebuildervaibhav/call-analyzer/internal/audio"
	"github.com/codebuildervaibhav/call-analyzer/internal/config"
	"github.com/codebuildervaibhav/call-analyzer/internal/transcription"
	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

var (
	configPath string
	outputPath string
	verbose    bool

	root = &cobra.Command{
		Use:           "callscribe",
		Short:         "Transcribe and analyze call recordings without the server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(os.Stderr)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	transcribeCmd = &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe a recording and print the merged transcript as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runTranscribe,
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze SEGMENTS.json",
		Short: "Run sentiment analysis over a transcript or segments file",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
)

func init() {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	transcribeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the transcript to this file instead of stdout")
	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the analysis to this file instead of stdout")

	root.AddCommand(transcribeCmd, analyzeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	source := args[0]
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("audio file not found: %w", err)
	}

	opts := transcription.DefaultOptions()
	opts.Language = cfg.Whisper.Language
	opts.BeamSize = cfg.Whisper.BeamSize
	recognizer, err := transcription.NewFasterWhisper(transcription.WhisperConfig{
		Python:      cfg.Whisper.Python,
		Model:       cfg.Whisper.Model,
		Device:      cfg.Whisper.Device,
		ComputeType: cfg.Whisper.ComputeType,
		Threads:     cfg.Whisper.Threads,
		Options:     opts,
	})
	if err != nil {
		return err
	}
	defer recognizer.Close()

	splitter := audio.NewSplitter(audio.NewDefaultDecoder(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath))
	result, err := transcription.NewPipeline(splitter, recognizer).Transcribe(cmd.Context(), source)
	if err != nil {
		return err
	}

	log.Infof("Transcribed %d segments (%.1fs, %s)", len(result.Segments), result.Duration, result.Language)
	return writeJSON(cmd.OutOrStdout(), outputPath, result)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	segments, err := parseSegments(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	annotator := analysis.NewOpenAIAnnotator(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	result, err := annotator.Analyze(cmd.Context(), segments)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), outputPath, result)
}

// parseSegments accepts either a bare segment array or a transcript object
// with a segments field, as written by the transcribe command.
func parseSegments(data []byte) ([]types.Segment, error) {
	var segments []types.Segment
	if err := json.Unmarshal(data, &segments); err == nil {
		return segments, nil
	}

	var result types.TranscriptResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("not a segments file: %w", err)
	}
	if result.Segments == nil {
		return nil, fmt.Errorf("not a segments file: no segments field")
	}
	return result.Segments, nil
}

func writeJSON(stdout io.Writer, path string, v any) error {
	out := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
