// Package config gathers the daemon's settings from flags, an optional .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	cli "github.com/spf13/pflag"
)

// Keys are the service credentials. Only the OpenAI key is mandatory; a
// missing optional key disables the matching feature.
type Keys struct {
	OpenAI  string `envconfig:"OPENAI_API_KEY" required:"true"`
	Google  string `envconfig:"GOOGLE_API_KEY"`
	Wolfram string `envconfig:"WOLFRAM_APP_ID"`
	Giphy   string `envconfig:"GIPHY_API_KEY"`
	Slack   string `envconfig:"SLACK_BOT_TOKEN"`
}

type Config struct {
	EnvFile  string
	Proxy    string
	LogLevel string
	Socket   string

	Source       string // mic, bus or none
	BusURL       string
	Shard        string
	WhisperModel string
	Language     string
	Wake         []string

	ClassifierModel string
	AuthorModel     string
	Persona         string // contents of the --persona file

	TTS       string // streamlabs or espeak
	Voice     string
	EffectCap time.Duration
	Volume    float64
	Duck      bool

	SlackChannel string

	Keys Keys
}

var logLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() log.Level {
	if l, ok := logLevels[strings.ToLower(c.LogLevel)]; ok {
		return l
	}
	return log.LevelInfo
}

// Parse reads flags from args (without the program name), then the env file,
// then the environment.
func Parse(name string, args []string) (*Config, error) {
	var (
		c       Config
		persona string
	)

	fs := cli.NewFlagSet(name, cli.ContinueOnError)
	fs.StringVarP(&c.EnvFile, "env", "e", ".env", "Env file path")
	fs.StringVarP(&c.Proxy, "proxy", "p", "", "Socks proxy address, empty for direct")
	fs.StringVarP(&c.LogLevel, "log", "l", "info", "Log level")
	fs.StringVarP(&c.Socket, "socket", "s", "/tmp/voxcast.sock", "Control socket path")

	fs.StringVar(&c.Source, "source", "mic", "Utterance source: mic, bus or none")
	fs.StringVarP(&c.BusURL, "bus", "u", "", "Url of hub")
	fs.StringVar(&c.Shard, "shard", "voxcast", "Shard name on the hub")
	fs.StringVarP(&c.WhisperModel, "whisper-model", "m", "third_party/whisper.cpp/models/ggml-base.en.bin", "Whisper model path")
	fs.StringVar(&c.Language, "language", "en", "Transcription language, or auto")
	fs.StringArrayVarP(&c.Wake, "wake", "w", nil, "Wake phrase (repeatable)")

	fs.StringVar(&c.ClassifierModel, "classifier-model", "gpt-5-nano", "Completion model for classification")
	fs.StringVar(&c.AuthorModel, "author-model", "gpt-5-mini", "Completion model for spoken replies")
	fs.StringVar(&persona, "persona", "", "File with the reply persona prompt")

	fs.StringVar(&c.TTS, "tts", "streamlabs", "Speech synthesis: streamlabs or espeak")
	fs.StringVar(&c.Voice, "voice", "", "Synthesis voice")
	fs.DurationVar(&c.EffectCap, "effect-cap", 5*time.Second, "Longest a sound effect may play")
	fs.Float64Var(&c.Volume, "volume", 1, "Initial volume in [0,1]")
	fs.BoolVar(&c.Duck, "duck", false, "Lower other applications while speaking")

	fs.StringVar(&c.SlackChannel, "slack-channel", "", "Slack channel for posts")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", c.EnvFile, err)
	}
	if err := envconfig.Process("", &c.Keys); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if persona != "" {
		data, err := os.ReadFile(persona)
		if err != nil {
			return nil, fmt.Errorf("persona: %w", err)
		}
		c.Persona = string(data)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Source {
	case "mic", "none":
	case "bus":
		if c.BusURL == "" {
			return errors.New("--source bus needs --bus")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}

	switch c.TTS {
	case "streamlabs", "espeak":
	default:
		return fmt.Errorf("unknown tts %q", c.TTS)
	}

	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume %v out of [0,1]", c.Volume)
	}
	if c.EffectCap <= 0 {
		return errors.New("--effect-cap must be positive")
	}
	return nil
}
