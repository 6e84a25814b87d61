package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lokutor-ai/lokutor-stage/pkg/audioproc"
	"github.com/lokutor-ai/lokutor-stage/pkg/bargein"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

// secrets holds API keys loaded from the environment/.env file — the
// teacher's pattern in cmd/agent/main.go (godotenv.Load then os.Getenv).
type secrets struct {
	groqKey      string
	openaiKey    string
	anthropicKey string
	googleKey    string
	deepgramKey  string
	assemblyKey  string
	lokutorKey   string
}

func loadSecrets() secrets {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}
	v := viper.New()
	v.AutomaticEnv()
	return secrets{
		groqKey:      v.GetString("GROQ_API_KEY"),
		openaiKey:    v.GetString("OPENAI_API_KEY"),
		anthropicKey: v.GetString("ANTHROPIC_API_KEY"),
		googleKey:    v.GetString("GOOGLE_API_KEY"),
		deepgramKey:  v.GetString("DEEPGRAM_API_KEY"),
		assemblyKey:  v.GetString("ASSEMBLYAI_API_KEY"),
		lokutorKey:   v.GetString("LOKUTOR_API_KEY"),
	}
}

// settings is the layered, non-secret structural configuration —
// SPEC_FULL.md's ambient-stack note: godotenv for secrets, viper for
// everything else (listen address, data directory, sample rate, frame
// size, STT provider, language, ducking profile, barge-in mode, shutdown
// deadline). DuckingProfile and BargeInMode are parsed but stageConfig
// does not pass them on, so sessions run with the audioproc and bargein
// package defaults (medium profile, graceful mode).
type settings struct {
	ListenAddr    string
	DataDir       string
	SampleRate    int
	FrameMs       int
	STTProvider   string
	LLMLanguage   string
	DuckingProfile audioproc.Profile
	BargeInMode    bargein.Mode
	ShutdownSeconds int
}

func loadSettings() settings {
	v := viper.New()
	v.SetConfigName("stage-demo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("STAGE")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("frame_ms", 20)
	v.SetDefault("stt_provider", "groq")
	v.SetDefault("language", "en")
	v.SetDefault("ducking_profile", "medium")
	v.SetDefault("barge_in_mode", "graceful")
	v.SetDefault("shutdown_seconds", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("warning: config file error: %v", err)
		}
	}

	return settings{
		ListenAddr:      v.GetString("listen_addr"),
		DataDir:         v.GetString("data_dir"),
		SampleRate:      v.GetInt("sample_rate"),
		FrameMs:         v.GetInt("frame_ms"),
		STTProvider:     v.GetString("stt_provider"),
		LLMLanguage:     v.GetString("language"),
		DuckingProfile:  parseProfile(v.GetString("ducking_profile")),
		BargeInMode:     parseBargeInMode(v.GetString("barge_in_mode")),
		ShutdownSeconds: v.GetInt("shutdown_seconds"),
	}
}

func parseProfile(s string) audioproc.Profile {
	switch s {
	case "soft":
		return audioproc.Soft
	case "hard":
		return audioproc.Hard
	case "custom":
		return audioproc.Custom
	default:
		return audioproc.Medium
	}
}

func parseBargeInMode(s string) bargein.Mode {
	switch s {
	case "immediate":
		return bargein.Immediate
	case "sentence_complete":
		return bargein.SentenceComplete
	case "disabled":
		return bargein.Disabled
	default:
		return bargein.Graceful
	}
}

func (s settings) stageConfig() stage.Config {
	cfg := stage.DefaultConfig()
	cfg.SampleRate = s.SampleRate
	cfg.FrameMs = s.FrameMs
	cfg.ShutdownDeadlineSeconds = s.ShutdownSeconds
	return cfg
}

func (s settings) shutdownDeadline() time.Duration {
	return time.Duration(s.ShutdownSeconds) * time.Second
}
