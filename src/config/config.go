package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"screen-quiz-llm/src/keystore"
)

const (
	APIKeyEnvVar  = "OPENAI_API_KEY"
	AltEnvPathVar = "SCREEN_QUIZ_LLM"

	CaptureModeScreen    = "screen"
	CaptureModeSelect    = "select"
	CaptureModeFolder    = "folder"
	CaptureModeWatch     = "watch"
	CaptureModeClipboard = "clipboard"

	APIKeySourceFile     = "file"
	APIKeySourceEnv      = "env"
	APIKeySourceKeystore = "keystore"
)

type LoadOptions struct {
	APIKeyPathOverride    string
	CaptureModeOverride   string
	ScreenshotDirOverride string
	KeystorePathOverride  string
}

type Config struct {
	// Resolved at load time; not read from a single variable.
	APIKey       string
	APIKeySource string
	KeystorePath string

	APIKeyPath        string `env:"OPENAI_API_KEY_FILE"`
	BaseURL           string `env:"OPENAI_BASE_URL"`
	Model             string `env:"MODEL" envDefault:"gpt-5"`
	Prompt            string `env:"PROMPT"`
	CaptureMode       string `env:"CAPTURE_MODE" envDefault:"screen"`
	ScreenshotDir     string `env:"SCREENSHOT_DIR"`
	CaptureRegion     string `env:"CAPTURE_REGION"`
	HotkeyCapture     string `env:"HOTKEY_CAPTURE" envDefault:"Alt+T"`
	HotkeyReset       string `env:"HOTKEY_RESET" envDefault:"Alt+Enter"`
	HotkeyForgetKey   string `env:"HOTKEY_FORGET_KEY" envDefault:"Alt+R"`
	HotkeyQuit        string `env:"HOTKEY_QUIT" envDefault:"Alt+Q"`
	AnswerDeadlineSec int    `env:"ANSWER_DEADLINE_SEC" envDefault:"60"`
	EnableHTTP2       bool   `env:"ENABLE_HTTP2" envDefault:"true"`
	EnableFileLogging bool   `env:"ENABLE_FILE_LOGGING"`
	CopyAnswer        bool   `env:"COPY_ANSWER"`
	Notify            bool   `env:"NOTIFY"`
	ShowTray          bool   `env:"SHOW_TRAY" envDefault:"true"`
	OverlayX          int    `env:"OVERLAY_X" envDefault:"10"`
	OverlayY          int    `env:"OVERLAY_Y" envDefault:"10"`
	InstancePort      int    `env:"INSTANCE_PORT" envDefault:"49560"`
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) process environment
	// 2) .env in the executable directory, else the file named by SCREEN_QUIZ_LLM
	if envPath := resolveEnvPath(); envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("config: failed to load %s: %v", envPath, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if p := strings.TrimSpace(opts.APIKeyPathOverride); p != "" {
		cfg.APIKeyPath = p
	}
	if m := strings.TrimSpace(opts.CaptureModeOverride); m != "" {
		cfg.CaptureMode = m
	}
	if d := strings.TrimSpace(opts.ScreenshotDirOverride); d != "" {
		cfg.ScreenshotDir = d
	}

	mode, err := normalizeCaptureMode(cfg.CaptureMode)
	if err != nil {
		return nil, err
	}
	cfg.CaptureMode = mode

	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = defaultScreenshotDir()
	}
	if cfg.AnswerDeadlineSec <= 0 {
		cfg.AnswerDeadlineSec = 60
	}

	cfg.KeystorePath = strings.TrimSpace(opts.KeystorePathOverride)
	if cfg.KeystorePath == "" {
		if p, err := keystore.DefaultPath(); err == nil {
			cfg.KeystorePath = p
		}
	}
	cfg.APIKey, cfg.APIKeySource = resolveAPIKey(cfg.APIKeyPath, cfg.KeystorePath)

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(AltEnvPathVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

// resolveAPIKey checks the key file, then OPENAI_API_KEY, then the saved key store.
func resolveAPIKey(keyPath, storePath string) (string, string) {
	if keyPath != "" {
		if data, err := os.ReadFile(keyPath); err == nil {
			if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
				return fileKey, APIKeySourceFile
			}
		}
	}

	if envKey := strings.TrimSpace(os.Getenv(APIKeyEnvVar)); envKey != "" {
		return envKey, APIKeySourceEnv
	}

	if storePath != "" {
		if store, err := keystore.New(storePath); err == nil {
			if saved, err := store.Load(); err == nil {
				return saved, APIKeySourceKeystore
			}
		}
	}

	return "", ""
}

func normalizeCaptureMode(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", CaptureModeScreen, "screenshot":
		return CaptureModeScreen, nil
	case CaptureModeSelect, "area", "region", "drag":
		return CaptureModeSelect, nil
	case CaptureModeFolder, "dir", "latest":
		return CaptureModeFolder, nil
	case CaptureModeWatch:
		return CaptureModeWatch, nil
	case CaptureModeClipboard:
		return CaptureModeClipboard, nil
	default:
		return "", fmt.Errorf("unknown CAPTURE_MODE %q (want screen, select, folder, watch or clipboard)", value)
	}
}

func defaultScreenshotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Pictures", "Screenshots")
}
