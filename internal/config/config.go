package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ModelConfig describes the network dimensions and the decode limits.
type ModelConfig struct {
	Name              string `yaml:"name"`
	LatentDim         int    `yaml:"latent_dim"`
	NumEncoderTokens  int    `yaml:"num_encoder_tokens"`
	NumDecoderTokens  int    `yaml:"num_decoder_tokens"`
	MaxEncoderSeqLen  int    `yaml:"max_encoder_seq_length"`
	MaxDecoderSeqLen  int    `yaml:"max_decoder_seq_length"`
	StartToken        string `yaml:"start_token"`
	StopToken         string `yaml:"stop_token"`
	FlightAddr        string `yaml:"flight_addr"`
	CallTimeoutSecs   int    `yaml:"call_timeout_secs"`
	MaxMessageSizeMiB int    `yaml:"max_message_size_mib"`
}

// ResourceConfig points at the persisted token indices and entity list.
// Bundle, when set, is resolved first and its layers replace the configured
// paths.
type ResourceConfig struct {
	Bundle           string `yaml:"bundle"`
	InputTokenIndex  string `yaml:"input_token_index"`
	TargetTokenIndex string `yaml:"target_token_index"`
	Entities         string `yaml:"entities"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr               string   `yaml:"addr"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"`
	MaxInputBytes      int64    `yaml:"max_input_bytes"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

type Config struct {
	Model     ModelConfig    `yaml:"model"`
	Resources ResourceConfig `yaml:"resources"`
	Log       LogConfig      `yaml:"log"`
	Server    ServerConfig   `yaml:"server"`
}

func Default() Config {
	return Config{
		Model: ModelConfig{
			Name:              "s2s",
			LatentDim:         256,
			NumEncoderTokens:  60,
			NumDecoderTokens:  35,
			MaxEncoderSeqLen:  131,
			MaxDecoderSeqLen:  61,
			StartToken:        "\t",
			StopToken:         "\n",
			FlightAddr:        "localhost:8815",
			CallTimeoutSecs:   30,
			MaxMessageSizeMiB: 16,
		},
		Resources: ResourceConfig{
			InputTokenIndex:  "input_token_index.json",
			TargetTokenIndex: "target_token_index.json",
			Entities:         "entities.txt",
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{
			Addr:               ":8080",
			RequestTimeoutSecs: 60,
			MaxInputBytes:      64 << 10,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from S2S_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"S2S_MODEL_NAME":         &c.Model.Name,
		"S2S_FLIGHT_ADDR":        &c.Model.FlightAddr,
		"S2S_BUNDLE":             &c.Resources.Bundle,
		"S2S_INPUT_TOKEN_INDEX":  &c.Resources.InputTokenIndex,
		"S2S_TARGET_TOKEN_INDEX": &c.Resources.TargetTokenIndex,
		"S2S_ENTITIES":           &c.Resources.Entities,
		"S2S_LOG_LEVEL":          &c.Log.Level,
		"S2S_LOG_FORMAT":         &c.Log.Format,
		"S2S_SERVER_ADDR":        &c.Server.Addr,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"S2S_MAX_ENCODER_SEQ_LENGTH": &c.Model.MaxEncoderSeqLen,
		"S2S_MAX_DECODER_SEQ_LENGTH": &c.Model.MaxDecoderSeqLen,
		"S2S_CALL_TIMEOUT_SECS":      &c.Model.CallTimeoutSecs,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = n
	}
	return nil
}

func (c *Config) Validate() error {
	m := c.Model
	if m.Name == "" {
		return fmt.Errorf("invalid model name: empty")
	}
	if m.LatentDim <= 0 {
		return fmt.Errorf("invalid latent_dim: %d (must be positive)", m.LatentDim)
	}
	if m.NumEncoderTokens <= 0 {
		return fmt.Errorf("invalid num_encoder_tokens: %d (must be positive)", m.NumEncoderTokens)
	}
	if m.NumDecoderTokens <= 0 {
		return fmt.Errorf("invalid num_decoder_tokens: %d (must be positive)", m.NumDecoderTokens)
	}
	if m.MaxEncoderSeqLen <= 0 {
		return fmt.Errorf("invalid max_encoder_seq_length: %d (must be positive)", m.MaxEncoderSeqLen)
	}
	if m.MaxDecoderSeqLen <= 0 {
		return fmt.Errorf("invalid max_decoder_seq_length: %d (must be positive)", m.MaxDecoderSeqLen)
	}
	if utf8.RuneCountInString(m.StartToken) != 1 {
		return fmt.Errorf("invalid start_token: %q (must be one character)", m.StartToken)
	}
	if utf8.RuneCountInString(m.StopToken) != 1 {
		return fmt.Errorf("invalid stop_token: %q (must be one character)", m.StopToken)
	}
	if m.StartToken == m.StopToken {
		return fmt.Errorf("start_token and stop_token must differ")
	}
	if m.CallTimeoutSecs < 0 {
		return fmt.Errorf("invalid call_timeout_secs: %d (must be non-negative)", m.CallTimeoutSecs)
	}
	if m.MaxMessageSizeMiB < 0 {
		return fmt.Errorf("invalid max_message_size_mib: %d (must be non-negative)", m.MaxMessageSizeMiB)
	}
	if c.Server.RequestTimeoutSecs < 0 {
		return fmt.Errorf("invalid request_timeout_secs: %d (must be non-negative)", c.Server.RequestTimeoutSecs)
	}
	if c.Server.MaxInputBytes < 0 {
		return fmt.Errorf("invalid max_input_bytes: %d (must be non-negative)", c.Server.MaxInputBytes)
	}
	return nil
}

func (m ModelConfig) Start() rune {
	r, _ := utf8.DecodeRuneInString(m.StartToken)
	return r
}

func (m ModelConfig) Stop() rune {
	r, _ := utf8.DecodeRuneInString(m.StopToken)
	return r
}

// CallTimeout is the per model call deadline; zero means none.
func (m ModelConfig) CallTimeout() time.Duration {
	return time.Duration(m.CallTimeoutSecs) * time.Second
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}
