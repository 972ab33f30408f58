package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendConfig 描述 LLM 后端：本地/兼容端点或云端凭证
// BackendConfig describes the LLM backend: a base endpoint or a cloud credential.
type BackendConfig struct {
	BaseURL      string  `json:"base_url" yaml:"base_url"`
	Model        string  `json:"model" yaml:"model"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	APIKey       string  `json:"api_key" yaml:"api_key"`
	CloudBaseURL string  `json:"cloud_base_url" yaml:"cloud_base_url"`
	TimeoutMS    int     `json:"timeout_ms" yaml:"timeout_ms"`
	// RetryOnEmptyReply 为 true 时，2xx 但提取不到文本的响应不会结束候选级联。
	// RetryOnEmptyReply keeps the candidate cascade going after a 2xx reply with no extractable text.
	RetryOnEmptyReply bool `json:"retry_on_empty_reply" yaml:"retry_on_empty_reply"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir" yaml:"base_dir"`
}

type HistoryConfig struct {
	TokenLimit int `json:"token_limit" yaml:"token_limit"`
}

type DecomposeConfig struct {
	// Instruction 在提示词前追加的分解指令；为空时原样发送提示词。
	// Instruction is prepended to the prompt sent for decomposition; empty sends the prompt as is.
	Instruction string `json:"instruction" yaml:"instruction"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Config struct {
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Decompose DecomposeConfig `json:"decompose" yaml:"decompose"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type fileBackendConfig struct {
	BaseURL           *string  `json:"base_url" yaml:"base_url"`
	Model             *string  `json:"model" yaml:"model"`
	Temperature       *float64 `json:"temperature" yaml:"temperature"`
	APIKey            *string  `json:"api_key" yaml:"api_key"`
	CloudBaseURL      *string  `json:"cloud_base_url" yaml:"cloud_base_url"`
	TimeoutMS         *int     `json:"timeout_ms" yaml:"timeout_ms"`
	RetryOnEmptyReply *bool    `json:"retry_on_empty_reply" yaml:"retry_on_empty_reply"`
}

type fileDecomposeConfig struct {
	Instruction *string `json:"instruction" yaml:"instruction"`
}

type fileConfig struct {
	Backend   *fileBackendConfig   `json:"backend" yaml:"backend"`
	Server    *ServerConfig        `json:"server" yaml:"server"`
	Storage   *StorageConfig       `json:"storage" yaml:"storage"`
	History   *HistoryConfig       `json:"history" yaml:"history"`
	Decompose *fileDecomposeConfig `json:"decompose" yaml:"decompose"`
	Log       *LogConfig           `json:"log" yaml:"log"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			Model:       DefaultBackendModel,
			Temperature: DefaultBackendTemperature,
			TimeoutMS:   DefaultBackendTimeoutMS,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Storage: StorageConfig{
			BaseDir: "~/.sista",
		},
		History: HistoryConfig{
			TokenLimit: DefaultHistoryTokenLimit,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load 按 默认值 → 全局配置 → 项目配置(或显式路径) → 环境变量 的顺序合并配置
// Load merges defaults, the global file, the project file (or an explicit path) and env vars, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("SISTA_CONFIG_PATH")); envPath != "" && resolvedPath == "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	} else if _, err := os.Stat(mustExpand(resolvedPath)); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", resolvedPath, err)
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".sista")
	// config.jsonc 后加载，覆盖 config.json
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.jsonc"),
	}
}

func findProjectConfigPath() string {
	candidates := []string{
		"sista.config.json",
		"sista.config.jsonc",
		".sista/config.json",
		".sista/config.yaml",
		".sista/config.yml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	default:
		cleaned := stripJSONComments(data)
		if len(bytes.TrimSpace(cleaned)) == 0 {
			return nil
		}
		if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Backend != nil {
		cfg.Backend = mergeBackend(cfg.Backend, *fc.Backend)
	}
	if fc.Server != nil && strings.TrimSpace(fc.Server.Addr) != "" {
		cfg.Server.Addr = fc.Server.Addr
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.BaseDir) != "" {
		cfg.Storage.BaseDir = fc.Storage.BaseDir
	}
	if fc.History != nil && fc.History.TokenLimit > 0 {
		cfg.History.TokenLimit = fc.History.TokenLimit
	}
	if fc.Decompose != nil && fc.Decompose.Instruction != nil {
		cfg.Decompose.Instruction = *fc.Decompose.Instruction
	}
	if fc.Log != nil {
		if strings.TrimSpace(fc.Log.Level) != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if strings.TrimSpace(fc.Log.Format) != "" {
			cfg.Log.Format = fc.Log.Format
		}
	}
}

func mergeBackend(base BackendConfig, override fileBackendConfig) BackendConfig {
	if override.BaseURL != nil {
		base.BaseURL = *override.BaseURL
	}
	if override.Model != nil && strings.TrimSpace(*override.Model) != "" {
		base.Model = *override.Model
	}
	if override.Temperature != nil {
		base.Temperature = *override.Temperature
	}
	if override.APIKey != nil {
		base.APIKey = *override.APIKey
	}
	if override.CloudBaseURL != nil {
		base.CloudBaseURL = *override.CloudBaseURL
	}
	if override.TimeoutMS != nil && *override.TimeoutMS > 0 {
		base.TimeoutMS = *override.TimeoutMS
	}
	if override.RetryOnEmptyReply != nil {
		base.RetryOnEmptyReply = *override.RetryOnEmptyReply
	}
	return base
}

func normalize(cfg *Config) error {
	cfg.Backend.BaseURL = strings.TrimSpace(cfg.Backend.BaseURL)
	cfg.Backend.APIKey = strings.TrimSpace(cfg.Backend.APIKey)
	cfg.Backend.CloudBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.CloudBaseURL), "/")
	cfg.Backend.Model = strings.TrimSpace(cfg.Backend.Model)
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = DefaultBackendModel
	}
	if cfg.Backend.TimeoutMS <= 0 {
		cfg.Backend.TimeoutMS = DefaultBackendTimeoutMS
	}
	if cfg.Backend.Temperature < 0 || cfg.Backend.Temperature > 2 {
		return fmt.Errorf("backend.temperature out of range [0,2]: %v", cfg.Backend.Temperature)
	}

	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}

	if strings.TrimSpace(cfg.Storage.BaseDir) == "" {
		cfg.Storage.BaseDir = Default().Storage.BaseDir
	}
	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	cfg.Storage.BaseDir = storageDir

	if cfg.History.TokenLimit <= 0 {
		cfg.History.TokenLimit = DefaultHistoryTokenLimit
	}
	cfg.Decompose.Instruction = strings.TrimSpace(cfg.Decompose.Instruction)

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", cfg.Log.Level)
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = DefaultLogFormat
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", cfg.Log.Format)
	}
	return nil
}

// applyEnv keeps the variable names the web client and the LM Studio setup
// already export.
func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("LMSTUDIO_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.Backend.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPENAI_TEMPERATURE: %q", v)
		}
		cfg.Backend.Temperature = f
	}
	if v := strings.TrimSpace(os.Getenv("SISTA_TIMEOUT_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid SISTA_TIMEOUT_MS: %q", v)
		}
		cfg.Backend.TimeoutMS = n
	}
	if v := strings.TrimSpace(os.Getenv("SISTA_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("SISTA_DATA_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SISTA_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	return cfg, normalize(&cfg)
}

// DBPath 返回 SQLite 数据库文件路径
// DBPath returns the SQLite database file path under the storage base dir.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.BaseDir, "sista.db")
}

// HistoryFile returns the readline history file path.
func (c Config) HistoryFile() string {
	return filepath.Join(c.Storage.BaseDir, "history")
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
