// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Corphon/AdaptBrain/internal/utils"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string

	baseViper = newViper()
)

// 默认模型档位
const (
	DefaultFastModel = "gemini-3-flash-preview"
	DefaultProModel  = "gemini-3-pro-preview"
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port           string `json:"port"`
	DataDir        string `json:"data_dir"`
	LogDir         string `json:"log_dir"`
	DebugMode      bool   `json:"debug_mode"`
	StorageBackend string `json:"storage_backend"`
	// 访问密钥只来自环境变量，不落盘
	AccessKey string `json:"-"`

	// LLM相关配置：api_key / base_url / fast_model / pro_model
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// Config 启动时从环境变量、.env 与命令行得到的基础配置
type Config struct {
	Port           string
	DataDir        string
	LogDir         string
	DebugMode      bool
	StorageBackend string
	ConfigSecret   string
	AccessKey      string

	LLMProvider  string
	LLMAPIKey    string
	LLMBaseURL   string
	LLMFastModel string
	LLMProModel  string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("debug_mode", false)
	v.SetDefault("storage_backend", "file")
	v.SetDefault("llm_provider", "gemini")
	v.SetDefault("llm_fast_model", DefaultFastModel)
	v.SetDefault("llm_pro_model", DefaultProModel)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Viper 暴露基础配置实例，供命令行绑定参数
func Viper() *viper.Viper {
	return baseViper
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	v := baseViper
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		DataDir:        ensureDir(v.GetString("data_dir")),
		LogDir:         ensureDir(v.GetString("log_dir")),
		DebugMode:      v.GetBool("debug_mode"),
		StorageBackend: v.GetString("storage_backend"),
		ConfigSecret:   v.GetString("config_secret"),
		AccessKey:      v.GetString("access_key"),
		LLMProvider:    v.GetString("llm_provider"),
		LLMAPIKey:      firstNonEmpty(v.GetString("llm_api_key"), v.GetString("gemini_api_key"), v.GetString("api_key")),
		LLMBaseURL:     v.GetString("llm_base_url"),
		LLMFastModel:   v.GetString("llm_fast_model"),
		LLMProModel:    v.GetString("llm_pro_model"),
	}

	if cfg.LLMAPIKey == "" {
		// 只记录警告，不返回错误
		utils.GetLogger().Warn("未设置模型API密钥，需要在设置页面中配置后才能使用生成功能", nil)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ensureDir 确保目录存在
func ensureDir(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			utils.GetLogger().Warn("创建目录失败", map[string]interface{}{"path": path, "error": err})
		}
	}
	return path
}

func (c *Config) toAppConfig() *AppConfig {
	return &AppConfig{
		Port:           c.Port,
		DataDir:        c.DataDir,
		AccessKey:      c.AccessKey,
		LogDir:         c.LogDir,
		DebugMode:      c.DebugMode,
		StorageBackend: c.StorageBackend,
		LLMProvider:    c.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":    c.LLMAPIKey,
			"base_url":   c.LLMBaseURL,
			"fast_model": c.LLMFastModel,
			"pro_model":  c.LLMProModel,
		},
	}
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}
	if dataDir == "" {
		dataDir = baseConfig.DataDir
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(dataDir, "config.json")
	currentConfig = baseConfig.toAppConfig()

	// 尝试从文件加载已保存的配置
	if data, err := os.ReadFile(configFile); err == nil {
		var savedConfig AppConfig
		if json.Unmarshal(data, &savedConfig) == nil {
			mergeSaved(currentConfig, &savedConfig, baseConfig.ConfigSecret)
		}
	}

	return saveLocked()
}

// mergeSaved 保留文件中的LLM设置，基础配置以环境变量为准
func mergeSaved(cur, saved *AppConfig, secret string) {
	if saved.LLMProvider != "" {
		cur.LLMProvider = saved.LLMProvider
	}
	for k, v := range saved.LLMConfig {
		if v == "" {
			continue
		}
		if k == "api_key" {
			plain, err := utils.DecryptSecret(v, secret)
			if err != nil {
				utils.GetLogger().Warn("无法解密已保存的API密钥，改用环境变量", map[string]interface{}{"error": err})
				continue
			}
			if cur.LLMConfig["api_key"] != "" {
				// 环境变量优先
				continue
			}
			v = plain
		}
		cur.LLMConfig[k] = v
	}
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return baseConfig.toAppConfig()
	}

	return currentConfig.clone()
}

func (c *AppConfig) clone() *AppConfig {
	cp := *c
	cp.LLMConfig = make(map[string]string, len(c.LLMConfig))
	for k, v := range c.LLMConfig {
		cp.LLMConfig[k] = v
	}
	return &cp
}

// UpdateLLMConfig 更新LLM配置，空值保留原设置
func UpdateLLMConfig(provider string, cfg map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	if provider != "" {
		currentConfig.LLMProvider = provider
	}
	if currentConfig.LLMConfig == nil {
		currentConfig.LLMConfig = map[string]string{}
	}
	for k, v := range cfg {
		if v != "" {
			currentConfig.LLMConfig[k] = v
		}
	}

	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	// API密钥落盘前加密
	onDisk := currentConfig.clone()
	secret := baseViper.GetString("config_secret")
	if key := onDisk.LLMConfig["api_key"]; key != "" {
		enc, err := utils.EncryptSecret(key, secret)
		if err != nil {
			return fmt.Errorf("加密API密钥失败: %w", err)
		}
		onDisk.LLMConfig["api_key"] = enc
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}
