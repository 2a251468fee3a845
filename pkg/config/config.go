package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Discord   DiscordConfig   `mapstructure:"discord"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	AI        AIConfig        `mapstructure:"ai"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type DiscordConfig struct {
	Token     string `mapstructure:"token"`
	AdminRole string `mapstructure:"admin_role"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	UseFiles bool   `mapstructure:"use_files"`
	DataDir  string `mapstructure:"data_dir"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// AIConfig is the gateway policy: model priority and the escalation
// heuristic keyword sets are deployment configuration, not fixed
// behavior.
type AIConfig struct {
	Models           []string `mapstructure:"models"`
	EscalateKeywords []string `mapstructure:"escalate_keywords"`
	ReassureKeywords []string `mapstructure:"reassure_keywords"`
	FallbackMessage  string   `mapstructure:"fallback_message"`
	HistoryLimit     int      `mapstructure:"history_limit"`
	SystemPrompt     string   `mapstructure:"system_prompt"`
}

type DashboardConfig struct {
	Addr          string `mapstructure:"addr"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// DefaultSystemPrompt steers the assistant for the referral-gaming
// support desk. Overridable via ai.system_prompt.
const DefaultSystemPrompt = `You are X-Boty, a customer-support assistant for an online referral-based gaming platform.

Help users with referral bonuses, payouts and general site use — quickly, clearly and politely.
Answer in short paragraphs or bullet points. If the question concerns payouts, deposits,
withdrawals or login problems, guide the basic checks and then suggest contacting the admins.
If the user just greets or chats casually, reply friendly but brief. Never ping admins unless necessary.`

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("discord.admin_role", "Admin - Ticket Support")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_files", true)
	v.SetDefault("database.data_dir", "ticket_data")
	v.SetDefault("openai.max_tokens", 700)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("ai.history_limit", 12)
	v.SetDefault("ai.system_prompt", DefaultSystemPrompt)
	v.SetDefault("dashboard.addr", ":8090")
	v.SetDefault("dashboard.admin_username", "admin")
	v.SetDefault("dashboard.token_ttl_hours", 12)

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		// The config file is optional: env vars and defaults carry a
		// containerized deployment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		dbConfig.UseFiles = false
		dbConfig.DataDir = config.Database.DataDir
		config.Database = dbConfig
	}

	if token := v.GetString("DISCORD_BOT_TOKEN"); token != "" {
		config.Discord.Token = token
	}
	if role := v.GetString("ADMIN_ROLE_NAME"); role != "" {
		config.Discord.AdminRole = role
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if secret := v.GetString("JWT_SECRET"); secret != "" {
		config.Dashboard.JWTSecret = secret
	}
	if password := v.GetString("DASHBOARD_ADMIN_PASSWORD"); password != "" {
		config.Dashboard.AdminPassword = password
	}

	return &config, nil
}
