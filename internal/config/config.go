package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はゲートウェイの設定。
type Config struct {
	// Port はリッスンポート。
	Port string `yaml:"port" validate:"required,numeric"`
	// PTV は上流APIの設定。
	PTV PTVConfig `yaml:"ptv"`
	// CORSAllowedOrigins はクロスオリジンを許可するオリジン。"*" で全許可。
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins" validate:"min=1,dive,required"`
	// Stations は駅カタログ構築の設定。
	Stations StationsConfig `yaml:"stations"`
	// Departures は出発情報取得の設定。
	Departures DeparturesConfig `yaml:"departures"`
}

// PTVConfig は上流APIの設定。
type PTVConfig struct {
	// BaseURL は上流APIのベースURL。
	BaseURL string `yaml:"baseURL" validate:"required,url"`
	// DevID は開発者ID。
	DevID string `yaml:"devID"`
	// APIKey は署名用の秘密鍵。空の場合は署名が必要なエンドポイントが失敗する。
	APIKey string `yaml:"apiKey"`
	// Timeout は上流呼び出しのタイムアウト。
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// StationsConfig は駅カタログ構築の設定。
type StationsConfig struct {
	// FirstRoute は対象とする最初の路線ID。
	FirstRoute int `yaml:"firstRoute" validate:"gte=1"`
	// LastRoute は対象とする最後の路線ID。
	LastRoute int `yaml:"lastRoute" validate:"gtefield=FirstRoute"`
	// Concurrency は同時に発行する上流呼び出しの上限。
	Concurrency int `yaml:"concurrency" validate:"gte=1"`
	// ReportFailures がtrueの場合、失敗した路線IDをレスポンスに含める。
	ReportFailures bool `yaml:"reportFailures"`
}

// DeparturesConfig は出発情報取得の設定。
type DeparturesConfig struct {
	// MaxResults は上流に要求する最大件数。
	MaxResults int `yaml:"maxResults" validate:"gte=1"`
}

// Default は既定値で埋めた設定を返す。
func Default() Config {
	return Config{
		Port: "8080",
		PTV: PTVConfig{
			BaseURL: "https://timetableapi.ptv.vic.gov.au",
			Timeout: 30 * time.Second,
		},
		CORSAllowedOrigins: []string{"*"},
		Stations: StationsConfig{
			FirstRoute:  1,
			LastRoute:   17,
			Concurrency: 17,
		},
		Departures: DeparturesConfig{
			MaxResults: 10,
		},
	}
}

// Load は設定を読み込んで検証する。
// envFilesに指定した.envファイルは存在しなくてもエラーにしない。
// 同じキーは後に指定したファイルが優先され、プロセスの環境変数はどのファイルよりも優先される。
func Load(envFiles ...string) (Config, error) {
	cfg := Default()

	if err := loadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadEnvFiles は.envファイルを順に読み込み、未設定の環境変数だけを設定する。
func loadEnvFiles(files ...string) error {
	merged := make(map[string]string)
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf(".envファイル %s の読み込みに失敗: %w", f, err)
		}
		for k, v := range vars {
			merged[k] = v
		}
	}

	for k, v := range merged {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("環境変数 %s の設定に失敗: %w", k, err)
		}
	}
	return nil
}

// Validate は設定値をstructタグに従って検証する。
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("設定値が不正です: %w", err)
	}
	return nil
}

// loadYAML はYAMLファイルの内容をcfgに上書きする。
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("設定ファイル %s のパースに失敗: %w", path, err)
	}
	return nil
}

// applyEnv は環境変数の値をcfgに上書きする。
func applyEnv(cfg *Config) error {
	cfg.Port = getEnvOr("PORT", cfg.Port)
	cfg.PTV.BaseURL = getEnvOr("PTV_BASE_URL", cfg.PTV.BaseURL)
	cfg.PTV.DevID = getEnvOr("PTV_DEV_ID", cfg.PTV.DevID)
	cfg.PTV.APIKey = getEnvOr("PTV_API_KEY", cfg.PTV.APIKey)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSAllowedOrigins = origins
	}

	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("UPSTREAM_TIMEOUT の値が不正です: %w", err)
		}
		cfg.PTV.Timeout = d
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"STATIONS_FIRST_ROUTE", &cfg.Stations.FirstRoute},
		{"STATIONS_LAST_ROUTE", &cfg.Stations.LastRoute},
		{"STATIONS_CONCURRENCY", &cfg.Stations.Concurrency},
		{"DEPARTURES_MAX_RESULTS", &cfg.Departures.MaxResults},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s の値が不正です: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("STATIONS_REPORT_FAILURES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STATIONS_REPORT_FAILURES の値が不正です: %w", err)
		}
		cfg.Stations.ReportFailures = b
	}
	return nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
