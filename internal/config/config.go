package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ember-llm/tune-server/internal/templates"
	"github.com/ember-llm/tune-server/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	FilesystemLocal = "local"
	FilesystemS3    = "s3"
)

const emberPrefix = "EMBER"

type Config struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	EmberHome     string        `mapstructure:"ember_home"`
	Environment   string        `mapstructure:"environment"`
	AssetsDir     string        `mapstructure:"assets_dir"`
	ModelsDir     string        `mapstructure:"models_dir"`
	DatasetsDir   string        `mapstructure:"datasets_dir"`
	RunsDir       string        `mapstructure:"runs_dir"`
	TempDir       string        `mapstructure:"temp_dir"`
	Filesystem    string        `mapstructure:"filesystem_type"`
	DisableAuth   bool          `mapstructure:"disable_auth"`
	ScreenDataset bool          `mapstructure:"screen_dataset"`
	HFToken       string        `mapstructure:"hf_token"`
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	// BaseModels maps a short name to a checkpoint source, e.g.
	// "gpt-nano" -> "hf:ember-llm/gpt-nano". Entries are fetched at
	// server startup so runs can reference them by name.
	BaseModels map[string]string `mapstructure:"base_models"`
	DB         *DBConfig         `mapstructure:"db"`
	Pulsar     *PulsarConfig     `mapstructure:"pulsar"`
	S3         *S3Config         `mapstructure:"s3"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PulsarConfig struct {
	URL string `mapstructure:"url"`
}

type S3Config struct {
	Folder    string `mapstructure:"folder"`
	Region    string `mapstructure:"region_name"`
	Bucket    string `mapstructure:"bucket_name"`
	Endpoint  string `mapstructure:"endpoint_url"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	VanityUrl string `mapstructure:"vanity_url"`
}

var config *Config

func InitConfig() error {
	emberHome, err := getEmberHome()
	if err != nil {
		return err
	}

	if err := createEmberHomeDirs(emberHome); err != nil {
		return err
	}

	viper.Set("ember_home", emberHome)
	for _, dir := range []string{"assets", "models", "datasets", "runs", "temp"} {
		key := dir + "_dir"
		if viper.GetString(key) == "" {
			viper.Set(key, filepath.Join(emberHome, dir))
		}
	}

	envFile := viper.GetString("env_file")
	if envFile == "" {
		envFile = filepath.Join(emberHome, ".env")
	}
	configFile := viper.GetString("config_file")
	if configFile == "" {
		configFile = filepath.Join(emberHome, "config.yaml")
	}

	if _, err := os.Stat(envFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat .env file: %w", err)
		}

		if err := templates.WriteEnv(envFile); err != nil {
			return fmt.Errorf("failed to create .env file: %w", err)
		}
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	if _, err := os.Stat(configFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config.yaml file: %w", err)
		}

		if err := templates.WriteConfig(configFile); err != nil {
			return fmt.Errorf("failed to create config.yaml file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(emberPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))
	viper.SetConfigFile(configFile)

	if err := LoadConfig(false); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			fmt.Println("No config file found. Using default config.")
		} else {
			return err
		}
	}

	return nil
}

func LoadConfig(reload bool) error {
	if config != nil && !reload {
		return fmt.Errorf("config already loaded")
	}

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}

	config = &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}

	return nil
}

func GetConfig() *Config {
	if config == nil {
		panic("config not loaded")
	}

	return config
}

// Returns the ember home directory path.
// It attempts to retrieve the home directory from the following sources in order:
// 1. The `ember_home` flag from viper.
// 2. The `EMBER_HOME` environment variable.
// 3. The default ember home directory.
func getEmberHome() (string, error) {
	emberHome := viper.GetString("ember_home")
	if emberHome == "" {
		emberHome = os.Getenv("EMBER_HOME")
		if emberHome == "" {
			emberHome = DefaultEmberHome
		}
	}

	emberHome, err := pathutil.ExpandPath(emberHome)
	if err != nil {
		return "", fmt.Errorf("failed to expand ember home path: %w", err)
	}

	return emberHome, nil
}

func createEmberHomeDirs(emberHome string) error {
	if emberHome == "" {
		return ErrEmberHomeNotSet
	}

	if err := os.MkdirAll(emberHome, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create ember home directory: %w", err)
	}

	subdirs := []string{"assets", "models", "datasets", "runs", "temp"}
	for _, subdir := range subdirs {
		dir := filepath.Join(emberHome, subdir)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", subdir, err)
		}
	}

	return nil
}
