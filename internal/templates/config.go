package templates

import "os"

const configTemplate = `
host: localhost
port: 8881
environment: dev
filesystem_type: local
disable_auth: true
screen_dataset: false

db:
  driver: sqlite
  dsn: file:~/.ember/ember.db

# pulsar:
#   url: pulsar://localhost:6650

# s3:
#   endpoint_url: "https://nyc3.digitaloceanspaces.com"
#   region_name: "nyc3"
#   bucket_name: "ember-artifacts"
#   folder: "runs"
#   vanity_url: "https://artifacts.ember.dev"

# Base models resolvable by name in run requests.
# base_models:
#   gpt-nano: hf:ember-llm/gpt-nano
`

func GetConfigTemplate() string {
	return configTemplate
}

func WriteConfig(path string) error {
	configTemplate := GetConfigTemplate()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(configTemplate)
	if err != nil {
		return err
	}

	return nil
}
