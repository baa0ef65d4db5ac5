package templates

import "os"

const envTemplate = `# Secrets live here; config.yaml holds everything else.
# HF_TOKEN=
# OPENAI_API_KEY=
# EMBER_S3_ACCESS_KEY=
# EMBER_S3_SECRET_KEY=
# EMBER_DB_DSN=
`

func GetEnvTemplate() string {
	return envTemplate
}

func WriteEnv(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(GetEnvTemplate())
	if err != nil {
		return err
	}

	return nil
}
