package config

import "errors"

const DefaultEmberHome = "~/.ember"

var (
	DefaultFinetuneTopic  = "ember/finetune/requests"
	DefaultProgressTopic  = "ember/finetune/progress"
	DefaultProgressPrefix = DefaultProgressTopic + ":"

	DefaultDownloadTopic = "ember/models/downloading"
)

var (
	ErrEmberHomeNotSet       = errors.New("ember home directory is not set")
	ErrEmberHomeExpandFailed = errors.New("failed to expand ember home directory")
)
