package modelfetch

import (
	"fmt"
	"strings"
)

type SourceType string

const (
	SourceTypeHuggingface SourceType = "huggingface"
	SourceTypeFile        SourceType = "file"
	SourceTypeDirect      SourceType = "direct"
)

type Source struct {
	Type     SourceType
	Location string
	Original string
}

func ParseSource(source string) (*Source, error) {
	if source == "" {
		return nil, fmt.Errorf("empty source string. Source is required")
	}

	src := &Source{
		Original: source,
	}

	if strings.HasPrefix(source, "hf:") {
		src.Type = SourceTypeHuggingface
		src.Location = strings.TrimPrefix(source, "hf:")
	} else if strings.HasPrefix(source, "file:") {
		src.Type = SourceTypeFile
		src.Location = strings.TrimPrefix(source, "file:")
	} else if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		src.Type = SourceTypeDirect
		src.Location = source
	} else {
		return nil, fmt.Errorf("unsupported checkpoint source: %s", source)
	}

	return src, nil
}
