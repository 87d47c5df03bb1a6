package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var knownTopics = map[string]bool{
	"news":           true,
	"stocks":         true,
	"recommendation": true,
	"economy":        true,
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	for topic, tag := range cfg.Workflow.SourceFilters {
		if !knownTopics[topic] {
			return fmt.Errorf("invalid config: source_filters: unknown topic %q", topic)
		}
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("invalid config: source_filters: empty source tag for %q", topic)
		}
	}

	if cfg.Workflow.DefaultTopic != "" && !knownTopics[cfg.Workflow.DefaultTopic] {
		return fmt.Errorf("invalid config: unknown default topic %q", cfg.Workflow.DefaultTopic)
	}
	return nil
}
