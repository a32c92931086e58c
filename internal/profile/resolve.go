package profile

import (
	"fmt"
	"os"
	"regexp"

	"autochat/internal/config"
)

// DefaultName is the profile used when nothing else selects one.
const DefaultName = "default"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. AUTOCHAT_PROFILE environment variable
// 3. global config default_profile
// 4. "default"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("AUTOCHAT_PROFILE"); env != "" {
		return env
	}
	cfg, err := config.LoadGlobal(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
