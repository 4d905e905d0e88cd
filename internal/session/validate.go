package session

import (
	"fmt"
	"regexp"
)

// Names become directory names under the sessions root and appear bare on
// the tgv command line, so they must start with a letter or digit: a name
// with a leading '-' would parse as a flag.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must start with a letter or digit and match ^[a-z0-9][a-z0-9_-]{0,63}$", name)
	}
	return nil
}
