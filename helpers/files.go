package helpers

import (
	"fmt"
	"os"
	"time"
)

const corruptTimeFormat = "20060102T150405Z"

// MoveAside renames path to "<path>.corrupt-<UTC stamp>" and returns the new
// name. A numeric suffix is added when a copy with the same stamp exists, so
// earlier copies are never replaced.
func MoveAside(path string, now time.Time) (string, error) {
	base := path + ".corrupt-" + now.UTC().Format(corruptTimeFormat)
	target := base
	for i := 2; ; i++ {
		if _, err := os.Lstat(target); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("can't check %s with: %w", target, err)
		}
		target = fmt.Sprintf("%s-%d", base, i)
	}
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}
