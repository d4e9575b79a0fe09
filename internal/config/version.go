package config

import "fmt"

// CurrentVersion is the config file format this build reads. A file that
// omits version is read as the current format.
const CurrentVersion = 1

// VersionError reports a config file written for another format.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Newer() {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade trialchat", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (current: %d)", e.Version, e.Current)
}

// Newer reports whether the file was written for a later trialchat.
func (e *VersionError) Newer() bool {
	return e != nil && e.Version > e.Current
}

// ValidateVersion accepts 0 (unset) and CurrentVersion.
func ValidateVersion(version int) error {
	if version == 0 || version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion}
}
