package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		wantErr bool
		newer   bool
	}{
		{name: "unset", version: 0},
		{name: "current", version: CurrentVersion},
		{name: "negative", version: -1, wantErr: true},
		{name: "newer", version: CurrentVersion + 1, wantErr: true, newer: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateVersion(%d) error = %v", tt.version, err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateVersion(%d) error = %T %v, want *VersionError", tt.version, err, err)
			}
			if ve.Newer() != tt.newer {
				t.Errorf("Newer() = %v, want %v", ve.Newer(), tt.newer)
			}
			if tt.newer && !strings.Contains(ve.Error(), "newer than this build") {
				t.Errorf("Error() = %q", ve.Error())
			}
		})
	}
}

func TestVersionErrorNilReceiver(t *testing.T) {
	var ve *VersionError
	if ve.Error() != "" || ve.Newer() {
		t.Fatal("nil VersionError should be empty and not newer")
	}
}
