package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "defaults", level: "info", format: "json"},
		{name: "debug level", level: "debug", format: "json"},
		{name: "console format", level: "warn", format: "console"},
		{name: "empty format falls back to json", level: "info", format: ""},
		{name: "bad level", level: "banana", format: "json", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.Set("logging.level", tc.level)
			v.Set("logging.format", tc.format)

			logger, err := NewLogger(v)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}
