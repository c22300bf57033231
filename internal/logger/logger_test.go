package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envMu sync.Mutex

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()

	envMu.Lock()
	t.Cleanup(envMu.Unlock)

	prev := map[string]*string{}
	for k, v := range kv {
		if old, ok := os.LookupEnv(k); ok {
			tmp := old
			prev[k] = &tmp
		} else {
			prev[k] = nil
		}
		_ = os.Setenv(k, v)
	}

	t.Cleanup(func() {
		for k, old := range prev {
			if old == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *old)
			}
		}
	})
}

func TestInitWithWriter(t *testing.T) {
	t.Run("defaults_to_info_console", func(t *testing.T) {
		withEnv(t, map[string]string{"LOG_LEVEL": "", "LOG_FORMAT": "", "LOG_COLOR": "0"})

		var buf bytes.Buffer
		InitWithWriter(&buf)

		assert.Equal(t, "info", Logger.GetLevel().String())
		assert.Equal(t, "info", zlog.Logger.GetLevel().String())

		Logger.Info().Msg("hello")
		out := strings.TrimSpace(buf.String())
		assert.False(t, strings.HasPrefix(out, "{"), "expected console output, got %q", out)
		assert.Contains(t, out, "hello")
	})

	t.Run("invalid_level_falls_back_to_info", func(t *testing.T) {
		withEnv(t, map[string]string{"LOG_LEVEL": "not-a-level", "LOG_FORMAT": "console", "LOG_COLOR": "0"})

		var buf bytes.Buffer
		InitWithWriter(&buf)

		Logger.Debug().Msg("debug-should-not-print")
		Logger.Info().Msg("info-should-print")

		out := buf.String()
		assert.NotContains(t, out, "debug-should-not-print")
		assert.Contains(t, out, "info-should-print")
	})

	t.Run("json_format_carries_service_field", func(t *testing.T) {
		withEnv(t, map[string]string{"LOG_LEVEL": "debug", "LOG_FORMAT": "json"})

		var buf bytes.Buffer
		InitWithWriter(&buf)

		log := Component("redirect")
		log.Debug().Str("slug", "abc123").Msg("cache_hit")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, ServiceName, line["service"])
		assert.Equal(t, "redirect", line["component"])
		assert.Equal(t, "abc123", line["slug"])
		assert.Equal(t, "cache_hit", line["message"])
	})
}
