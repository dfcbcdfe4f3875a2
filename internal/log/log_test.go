package log

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetOutput_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "debug")
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	Pipeline.Info().Str("txid", "ab").Msg("relayed")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "pipeline", rec["component"])
	require.Equal(t, "ab", rec["txid"])
	require.Equal(t, "relayed", rec["message"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	require.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	require.NoError(t, Init("info", true, path))
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, "info") })

	require.Error(t, Init("info", true, filepath.Join(t.TempDir(), "missing", "x.log")))
}
