package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/f0mster/netrpc/pkg/interfaces/logger"
)

func TestZerolog(t *testing.T) {
	buf := &bytes.Buffer{}
	l := logger.NewZerolog(zerolog.New(buf))
	l.Error(errors.New("boom"), "call failed", "Calc", "Divide", "b=0")

	line := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "boom", line["error"])
	require.Equal(t, "Calc", line["service"])
	require.Equal(t, "Divide", line["rpc"])
	require.Equal(t, "b=0", line["value"])
	require.Equal(t, "call failed", line["message"])

	buf.Reset()
	l.Critical(errors.New("no adapter"), "start failed", "Calc", "")
	line = map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, true, line["critical"])
}

func TestZap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := logger.NewZap(zap.New(core))
	l.Info("started", "Calc", "")
	l.Warn("slow", "Calc", "Divide")
	require.Equal(t, 2, logs.Len())
	require.Equal(t, "started", logs.All()[0].Message)
	require.Equal(t, "Divide", logs.All()[1].ContextMap()["rpc"])
}

var _ logger.Logger = (*logger.DefaultLogger)(nil)
