package logger

import (
	"bytes"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFieldsAtLevel(t *testing.T) {
	l := NewLogger(uint32(log.InfoLevel))
	var buf bytes.Buffer
	l.SetWriter(&buf)

	l.WithField("anchor", "abc").Infof("stored %d", 1)
	l.Debugf("hidden")

	out := buf.String()
	require.Contains(t, out, "stored 1")
	require.Contains(t, out, "anchor=abc")
	require.False(t, strings.Contains(out, "hidden"))
	require.Equal(t, &buf, l.Writer())
}

func TestGetLogLevel(t *testing.T) {
	lvl, err := GetLogLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, uint32(log.WarnLevel), lvl)

	_, err = GetLogLevel("verbose")
	require.Error(t, err)
}

func TestDiscardLogger(t *testing.T) {
	l := NewDiscard()
	l.Errorf("nothing %s", "here")
	l.WithField("k", "v").Warnf("nothing")
}
