package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterCarriesFieldsAndLevels(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	log := NewLogrusAdapter(base)

	log.WithField("component", "gateway").Info("started")
	log.WithFields(map[string]interface{}{"status": 200}).Warnf("retry %d", 2)
	log.WithError(assert.AnError).Error("failed")
	log.Debug("detail")
	log.Warn("careful")

	entries := hook.AllEntries()
	require.Len(t, entries, 5)
	assert.Equal(t, "gateway", entries[0].Data["component"])
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "retry 2", entries[1].Message)
	assert.Equal(t, 200, entries[1].Data["status"])
	assert.Equal(t, assert.AnError, entries[2].Data["error"])
	assert.Equal(t, logrus.DebugLevel, entries[3].Level)
	assert.Equal(t, logrus.WarnLevel, entries[4].Level)
}

func TestAdapterFromEntryKeepsFields(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	log := NewLogrusAdapterFromEntry(base.WithField("component", "scheduler"))

	log.Info("ready")

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "scheduler", hook.LastEntry().Data["component"])
}
