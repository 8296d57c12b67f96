package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splynx-collector/internal/common"
)

func TestParseActivityDatetimeParenthesized(t *testing.T) {
	dt, ok := ParseActivityDatetime("hace 2 días (15/03/2025 14:30:00)")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.March, 15, 14, 30, 0, 0, time.UTC), dt)
}

func TestParseActivityDatetimeAMPM(t *testing.T) {
	dt, ok := ParseActivityDatetime("(15/03/2025 2:30:00 PM)")
	require.True(t, ok)
	assert.Equal(t, 14, dt.Hour())
	assert.Equal(t, 30, dt.Minute())
}

func TestParseActivityDatetimePrefersLastCandidate(t *testing.T) {
	// The heading shows relative and absolute forms; the later one wins.
	dt, ok := ParseActivityDatetime("(01/01/2025 08:00:00) actualizado (15/03/2025 14:30:00)")
	require.True(t, ok)
	assert.Equal(t, time.March, dt.Month())
	assert.Equal(t, 15, dt.Day())
}

func TestParseActivityDatetimeBareFallback(t *testing.T) {
	dt, ok := ParseActivityDatetime("cerrado el 15/03/2025 14:30:00 por admin")
	require.True(t, ok)
	assert.Equal(t, 15, dt.Day())
}

func TestParseActivityDatetimeNoMatch(t *testing.T) {
	_, ok := ParseActivityDatetime("sin fecha aquí")
	assert.False(t, ok)
	_, ok = ParseActivityDatetime("")
	assert.False(t, ok)
}

func TestMatchesEscalation(t *testing.T) {
	assert.True(t, matchesEscalation(common.NormText("Admin changed group to Operación y Mantenimiento")))
	assert.True(t, matchesEscalation(common.NormText("cambiado grupo a Operacion y Mantenimiento")))
	assert.False(t, matchesEscalation(common.NormText("changed group to Soporte")))
	assert.False(t, matchesEscalation(common.NormText("mensaje sobre operacion y mantenimiento")))
}

func TestMatchesResolved(t *testing.T) {
	assert.True(t, matchesResolved(common.NormText("Admin changed status to Resuelto")))
	assert.True(t, matchesResolved(common.NormText("cambio estado: Resuelto")))
	assert.True(t, matchesResolved(common.NormText("estado Resuelto")))
	assert.False(t, matchesResolved(common.NormText("el problema quedo irresuelto")))
	assert.False(t, matchesResolved(common.NormText("comentario: ya casi resuelto el tema")))
}

func TestMatchesClosed(t *testing.T) {
	assert.True(t, matchesClosed(common.NormText("Admin changed status to Closed")))
	assert.True(t, matchesClosed(common.NormText("Ticket cerrado por el sistema")))
	assert.True(t, matchesClosed(common.NormText("cambiado estado a Cerrado")))
	// Context required: the word alone is not enough.
	assert.False(t, matchesClosed(common.NormText("archivo cerrado adjunto")))
	assert.False(t, matchesClosed(common.NormText("changed status to Resuelto")))
}

func TestActivityDatetimeLayoutLadder(t *testing.T) {
	cases := map[string]string{
		"(15/03/2025 14:30:00)":   "15/03/2025 14:30",
		"(15/03/2025 2:30:00 PM)": "15/03/2025 14:30",
		"(15/03/2025 2:30:00PM)":  "15/03/2025 14:30",
	}
	for input, want := range cases {
		dt, ok := ParseActivityDatetime(input)
		require.True(t, ok, input)
		assert.Equal(t, want, dt.Format(activityDatetimeLayout), input)
	}
}

func TestMinDuration(t *testing.T) {
	assert.Equal(t, time.Second, minDuration(time.Second, time.Minute))
	assert.Equal(t, time.Second, minDuration(time.Minute, time.Second))
}
