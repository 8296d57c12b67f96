package common

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientByType(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError("x", "network dropped")))
	assert.True(t, IsTransient(NewTimeoutError("x", "wait expired", nil)))
	assert.False(t, IsTransient(NewStructuralError("x", "sheet missing")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransientBySignature(t *testing.T) {
	assert.True(t, IsTransient(errors.New("net::ERR_INTERNET_DISCONNECTED")))
	assert.True(t, IsTransient(errors.New("Timeout 30000ms exceeded")))
	assert.True(t, IsTransient(errors.New("navigation interrupted by another navigation")))
	assert.True(t, IsTransient(errors.New("fast search did not yield the ticket")))
	assert.False(t, IsTransient(errors.New("column ID not found")))
}

func TestIsTransientWrapped(t *testing.T) {
	inner := NewTransientError("x", "flaky")
	assert.True(t, IsTransient(fmt.Errorf("attempt 2: %w", inner)))
}

func TestIsLocked(t *testing.T) {
	assert.True(t, IsLocked(NewLockedError("x", "workbook held open")))
	assert.True(t, IsLocked(os.ErrPermission))
	assert.True(t, IsLocked(errors.New("open datos.xlsx: permission denied")))
	assert.True(t, IsLocked(errors.New("The process cannot access the file because it is being used by another process")))
	assert.False(t, IsLocked(errors.New("sheet missing")))
	assert.False(t, IsLocked(nil))
}

func TestCollectorErrorFormatting(t *testing.T) {
	err := NewTimeoutError("apply_click", "operator did not press Apply", []string{"#a", "#b"})
	assert.Contains(t, err.Error(), "timeout:apply_click")
	assert.Contains(t, err.Error(), "#a || #b")

	plain := NewStructuralError("sheet_missing", "sheet not found")
	assert.Contains(t, plain.Error(), "structural:sheet_missing")
}

func TestCollectorErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewStorageError("save", "cannot save").WithCause(cause)
	assert.True(t, errors.Is(err, cause))
}
