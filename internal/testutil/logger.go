package testutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func Logger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Str("service", "damCache").
		Str("env", "test").
		Logger()
}
