package commands

import (
	"errors"
	"log/slog"

	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/output"
)

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

func (e printedError) Unwrap() error { return e.err }

// cmdErr prints the error envelope, logs the failure with its structured
// context and returns a printedError so Execute does not print it again.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	var pe printedError
	if errors.As(err, &pe) {
		return err
	}

	attrs := []any{"error", err.Error()}
	var rec models.RecoverableError
	if errors.As(err, &rec) {
		attrs = append(attrs, "code", rec.ErrorCode())
		for k, v := range rec.Context() {
			attrs = append(attrs, k, v)
		}
	}
	slog.Error("command error", attrs...)
	_ = output.PrintError(err)
	return printedError{err: err}
}
