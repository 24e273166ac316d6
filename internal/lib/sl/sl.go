package sl

import (
	"log/slog"
)

func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("")}
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

// Secret keeps the first 5 characters of a credential so that logs show which
// key was used without leaking it.
func Secret(some string) slog.Attr {
	r := "***"
	if len(some) > 5 {
		r = some[0:5] + "***"
	}
	if some == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   "secret",
		Value: slog.StringValue(r),
	}
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}
