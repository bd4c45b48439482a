package logging

import "log/slog"

// Domain identifiers

func User(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

func Conversation(id int64) slog.Attr {
	return slog.Int64("conv_id", id)
}

func Connection(id string) slog.Attr {
	return slog.String("conn_id", id)
}

func Call(id string) slog.Attr {
	return slog.String("call_id", id)
}

func MessageType(t string) slog.Attr {
	return slog.String("type", t)
}

// Request / tracing

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
