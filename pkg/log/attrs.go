package log

import "log/slog"

func PlanExecutionID[T ~string](id T) slog.Attr {
	return slog.String("plan_execution_id", string(id))
}

func NodeExecutionID[T ~string](id T) slog.Attr {
	return slog.String("node_execution_id", string(id))
}

func CorrelationID[T ~string](id T) slog.Attr {
	return slog.String("correlation_id", string(id))
}

func RestraintID[T ~string](id T) slog.Attr {
	return slog.String("restraint_id", string(id))
}

func ResourceUnit[T ~string](unit T) slog.Attr {
	return slog.String("resource_unit", string(unit))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Mode[T ~string](mode T) slog.Attr {
	return slog.String("mode", string(mode))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
