package gitsrc

import (
	"errors"
	"net"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Classify translates go-git failures into categorized errors so the retry
// loop and the exit-code mapping can act on them without string parsing
// further up.
func Classify(err error, op, url string) error {
	if err == nil {
		return nil
	}
	if _, ok := wwerrors.As(err); ok {
		return err
	}

	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication required") ||
		strings.Contains(l, "authorization failed") ||
		strings.Contains(l, "invalid credentials") ||
		strings.Contains(l, "access denied"):
		return wrap(err, wwerrors.CategoryAuth, op, url)
	case strings.Contains(l, "repository not found") ||
		strings.Contains(l, "does not exist") ||
		strings.Contains(l, "reference not found"):
		return wrap(err, wwerrors.CategoryNotFound, op, url)
	case strings.Contains(l, "rate limit") ||
		strings.Contains(l, "too many requests"):
		return wrapTransient(err, op, url)
	case strings.Contains(l, "timeout") ||
		strings.Contains(l, "timed out") ||
		strings.Contains(l, "connection refused") ||
		strings.Contains(l, "connection reset") ||
		strings.Contains(l, "no route to host") ||
		strings.Contains(l, "temporary failure") ||
		strings.Contains(l, "unexpected eof"):
		return wrapTransient(err, op, url)
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return wrapTransient(err, op, url)
	}
	return wrap(err, wwerrors.CategoryGit, op, url)
}

func wrap(err error, category wwerrors.Category, op, url string) error {
	return wwerrors.Wrap(err, category, wwerrors.SeverityError, "git "+op+" failed").
		WithContext("op", op).
		WithContext("url", url)
}

func wrapTransient(err error, op, url string) error {
	return wwerrors.WrapRetryable(err, wwerrors.CategoryNetwork, wwerrors.SeverityError, "git "+op+" failed").
		WithContext("op", op).
		WithContext("url", url)
}
