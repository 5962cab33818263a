package loader

import (
	"net/url"

	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// Codes for failures the shared errors package has no code for
const (
	CodeDecodeFailed      errors.ErrorCode = "DECODE_FAILED"
	CodePersistenceFailed errors.ErrorCode = "PERSISTENCE_FAILED"
)

// ErrNoResult is returned by Get when the load resolved without an image.
// Callers cannot tell a missing resource from a network or decode failure.
var ErrNoResult = errors.New(errors.CodeNotFound, "no image for identifier")

// uriChars are the bytes RFC 3986 allows in a URI reference
const uriChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._~:/?#[]@!$&'()*+,;=%"

var uriAllowed [256]bool

func init() {
	for i := 0; i < len(uriChars); i++ {
		uriAllowed[uriChars[i]] = true
	}
}

// ValidateIdentifier checks that id is a well-formed URI reference.
// Relative references are accepted; the transport decides what it can fetch.
func ValidateIdentifier(id string) error {
	if id == "" {
		return errors.New(errors.CodeInvalidInput, "empty identifier")
	}
	for i := 0; i < len(id); i++ {
		if !uriAllowed[id[i]] {
			return errors.WithContext(
				errors.Newf(errors.CodeInvalidInput, "invalid character %q in identifier", id[i]),
				"id", id)
		}
	}
	if _, err := url.Parse(id); err != nil {
		return errors.WithContext(errors.Wrap(err, errors.CodeInvalidInput, "malformed identifier"), "id", id)
	}
	return nil
}

func decodeError(id string, err error) error {
	return errors.WithContext(errors.Wrap(err, CodeDecodeFailed, "decoding payload"), "id", id)
}

func transportError(id string, err error) error {
	return errors.WithContext(errors.Wrap(err, errors.CodeNetwork, "fetching payload"), "id", id)
}

func persistenceError(id string, err error) error {
	return errors.WithContext(errors.Wrap(err, CodePersistenceFailed, "disk store"), "id", id)
}

// report records a recovered failure. Every failure ends up as a nil result
// for the waiters, so this is the only place the cause is visible.
func (l *Loader) report(err error) {
	code := errors.GetCode(err)
	l.metrics.Failures.WithLabelValues(string(code)).Inc()

	entry := logrus.WithField("code", code)
	var perr errors.PlatformError
	if errors.As(err, &perr) {
		for k, v := range perr.Context() {
			entry = entry.WithField(k, v)
		}
	}

	if code == CodePersistenceFailed {
		entry.Debugf("Ignoring disk store failure: %v", err)
		return
	}
	entry.Warnf("Load failed: %v", err)
}
