package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/resilience"
)

var classifyNATSError = resilience.TransientClassifier(func(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionReconnecting)
})
