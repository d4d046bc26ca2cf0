// Package dispatch hands built records to the transport and reports what
// went out to the operator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/swarm-console/internal/address"
	"github.com/swarm-console/internal/audit"
	"github.com/swarm-console/internal/datagram"
	"github.com/swarm-console/internal/transport"
)

// ErrTransport is the error code for failed encodes and sends
const ErrTransport = "TRANSPORT"

// Error reports a datagram that could not be put on the wire
type Error struct {
	Code   string
	Verb   string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s to %s not sent: %v", e.Verb, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a dispatch failure
func IsTransport(err error) bool {
	var dErr *Error
	return errors.As(err, &dErr)
}

// Auditor records dispatch attempts
type Auditor interface {
	LogDispatch(ctx context.Context, entry audit.AuditEntry, err error, code string)
}

// Dispatcher serializes records and sends each exactly once
type Dispatcher struct {
	codec  datagram.Codec
	sender transport.Sender
	audit  Auditor
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. auditor and logger may be nil.
func NewDispatcher(codec datagram.Codec, sender transport.Sender, auditor Auditor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		codec:  codec,
		sender: sender,
		audit:  auditor,
		logger: logger,
	}
}

// Dispatch sends record with a single transport call and, once the call
// returns, writes an informational echo to out. target is the address the
// operator resolved; the echo and the audit trail report it as given.
func (d *Dispatcher) Dispatch(ctx context.Context, out io.Writer, verb string, to address.Target, record datagram.Record) error {
	target := to.String()

	payload, err := d.codec.Encode(record)
	if err == nil {
		err = d.sender.Send(ctx, payload)
	}

	d.record(ctx, verb, record, target, err)

	if err != nil {
		d.logger.Warn("Dispatch failed",
			zap.String("verb", verb),
			zap.String("target", target),
			zap.Error(err))
		return &Error{Code: ErrTransport, Verb: verb, Target: target, Err: err}
	}

	d.logger.Debug("Dispatched",
		zap.String("verb", verb),
		zap.Stringer("code", record.Code),
		zap.String("target", target),
		zap.Uint32("group", uint32(record.Group)),
		zap.Int("bytes", len(payload)))

	fmt.Fprintf(out, "sent %s %s -> %s (group %d)\n", verb, record.FormatArgs(), target, record.Group)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, verb string, record datagram.Record, target string, err error) {
	if d.audit == nil {
		return
	}
	d.audit.LogDispatch(ctx, audit.AuditEntry{
		Verb:    verb,
		Command: record.Code.String(),
		Target:  target,
		Group:   uint32(record.Group),
		Args:    record.Args,
	}, err, ErrTransport)
}
